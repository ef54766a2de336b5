package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	tsaRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsa_requests_total",
			Help: "Total number of TSA timestamp requests",
		},
		[]string{"provider", "outcome"},
	)

	tsaRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tsa_request_duration_seconds",
			Help:    "TSA provider round trip duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	chainResealsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_reseals_total",
			Help: "Total number of chain reseal operations",
		},
		[]string{"reason", "outcome"},
	)

	chainsBrokenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chains_broken_total",
			Help: "Total number of chains marked broken by verification",
		},
	)

	chainVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_verifications_total",
			Help: "Total number of chain verifications",
		},
		[]string{"outcome"},
	)

	documentsArchivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "documents_archived_total",
			Help: "Total number of documents archived",
		},
		[]string{"tier"},
	)

	tierMigrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tier_migrations_total",
			Help: "Total number of storage tier migrations",
		},
		[]string{"from", "to", "outcome"},
	)

	expiryActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_expiry_actions_total",
			Help: "Total number of retention expiry actions executed",
		},
		[]string{"action", "outcome"},
	)

	publicVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "public_verifications_total",
			Help: "Total number of public verification lookups",
		},
		[]string{"lookup", "result"},
	)

	confidenceScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verification_confidence_score",
			Help:    "Distribution of verification confidence scores",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordTSARequest records a TSA round trip
func RecordTSARequest(provider, outcome string, duration time.Duration) {
	tsaRequestsTotal.WithLabelValues(provider, outcome).Inc()
	tsaRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordReseal records a chain reseal attempt
func RecordReseal(reason, outcome string) {
	chainResealsTotal.WithLabelValues(reason, outcome).Inc()
}

// RecordChainBroken records a chain transitioning to broken
func RecordChainBroken() {
	chainsBrokenTotal.Inc()
}

// RecordChainVerification records a chain verification result
func RecordChainVerification(valid bool) {
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	chainVerificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordDocumentArchived records a completed archive operation
func RecordDocumentArchived(tier string) {
	documentsArchivedTotal.WithLabelValues(tier).Inc()
}

// RecordTierMigration records a tier migration attempt
func RecordTierMigration(from, to, outcome string) {
	tierMigrationsTotal.WithLabelValues(from, to, outcome).Inc()
}

// RecordExpiryAction records a retention expiry action
func RecordExpiryAction(action, outcome string) {
	expiryActionsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordPublicVerification records a public verification lookup
func RecordPublicVerification(lookup, result string, score int) {
	publicVerificationsTotal.WithLabelValues(lookup, result).Inc()
	confidenceScore.Observe(float64(score))
}
