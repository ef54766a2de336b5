package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/evidentia/platform/internal/archive"
	"github.com/evidentia/platform/internal/audit"
	"github.com/evidentia/platform/internal/chain"
	"github.com/evidentia/platform/internal/document"
	"github.com/evidentia/platform/internal/evidence"
	"github.com/evidentia/platform/internal/retention"
	"github.com/evidentia/platform/internal/scheduler"
	"github.com/evidentia/platform/internal/shared/auth"
	"github.com/evidentia/platform/internal/shared/config"
	"github.com/evidentia/platform/internal/shared/database"
	"github.com/evidentia/platform/internal/shared/events"
	"github.com/evidentia/platform/internal/shared/logger"
	"github.com/evidentia/platform/internal/shared/metrics"
	secmiddleware "github.com/evidentia/platform/internal/shared/middleware"
	"github.com/evidentia/platform/internal/storage"
	"github.com/evidentia/platform/internal/tsa"
	"github.com/evidentia/platform/internal/verification"
)

// App holds the application dependencies main wires together.
type App struct {
	Config *config.Config
	DB     *database.DB
	Bus    *events.Bus
	Redis  *redis.Client
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.L()

	app := &App{Config: cfg}

	// Database is optional in development: without it every repository
	// falls back to its in-memory implementation.
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Warnw("database not available, using in-memory repositories", "error", err)
	} else {
		app.DB = db
		defer db.Close()
		if err := database.Migrate(ctx, db.Pool); err != nil {
			log.Fatalw("migration failed", "error", err)
		}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.EventStore.Enabled {
		bus, err := events.NewBus(ctx, cfg.EventStore)
		if err != nil {
			log.Warnw("event store not available, events disabled", "error", err)
		} else {
			app.Bus = bus
			publisher = bus
			defer bus.Close()
		}
	}

	var cache verification.Cache = verification.NewMemoryCache()
	if cfg.Redis.Enabled {
		app.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = verification.NewRedisCache(app.Redis)
		defer app.Redis.Close()
	}

	disks, err := buildDisks(ctx, cfg.Archive)
	if err != nil {
		log.Fatalw("failed to initialize storage disks", "error", err)
	}

	sealer, err := buildTSAClient(cfg.TSA)
	if err != nil {
		log.Fatalw("failed to initialize timestamp authority", "error", err)
	}

	// Repositories
	var (
		docRepo      document.Repository
		tokenRepo    tsa.TokenRepository
		chainRepo    chain.Repository
		policyRepo   retention.Repository
		archiveRepo  archive.Repository
		auditRepo    audit.Repository
		artifactRepo evidence.Store
		verifyRepo   verification.Repository
	)
	if app.DB != nil {
		docRepo = document.NewPostgresRepository(app.DB.Pool)
		tokenRepo = tsa.NewPostgresTokenRepository(app.DB.Pool)
		chainRepo = chain.NewPostgresRepository(app.DB.Pool)
		policyRepo = retention.NewPostgresRepository(app.DB.Pool)
		archiveRepo = archive.NewPostgresRepository(app.DB.Pool)
		auditRepo = audit.NewPostgresRepository(app.DB.Pool)
		artifactRepo = evidence.NewPostgresStore(app.DB.Pool)
		verifyRepo = verification.NewPostgresRepository(app.DB.Pool)
	} else {
		docRepo = document.NewMemoryRepository()
		tokenRepo = tsa.NewMemoryTokenRepository()
		chainRepo = chain.NewMemoryRepository()
		policyRepo = retention.NewMemoryRepository()
		archiveRepo = archive.NewMemoryRepository()
		auditRepo = audit.NewMemoryRepository()
		artifactRepo = evidence.NewMemoryStore()
		verifyRepo = verification.NewMemoryRepository()
	}

	// Engines. The audit recorder comes first; every engine writes its
	// operations onto the audit trail.
	recorder := audit.NewRecorder(auditRepo)
	checkpointer := audit.NewCheckpointer(auditRepo, sealer)
	retentionEngine := retention.NewEngine(policyRepo, cfg.Retention, publisher)
	chainEngine := chain.NewEngine(chainRepo, tokenRepo, docRepo, sealer, cfg.TSA, publisher, recorder)
	lifecycle := archive.NewLifecycle(archiveRepo, docRepo, disks, chainEngine, retentionEngine, cfg.Archive, publisher, recorder)
	verifyEngine := verification.NewEngine(
		cfg.Verification, verifyRepo, docRepo, archiveRepo,
		lifecycle, chainEngine, recorder, artifactRepo, cache,
	)

	// Background sweeps
	sweeps := scheduler.New(chainEngine, lifecycle, retentionEngine, lifecycle.ExpiryStore(), scheduler.DefaultConfig())
	sweeps.Start(ctx)
	defer sweeps.Stop()

	// Handlers
	verifyHandler := verification.NewHandler(verifyEngine, cfg.Verification)
	documentHandler := document.NewHandler(docRepo)
	evidenceHandler := evidence.NewHandler(artifactRepo)
	chainHandler := chain.NewHandler(chainEngine, chainRepo)
	retentionHandler := retention.NewHandler(retentionEngine, policyRepo, recorder)
	archiveHandler := archive.NewHandler(lifecycle, archiveRepo)
	auditHandler := audit.NewHandler(recorder, checkpointer, auditRepo)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.MaxBodySize(64 << 20))
	r.Use(metrics.Middleware)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// Public verification surface; rate-limited per IP inside the
		// handler.
		verifyHandler.RegisterRoutes(r)

		r.Route("/admin", func(r chi.Router) {
			if cfg.Server.Env == "production" {
				r.Use(auth.Middleware(cfg.Auth))
			}
			documentHandler.RegisterRoutes(r)
			evidenceHandler.RegisterRoutes(r)
			chainHandler.RegisterRoutes(r)
			retentionHandler.RegisterRoutes(r)
			archiveHandler.RegisterRoutes(r)
			auditHandler.RegisterRoutes(r)
			verifyHandler.RegisterAdminRoutes(r)
			registerSweepRoutes(r, chainEngine, lifecycle, retentionEngine)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Infow("shutting down")

		sweeps.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("server shutdown error", "error", err)
		}
		close(done)
	}()

	log.Infow("evidence preservation platform started",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"database", app.DB != nil,
		"event_store", app.Bus != nil,
		"redis", app.Redis != nil,
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalw("server error", "error", err)
	}

	<-done
	log.Infow("server stopped")
}

// buildDisks wires one storage backend per configured disk name. A name
// of "s3" selects the object store; anything else becomes a local
// directory under the archive root.
func buildDisks(ctx context.Context, cfg config.ArchiveConfig) (*storage.Manager, error) {
	manager := storage.NewManager(nil)

	names := map[string]bool{}
	for _, name := range []string{cfg.HotDisk, cfg.ColdDisk, cfg.ArchiveDisk} {
		if name == "" || names[name] {
			continue
		}
		names[name] = true

		if name == "s3" {
			if cfg.S3Bucket == "" {
				return nil, fmt.Errorf("disk %q requires an S3 bucket", name)
			}
			disk, err := storage.NewS3Disk(ctx, storage.S3Config{
				Bucket:   cfg.S3Bucket,
				Region:   cfg.S3Region,
				Endpoint: cfg.S3Endpoint,
				Prefix:   cfg.S3Prefix,
			})
			if err != nil {
				return nil, err
			}
			manager.Register(name, disk)
			continue
		}

		disk, err := storage.NewLocalDisk(cfg.LocalRoot + "/" + name)
		if err != nil {
			return nil, err
		}
		manager.Register(name, disk)
	}
	return manager, nil
}

// buildTSAClient assembles the timestamp client: external providers when
// configured, with the in-process authority as the last fallback.
func buildTSAClient(cfg config.TSAConfig) (*tsa.Client, error) {
	var server *tsa.Server
	var err error
	if cfg.CertPath != "" && cfg.KeyPath != "" {
		serverCfg := tsa.DefaultServerConfig()
		if err := serverCfg.LoadCertificate(cfg.CertPath, cfg.KeyPath); err != nil {
			return nil, err
		}
		server, err = tsa.NewServer(serverCfg)
	} else {
		server, err = tsa.NewServerWithGeneratedCert(cfg.OrgName)
	}
	if err != nil {
		return nil, err
	}

	var providers []tsa.Provider
	if cfg.PrimaryURL != "" {
		providers = append(providers, tsa.NewHTTPProvider("primary", cfg.PrimaryURL, nil))
	}
	if cfg.FallbackURL != "" {
		providers = append(providers, tsa.NewHTTPProvider("fallback", cfg.FallbackURL, nil))
	}
	providers = append(providers, tsa.NewLocalProvider(server))

	return tsa.NewClient(cfg, providers...), nil
}

type sweepRequest struct {
	Limit int `json:"limit"`
}

// registerSweepRoutes exposes manual triggers for the background sweeps
// so operators can run a batch outside its schedule.
func registerSweepRoutes(r chi.Router, chains *chain.Engine, lifecycle *archive.Lifecycle, ret *retention.Engine) {
	limit := func(req sweepRequest) int {
		if req.Limit > 0 {
			return req.Limit
		}
		return 100
	}

	r.Post("/sweeps/reseal", func(w http.ResponseWriter, req *http.Request) {
		var body sweepRequest
		json.NewDecoder(req.Body).Decode(&body)
		result, err := chains.ResealDueChains(req.Context(), time.Now().UTC(), limit(body))
		respondSweep(w, result, err)
	})
	r.Post("/sweeps/tier-migration", func(w http.ResponseWriter, req *http.Request) {
		var body sweepRequest
		json.NewDecoder(req.Body).Decode(&body)
		result, err := lifecycle.MigrateTiers(req.Context(), time.Now().UTC(), limit(body))
		respondSweep(w, result, err)
	})
	r.Post("/sweeps/expiry", func(w http.ResponseWriter, req *http.Request) {
		var body sweepRequest
		json.NewDecoder(req.Body).Decode(&body)
		report, err := ret.ProcessExpiryActions(req.Context(), lifecycle.ExpiryStore(), time.Now().UTC(), limit(body))
		respondSweep(w, report, err)
	})
	r.Post("/sweeps/reverify", func(w http.ResponseWriter, req *http.Request) {
		var body sweepRequest
		json.NewDecoder(req.Body).Decode(&body)
		result, err := chains.ReverifyChains(req.Context(), time.Now().UTC(), limit(body))
		respondSweep(w, result, err)
	})
}

func respondSweep(w http.ResponseWriter, result any, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(result)
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "Evidentia Preservation Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"server": "ready"}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["event_store"] = "not ready: " + err.Error()
			} else {
				checks["event_store"] = "ready"
			}
		} else {
			checks["event_store"] = "not configured"
		}

		if app.Redis != nil {
			if err := app.Redis.Ping(r.Context()).Err(); err != nil {
				checks["redis"] = "not ready: " + err.Error()
			} else {
				checks["redis"] = "ready"
			}
		} else {
			checks["redis"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
