package verification

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/evidentia/platform/internal/shared/config"
	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/middleware"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/go-chi/chi/v5"
)

// Handler exposes the public verification endpoints. Everything here
// handles untrusted input and must answer with a result object, never a
// raw error.
type Handler struct {
	engine  *Engine
	limiter *middleware.IPRateLimiter
}

// NewHandler creates the public verification handler.
func NewHandler(engine *Engine, cfg config.VerificationConfig) *Handler {
	rps, burst := cfg.RateLimitPerSecond, cfg.RateLimitBurst
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &Handler{
		engine:  engine,
		limiter: middleware.NewIPRateLimiter(rps, burst),
	}
}

// RegisterRoutes registers the public routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(h.limiter.Middleware).Get("/verify/code/{code}", h.verifyByCode)
	r.With(h.limiter.Middleware).Get("/verify/hash/{hash}", h.verifyByHash)
}

// RegisterAdminRoutes registers code issuance, which is not public.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/verification-codes", h.issueCode)
}

func (h *Handler) verifyByCode(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.VerifyByCode(r.Context(), chi.URLParam(r, "code"), middleware.ClientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, err)
		return
	}
	respondResult(w, result)
}

func (h *Handler) verifyByHash(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.VerifyByHash(r.Context(), chi.URLParam(r, "hash"), middleware.ClientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, err)
		return
	}
	respondResult(w, result)
}

type issueCodeRequest struct {
	DocumentID string `json:"document_id"`
	ValidDays  int    `json:"valid_days"`
}

func (h *Handler) issueCode(w http.ResponseWriter, r *http.Request) {
	var req issueCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.BadRequest("invalid request body"))
		return
	}

	documentID, err := types.ParseID(req.DocumentID)
	if err != nil {
		respondError(w, errors.BadRequest("invalid document id"))
		return
	}

	code, err := h.engine.IssueCode(r.Context(), documentID, time.Duration(req.ValidDays)*24*time.Hour)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, code)
}

// respondResult maps a verification result onto the public response
// shape. The HTTP status is always 200; the verdict lives in the body so
// clients treat failure variants as data.
func respondResult(w http.ResponseWriter, result *Result) {
	body := map[string]any{
		"valid": result.Valid,
		"confidence": map[string]any{
			"score": result.Confidence.Score,
			"level": result.Confidence.Level,
		},
		"document":    result.Document,
		"checks":      result.Checks,
		"error":       nil,
		"verified_at": result.VerifiedAt,
	}
	if result.Error != "" {
		body["error"] = result.Error
	}
	respondJSON(w, http.StatusOK, body)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		respondJSON(w, appErr.HTTPStatus, map[string]any{"error": appErr})
		return
	}
	respondJSON(w, http.StatusInternalServerError, map[string]any{
		"error": map[string]string{"message": "internal server error"},
	})
}
