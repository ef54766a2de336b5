package chain

import (
	"encoding/json"
	"net/http"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/go-chi/chi/v5"
)

// Handler exposes chain administration endpoints.
type Handler struct {
	engine *Engine
	repo   Repository
}

// NewHandler creates a chain HTTP handler.
func NewHandler(engine *Engine, repo Repository) *Handler {
	return &Handler{engine: engine, repo: repo}
}

// RegisterRoutes registers chain routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chains", h.initializeChain)
	r.Get("/chains/{chainID}", h.getChain)
	r.Get("/chains/{chainID}/entries", h.listEntries)
	r.Post("/chains/{chainID}/reseal", h.reseal)
	r.Post("/chains/{chainID}/verify", h.verify)
}

type initializeChainRequest struct {
	DocumentID string `json:"document_id"`
}

func (h *Handler) initializeChain(w http.ResponseWriter, r *http.Request) {
	var req initializeChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.BadRequest("invalid request body"))
		return
	}

	documentID, err := types.ParseID(req.DocumentID)
	if err != nil {
		respondError(w, errors.BadRequest("invalid document id"))
		return
	}

	c, err := h.engine.InitializeChain(r.Context(), documentID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (h *Handler) getChain(w http.ResponseWriter, r *http.Request) {
	chainID, err := types.ParseID(chi.URLParam(r, "chainID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid chain id"))
		return
	}

	c, err := h.repo.FindChainByID(r.Context(), chainID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	chainID, err := types.ParseID(chi.URLParam(r, "chainID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid chain id"))
		return
	}

	entries, err := h.repo.EntriesByChain(r.Context(), chainID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chain_id": chainID,
		"entries":  entries,
		"count":    len(entries),
	})
}

type resealRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) reseal(w http.ResponseWriter, r *http.Request) {
	chainID, err := types.ParseID(chi.URLParam(r, "chainID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid chain id"))
		return
	}

	reason := ReasonManual
	var req resealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Reason != "" {
		switch ResealReason(req.Reason) {
		case ReasonScheduled, ReasonAlgorithmUpgrade, ReasonCertificateExpiry, ReasonManual:
			reason = ResealReason(req.Reason)
		default:
			respondError(w, errors.BadRequest("unknown reseal reason"))
			return
		}
	}

	entry, err := h.engine.Reseal(r.Context(), chainID, reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	chainID, err := types.ParseID(chi.URLParam(r, "chainID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid chain id"))
		return
	}

	result, err := h.engine.VerifyChain(r.Context(), chainID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
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
