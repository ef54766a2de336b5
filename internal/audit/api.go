package audit

import (
	"encoding/json"
	"net/http"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/go-chi/chi/v5"
)

// Handler exposes audit trail administration endpoints.
type Handler struct {
	recorder     *Recorder
	checkpointer *Checkpointer
	repo         Repository
}

// NewHandler creates an audit HTTP handler.
func NewHandler(recorder *Recorder, checkpointer *Checkpointer, repo Repository) *Handler {
	return &Handler{recorder: recorder, checkpointer: checkpointer, repo: repo}
}

// RegisterRoutes registers audit routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/audit/{resourceType}/{resourceID}", h.listEntries)
	r.Post("/audit/{resourceType}/{resourceID}/verify", h.verifyChain)
	r.Post("/audit/{resourceType}/{resourceID}/checkpoint", h.checkpoint)
	r.Get("/audit/{resourceType}/{resourceID}/checkpoint", h.lastCheckpoint)
}

func resourceParams(r *http.Request) (string, types.ID, error) {
	resourceID, err := types.ParseID(chi.URLParam(r, "resourceID"))
	if err != nil {
		return "", "", errors.BadRequest("invalid resource id")
	}
	return chi.URLParam(r, "resourceType"), resourceID, nil
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	resourceType, resourceID, err := resourceParams(r)
	if err != nil {
		respondError(w, err)
		return
	}

	entries, err := h.repo.Entries(r.Context(), resourceType, resourceID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"resource_type": resourceType,
		"resource_id":   resourceID,
		"entries":       entries,
		"count":         len(entries),
	})
}

func (h *Handler) verifyChain(w http.ResponseWriter, r *http.Request) {
	resourceType, resourceID, err := resourceParams(r)
	if err != nil {
		respondError(w, err)
		return
	}

	result, err := h.recorder.VerifyChain(r.Context(), resourceType, resourceID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) checkpoint(w http.ResponseWriter, r *http.Request) {
	resourceType, resourceID, err := resourceParams(r)
	if err != nil {
		respondError(w, err)
		return
	}

	checkpoint, err := h.checkpointer.Checkpoint(r.Context(), resourceType, resourceID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, checkpoint)
}

func (h *Handler) lastCheckpoint(w http.ResponseWriter, r *http.Request) {
	resourceType, resourceID, err := resourceParams(r)
	if err != nil {
		respondError(w, err)
		return
	}

	checkpoint, err := h.repo.LastCheckpoint(r.Context(), resourceType, resourceID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, checkpoint)
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
