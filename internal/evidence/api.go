package evidence

import (
	"encoding/json"
	"net/http"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/go-chi/chi/v5"
)

// Handler accepts already-captured auxiliary evidence. Capture itself
// happens in external systems; this endpoint only records the artifact.
type Handler struct {
	store Store
}

// NewHandler creates an evidence HTTP handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers evidence routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/documents/{documentID}/evidence", h.record)
	r.Get("/documents/{documentID}/evidence", h.listKinds)
}

type recordRequest struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	documentID, err := types.ParseID(chi.URLParam(r, "documentID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid document id"))
		return
	}

	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.BadRequest("invalid request body"))
		return
	}

	artifact := NewArtifact(DocumentSubject(documentID), Kind(req.Kind), req.Payload)
	if err := h.store.Save(r.Context(), artifact); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, artifact)
}

func (h *Handler) listKinds(w http.ResponseWriter, r *http.Request) {
	documentID, err := types.ParseID(chi.URLParam(r, "documentID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid document id"))
		return
	}

	kinds, err := h.store.Kinds(r.Context(), DocumentSubject(documentID))
	if err != nil {
		respondError(w, err)
		return
	}

	present := make([]Kind, 0, len(kinds))
	for _, kind := range AllKinds {
		if kinds[kind] {
			present = append(present, kind)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"document_id": documentID,
		"kinds":       present,
	})
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
