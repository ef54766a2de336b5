package archive

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/go-chi/chi/v5"
)

// Handler exposes archive lifecycle endpoints.
type Handler struct {
	lifecycle *Lifecycle
	repo      Repository
}

// NewHandler creates an archive HTTP handler.
func NewHandler(lifecycle *Lifecycle, repo Repository) *Handler {
	return &Handler{lifecycle: lifecycle, repo: repo}
}

// RegisterRoutes registers archive routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/archive", h.archive)
	r.Get("/archive/{archiveID}", h.get)
	r.Get("/archive/{archiveID}/content", h.content)
	r.Post("/archive/{archiveID}/move", h.moveTier)
	r.Post("/archive/{archiveID}/verify", h.verify)
	r.Post("/archive/{archiveID}/extend", h.extend)
	r.Delete("/archive/{archiveID}", h.softDelete)
}

type archiveRequest struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"` // base64
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.BadRequest("invalid request body"))
		return
	}

	documentID, err := types.ParseID(req.DocumentID)
	if err != nil {
		respondError(w, errors.BadRequest("invalid document id"))
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		respondError(w, errors.BadRequest("content must be base64 encoded"))
		return
	}

	record, err := h.lifecycle.Archive(r.Context(), documentID, content)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, record)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "archiveID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid archive id"))
		return
	}

	a, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *Handler) content(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "archiveID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid archive id"))
		return
	}

	_, content, err := h.lifecycle.Retrieve(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

type moveTierRequest struct {
	Tier string `json:"tier"`
}

func (h *Handler) moveTier(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "archiveID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid archive id"))
		return
	}

	var req moveTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.BadRequest("invalid request body"))
		return
	}

	a, err := h.lifecycle.MoveTier(r.Context(), id, Tier(req.Tier))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "archiveID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid archive id"))
		return
	}

	result, err := h.lifecycle.VerifyIntegrity(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type extendRequest struct {
	Until time.Time `json:"until"`
}

func (h *Handler) extend(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "archiveID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid archive id"))
		return
	}

	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Until.IsZero() {
		respondError(w, errors.BadRequest("until must be an RFC 3339 timestamp"))
		return
	}

	if err := h.lifecycle.ExtendRetention(r.Context(), id, req.Until.UTC()); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) softDelete(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "archiveID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid archive id"))
		return
	}

	if err := h.lifecycle.SoftDelete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
