package document

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/go-chi/chi/v5"
)

// Handler exposes document registration endpoints. Registration accepts
// already-validated content; the upload pipeline lives outside this
// system.
type Handler struct {
	repo Repository
}

// NewHandler creates a document HTTP handler.
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes registers document routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/documents", h.register)
	r.Get("/documents/{documentID}", h.get)
}

type registerRequest struct {
	TenantID  string `json:"tenant_id,omitempty"`
	Type      string `json:"type"`
	Filename  string `json:"filename"`
	Content   string `json:"content"`
	PageCount int    `json:"page_count"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.BadRequest("invalid request body"))
		return
	}

	var tenantID *types.ID
	if req.TenantID != "" {
		id, err := types.ParseID(req.TenantID)
		if err != nil {
			respondError(w, errors.BadRequest("invalid tenant id"))
			return
		}
		tenantID = &id
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		respondError(w, errors.BadRequest("content must be base64 encoded"))
		return
	}

	doc, err := New(tenantID, DocumentType(req.Type), req.Filename, content, req.PageCount)
	if err != nil {
		respondError(w, errors.BadRequest(err.Error()))
		return
	}

	if err := h.repo.Save(r.Context(), doc); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	documentID, err := types.ParseID(chi.URLParam(r, "documentID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid document id"))
		return
	}

	doc, err := h.repo.FindByID(r.Context(), documentID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
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
