package retention

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/evidentia/platform/internal/audit"
	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/logger"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/go-chi/chi/v5"
)

// AuditLog records policy administration on the audit trail.
type AuditLog interface {
	Record(ctx context.Context, resourceType string, resourceID types.ID, actor, action string, detail map[string]any) (*audit.Entry, error)
}

// Handler exposes retention policy administration endpoints.
type Handler struct {
	engine  *Engine
	repo    Repository
	auditor AuditLog
}

// NewHandler creates a retention HTTP handler. A nil auditor disables audit
// recording.
func NewHandler(engine *Engine, repo Repository, auditor AuditLog) *Handler {
	return &Handler{engine: engine, repo: repo, auditor: auditor}
}

func (h *Handler) recordAudit(ctx context.Context, policyID types.ID, action string, detail map[string]any) {
	if h.auditor == nil {
		return
	}
	if _, err := h.auditor.Record(ctx, "policy", policyID, "admin", action, detail); err != nil {
		logger.L().Warnw("failed to record audit entry",
			"action", action,
			"policy_id", policyID,
			"error", err,
		)
	}
}

// RegisterRoutes registers retention routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/retention/policies", h.createPolicy)
	r.Get("/retention/policies", h.listPolicies)
	r.Get("/retention/policies/{policyID}", h.getPolicy)
	r.Delete("/retention/policies/{policyID}", h.deactivatePolicy)
	r.Get("/retention/resolve", h.resolve)
}

type createPolicyRequest struct {
	TenantID             *string `json:"tenant_id"`
	DocumentType         *string `json:"document_type"`
	Name                 string  `json:"name"`
	RetentionYears       int     `json:"retention_years"`
	RetentionDays        int     `json:"retention_days"`
	ArchiveAfterDays     *int    `json:"archive_after_days"`
	DeepArchiveAfterDays *int    `json:"deep_archive_after_days"`
	ResealIntervalDays   int     `json:"reseal_interval_days"`
	ResealLeadDays       int     `json:"reseal_lead_days"`
	OnExpiryAction       string  `json:"on_expiry_action"`
	RequirePDFA          bool    `json:"require_pdfa"`
	IsDefault            bool    `json:"is_default"`
	Priority             int     `json:"priority"`
}

func (h *Handler) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.BadRequest("invalid request body"))
		return
	}

	details := map[string]string{}
	if req.Name == "" {
		details["name"] = "required"
	}
	if req.RetentionYears < 0 || req.RetentionDays < 0 {
		details["retention"] = "must not be negative"
	}
	if req.RetentionYears == 0 && req.RetentionDays == 0 {
		details["retention"] = "must be positive"
	}
	if req.RetentionYears > h.engine.MaxYears() {
		details["retention_years"] = "exceeds system ceiling"
	}
	if !ValidAction(ExpiryAction(req.OnExpiryAction)) {
		details["on_expiry_action"] = "must be archive, delete, extend or notify"
	}
	if len(details) > 0 {
		respondError(w, errors.Validation("invalid retention policy", details))
		return
	}

	var tenantID *types.ID
	if req.TenantID != nil {
		id, err := types.ParseID(*req.TenantID)
		if err != nil {
			respondError(w, errors.BadRequest("invalid tenant id"))
			return
		}
		tenantID = &id
	}

	p := &Policy{
		ID:                   types.NewID(),
		TenantID:             tenantID,
		DocumentType:         req.DocumentType,
		Name:                 req.Name,
		RetentionYears:       req.RetentionYears,
		RetentionDays:        req.RetentionDays,
		ArchiveAfterDays:     req.ArchiveAfterDays,
		DeepArchiveAfterDays: req.DeepArchiveAfterDays,
		ResealIntervalDays:   req.ResealIntervalDays,
		ResealLeadDays:       req.ResealLeadDays,
		OnExpiryAction:       ExpiryAction(req.OnExpiryAction),
		RequirePDFA:          req.RequirePDFA,
		IsActive:             true,
		IsDefault:            req.IsDefault,
		Priority:             req.Priority,
		CreatedAt:            time.Now().UTC(),
	}

	if err := h.repo.Save(r.Context(), p); err != nil {
		respondError(w, err)
		return
	}
	h.recordAudit(r.Context(), p.ID, audit.ActionPolicyCreated, map[string]any{
		"name":             p.Name,
		"on_expiry_action": string(p.OnExpiryAction),
	})
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.repo.FindAll(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"policies": policies,
		"count":    len(policies),
	})
}

func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	policyID, err := types.ParseID(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid policy id"))
		return
	}

	p, err := h.repo.FindByID(r.Context(), policyID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) deactivatePolicy(w http.ResponseWriter, r *http.Request) {
	policyID, err := types.ParseID(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, errors.BadRequest("invalid policy id"))
		return
	}

	if err := h.repo.Deactivate(r.Context(), policyID); err != nil {
		respondError(w, err)
		return
	}
	h.recordAudit(r.Context(), policyID, audit.ActionPolicyDeactivated, nil)
	w.WriteHeader(http.StatusNoContent)
}

// resolve answers which policy would govern a hypothetical document.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	documentType := r.URL.Query().Get("document_type")
	if documentType == "" {
		respondError(w, errors.BadRequest("document_type is required"))
		return
	}

	var tenantID *types.ID
	if raw := r.URL.Query().Get("tenant_id"); raw != "" {
		id, err := types.ParseID(raw)
		if err != nil {
			respondError(w, errors.BadRequest("invalid tenant id"))
			return
		}
		tenantID = &id
	}

	p, err := h.engine.PolicyForDocument(r.Context(), tenantID, documentType)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
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
