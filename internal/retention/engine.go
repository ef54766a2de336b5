package retention

import (
	"context"
	"time"

	"github.com/evidentia/platform/internal/shared/config"
	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/events"
	"github.com/evidentia/platform/internal/shared/logger"
	"github.com/evidentia/platform/internal/shared/metrics"
	"github.com/evidentia/platform/internal/shared/types"
)

// ExpiryItem is the slice of an archived document the expiry sweep needs.
type ExpiryItem struct {
	ID           types.ID
	TenantID     *types.ID
	DocumentType string
	ArchivedAt   time.Time
	ExpiresAt    time.Time
}

// ExpiryStore is implemented by the archive lifecycle. The retention engine
// decides what happens to an expired document; the store carries it out.
type ExpiryStore interface {
	FindExpiring(ctx context.Context, asOf time.Time, limit int) ([]ExpiryItem, error)
	Archive(ctx context.Context, id types.ID) error
	Delete(ctx context.Context, id types.ID) error
	Extend(ctx context.Context, id types.ID, until time.Time) error
	Notify(ctx context.Context, id types.ID) error
}

// ExpiryReport summarizes an expiry sweep by action taken.
type ExpiryReport struct {
	Processed int               `json:"processed"`
	Archived  int               `json:"archived"`
	Deleted   int               `json:"deleted"`
	Extended  int               `json:"extended"`
	Notified  int               `json:"notified"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Engine resolves retention policies and drives expiry processing.
type Engine struct {
	repo   Repository
	cfg    config.RetentionConfig
	events events.Publisher
}

// NewEngine creates a retention engine.
func NewEngine(repo Repository, cfg config.RetentionConfig, publisher events.Publisher) *Engine {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Engine{repo: repo, cfg: cfg, events: publisher}
}

// MaxYears returns the system-wide retention ceiling.
func (e *Engine) MaxYears() int {
	if e.cfg.MaxYears > 0 {
		return e.cfg.MaxYears
	}
	return 50
}

// PolicyForDocument resolves the effective policy for a document. The
// resolution order is: exact tenant and type match, the tenant default,
// the global default, then the runtime fallback built from configuration.
// Resolution never fails; a document is always covered by some policy.
func (e *Engine) PolicyForDocument(ctx context.Context, tenantID *types.ID, documentType string) (*Policy, error) {
	if tenantID != nil {
		if p, err := e.repo.FindByScope(ctx, tenantID, &documentType); err == nil {
			return p, nil
		} else if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		if p, err := e.repo.FindDefault(ctx, tenantID); err == nil {
			return p, nil
		} else if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
	}

	if p, err := e.repo.FindByScope(ctx, nil, &documentType); err == nil {
		return p, nil
	} else if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	if p, err := e.repo.FindDefault(ctx, nil); err == nil {
		return p, nil
	} else if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	return e.Fallback(), nil
}

// Fallback is the runtime policy used when nothing is persisted. It is
// built fresh from configuration on every call and never written to the
// database.
func (e *Engine) Fallback() *Policy {
	action := ExpiryAction(e.cfg.DefaultExpiryAction)
	if !ValidAction(action) {
		action = ActionArchive
	}
	years := e.cfg.DefaultYears
	if years < 1 && e.cfg.DefaultDays < 1 {
		years = 5
	}
	interval := e.cfg.DefaultResealIntervalDays
	if interval < 1 {
		interval = 365
	}

	return &Policy{
		Name:               "runtime-fallback",
		RetentionYears:     years,
		RetentionDays:      e.cfg.DefaultDays,
		ResealIntervalDays: interval,
		OnExpiryAction:     action,
		IsActive:           true,
		IsDefault:          true,
	}
}

// ExpiresAt applies a policy to an archival time, honoring the ceiling.
func (e *Engine) ExpiresAt(p *Policy, archivedAt time.Time) time.Time {
	return p.ExpiresAt(archivedAt, e.MaxYears())
}

// Extension computes a new expiry by applying the policy's retention span
// again, still capped from the original archival time. The returned bool is
// false when the ceiling leaves no room to extend.
func (e *Engine) Extension(p *Policy, archivedAt, currentExpiry time.Time) (time.Time, bool) {
	extended := currentExpiry.AddDate(p.RetentionYears, 0, p.RetentionDays)
	ceiling := archivedAt.AddDate(e.MaxYears(), 0, 0)
	if extended.After(ceiling) {
		extended = ceiling
	}
	return extended, extended.After(currentExpiry)
}

// ProcessExpiryActions applies each expired document's policy action. One
// failing document never stops the sweep; failures are reported per item.
func (e *Engine) ProcessExpiryActions(ctx context.Context, store ExpiryStore, now time.Time, limit int) (*ExpiryReport, error) {
	items, err := store.FindExpiring(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	report := &ExpiryReport{Errors: make(map[string]string)}
	for _, item := range items {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		policy, err := e.PolicyForDocument(ctx, item.TenantID, item.DocumentType)
		if err != nil {
			report.Errors[item.ID.String()] = err.Error()
			metrics.RecordExpiryAction("resolve", "failure")
			continue
		}

		action, err := e.applyAction(ctx, store, policy, item, policy.OnExpiryAction)
		if err != nil {
			report.Errors[item.ID.String()] = err.Error()
			metrics.RecordExpiryAction(string(action), "failure")
			logger.L().Warnw("expiry action failed",
				"archived_document_id", item.ID,
				"action", action,
				"error", err,
			)
			continue
		}

		report.Processed++
		switch action {
		case ActionArchive:
			report.Archived++
		case ActionDelete:
			report.Deleted++
		case ActionExtend:
			report.Extended++
		case ActionNotify:
			report.Notified++
		}
		metrics.RecordExpiryAction(string(action), "success")

		e.publish(ctx, events.NewEvent(events.TypeRetentionExpired, "retention", map[string]any{
			"archived_document_id": item.ID,
			"action":               action,
			"policy":               policy.Name,
		}).WithTenant(item.TenantID))
	}

	return report, nil
}

// applyAction executes the policy action and returns the action actually
// performed, which differs from the requested one when an extension hits
// the retention ceiling.
func (e *Engine) applyAction(ctx context.Context, store ExpiryStore, policy *Policy, item ExpiryItem, action ExpiryAction) (ExpiryAction, error) {
	switch action {
	case ActionArchive:
		return action, store.Archive(ctx, item.ID)
	case ActionDelete:
		return action, store.Delete(ctx, item.ID)
	case ActionExtend:
		until, ok := e.Extension(policy, item.ArchivedAt, item.ExpiresAt)
		if !ok {
			// Ceiling reached: surface the document instead of silently
			// extending by nothing.
			return ActionNotify, store.Notify(ctx, item.ID)
		}
		return action, store.Extend(ctx, item.ID, until)
	case ActionNotify:
		return action, store.Notify(ctx, item.ID)
	default:
		return action, errors.BadRequest("unknown expiry action: " + string(action))
	}
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if err := e.events.Publish(ctx, event); err != nil {
		logger.L().Warnw("failed to publish event",
			"type", event.Type,
			"error", err,
		)
	}
}
