// Package retention resolves and enforces document retention policies:
// how long evidence must be kept, when it moves to cheaper storage, how
// often its chain is resealed and what happens when retention lapses.
package retention

import (
	"time"

	"github.com/evidentia/platform/internal/shared/types"
)

// ExpiryAction is what happens to a document when its retention lapses.
type ExpiryAction string

const (
	ActionArchive ExpiryAction = "archive"
	ActionDelete  ExpiryAction = "delete"
	ActionExtend  ExpiryAction = "extend"
	ActionNotify  ExpiryAction = "notify"
)

// ValidAction reports whether the action is one of the known expiry actions.
func ValidAction(a ExpiryAction) bool {
	switch a {
	case ActionArchive, ActionDelete, ActionExtend, ActionNotify:
		return true
	}
	return false
}

// Policy is a retention rule. TenantID and DocumentType scope it; both nil
// means a global policy. Higher priority wins among equally specific
// matches.
type Policy struct {
	ID                   types.ID     `json:"id"`
	TenantID             *types.ID    `json:"tenant_id,omitempty"`
	DocumentType         *string      `json:"document_type,omitempty"`
	Name                 string       `json:"name"`
	RetentionYears       int          `json:"retention_years"`
	RetentionDays        int          `json:"retention_days"`
	ArchiveAfterDays     *int         `json:"archive_after_days,omitempty"`
	DeepArchiveAfterDays *int         `json:"deep_archive_after_days,omitempty"`
	ResealIntervalDays   int          `json:"reseal_interval_days"`
	ResealLeadDays       int          `json:"reseal_lead_days"`
	OnExpiryAction       ExpiryAction `json:"on_expiry_action"`
	RequirePDFA          bool         `json:"require_pdfa"`
	IsActive             bool         `json:"is_active"`
	IsDefault            bool         `json:"is_default"`
	Priority             int          `json:"priority"`
	CreatedAt            time.Time    `json:"created_at"`
}

// RetentionPeriod returns the policy's configured retention span.
func (p *Policy) RetentionPeriod() (years, days int) {
	return p.RetentionYears, p.RetentionDays
}

// ExpiresAt computes the retention expiry for a document archived at the
// given time, never past the system ceiling.
func (p *Policy) ExpiresAt(archivedAt time.Time, maxYears int) time.Time {
	expiry := archivedAt.AddDate(p.RetentionYears, 0, p.RetentionDays)
	ceiling := archivedAt.AddDate(maxYears, 0, 0)
	if expiry.After(ceiling) {
		return ceiling
	}
	return expiry
}

// NextResealAt computes the first scheduled reseal after archival.
func (p *Policy) NextResealAt(archivedAt time.Time) time.Time {
	interval := p.ResealIntervalDays
	if interval < 1 {
		interval = 365
	}
	return archivedAt.AddDate(0, 0, interval)
}
