// Package verification is the public-facing trust surface: it re-checks a
// preserved document's integrity from scratch and condenses the outcome
// into a confidence score. Lookups never raise for expected failures; a
// bad code or missing document is a result, not an error.
package verification

import (
	"strings"
	"time"

	"github.com/evidentia/platform/internal/shared/types"
)

// Outcome classifies a lookup. The failure variants are deliberately
// distinct: an expired code, an unknown code and a malformed code each
// mean something different to the person holding it.
type Outcome string

const (
	OutcomeVerified         Outcome = "verified"
	OutcomeFailed           Outcome = "failed"
	OutcomeCodeTooShort     Outcome = "code_too_short"
	OutcomeCodeNotFound     Outcome = "code_not_found"
	OutcomeCodeExpired      Outcome = "code_expired"
	OutcomeDocumentNotFound Outcome = "document_not_found"
)

// Level is the coarse trust classification derived from the score.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Check names, one per independent evidence signal.
const (
	CheckDocumentHash      = "document_hash"
	CheckChainHash         = "chain_hash"
	CheckTimestamp         = "timestamp"
	CheckDeviceFingerprint = "device_fingerprint"
	CheckGeolocation       = "geolocation"
	CheckIPResolution      = "ip_resolution"
	CheckConsent           = "consent"
)

// Check is one scored evidence signal.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Weight int    `json:"weight"`
	Detail string `json:"detail,omitempty"`
}

// Confidence is the aggregated score and its threshold classification.
type Confidence struct {
	Score int   `json:"score"`
	Level Level `json:"level"`
}

// DocumentSummary is the public projection of a verified document. It
// exposes nothing an anonymous verifier should not see.
type DocumentSummary struct {
	ID          types.ID  `json:"id"`
	Type        string    `json:"type"`
	Filename    string    `json:"filename"`
	ContentHash string    `json:"content_hash"`
	SizeBytes   int64     `json:"size_bytes"`
	PageCount   int       `json:"page_count"`
	ArchivedAt  time.Time `json:"archived_at"`
}

// Result is the complete outcome of one verification lookup.
type Result struct {
	Outcome    Outcome          `json:"outcome"`
	Valid      bool             `json:"valid"`
	Confidence Confidence       `json:"confidence"`
	Document   *DocumentSummary `json:"document,omitempty"`
	Checks     []Check          `json:"checks,omitempty"`
	Error      string           `json:"error,omitempty"`
	VerifiedAt time.Time        `json:"verified_at"`
}

// Code is an opaque public handle for verifying one document.
type Code struct {
	Code        string     `json:"code"`
	DocumentID  types.ID   `json:"document_id"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	AccessCount int64      `json:"access_count"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Expired reports whether the code has lapsed. A nil expiry never lapses.
func (c *Code) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// LogEntry records one lookup attempt. The log is append-only: who checked
// the evidence is itself evidence.
type LogEntry struct {
	ID         types.ID  `json:"id"`
	Code       string    `json:"code,omitempty"`
	DocumentID *types.ID `json:"document_id,omitempty"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Result     Outcome   `json:"result"`
	Score      int       `json:"score"`
	VerifiedAt time.Time `json:"verified_at"`
}

// NormalizeCode strips common separators and uppercases. Codes are shown
// to users in grouped form (AB12-CD34-...) and typed back in any shape.
func NormalizeCode(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '_', '.':
			return -1
		}
		return r
	}, raw)
	return strings.ToUpper(strings.TrimSpace(cleaned))
}

// NormalizeHash lowercases a hex digest for cache keys and lookups.
func NormalizeHash(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
