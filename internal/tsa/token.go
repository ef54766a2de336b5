package tsa

import (
	"time"

	"github.com/evidentia/platform/internal/shared/types"
)

// TokenStatus tracks the lifecycle of an issued timestamp token.
type TokenStatus string

const (
	TokenStatusPending TokenStatus = "pending"
	TokenStatusValid   TokenStatus = "valid"
	TokenStatusInvalid TokenStatus = "invalid"
	TokenStatusExpired TokenStatus = "expired"
)

// Token is a persisted RFC 3161 timestamp token. Raw holds the DER-encoded
// token exactly as issued; it is the legally relevant artifact and is never
// re-encoded.
type Token struct {
	ID            types.ID    `json:"id"`
	Provider      string      `json:"provider"`
	HashedMessage string      `json:"hashed_message"`
	SerialNumber  uint64      `json:"serial_number"`
	IssuedAt      time.Time   `json:"issued_at"`
	ExpiresAt     time.Time   `json:"expires_at"`
	Status        TokenStatus `json:"status"`
	Raw           []byte      `json:"-"`
	VerifiedAt    *time.Time  `json:"verified_at,omitempty"`
}

// IsExpired reports whether the token's assumed validity has lapsed.
func (t *Token) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// ExpiresWithin reports whether the token expires inside the given window.
func (t *Token) ExpiresWithin(now time.Time, window time.Duration) bool {
	return now.Add(window).After(t.ExpiresAt)
}

// MarkVerified records a successful verification.
func (t *Token) MarkVerified(at time.Time) {
	t.Status = TokenStatusValid
	t.VerifiedAt = &at
}
