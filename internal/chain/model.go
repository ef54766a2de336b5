// Package chain maintains hash-chained timestamp seals over preserved
// documents. Each chain binds one document's preserved hash to an ordered
// sequence of RFC 3161 tokens; re-sealing before token expiry keeps the
// evidence verifiable indefinitely.
package chain

import (
	"fmt"
	"strings"
	"time"

	"github.com/evidentia/platform/internal/hashing"
	"github.com/evidentia/platform/internal/shared/types"
)

// Status is the chain lifecycle state. Broken, expired, completed and
// migrated are terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusResealing Status = "resealing"
	StatusBroken    Status = "broken"
	StatusExpired   Status = "expired"
	StatusCompleted Status = "completed"
	StatusMigrated  Status = "migrated"
)

// Terminal reports whether no further seals may be added.
func (s Status) Terminal() bool {
	switch s {
	case StatusBroken, StatusExpired, StatusCompleted, StatusMigrated:
		return true
	}
	return false
}

// ResealReason records why an entry was added.
type ResealReason string

const (
	ReasonInitial           ResealReason = "initial"
	ReasonScheduled         ResealReason = "scheduled"
	ReasonAlgorithmUpgrade  ResealReason = "algorithm_upgrade"
	ReasonCertificateExpiry ResealReason = "certificate_expiry"
	ReasonManual            ResealReason = "manual"
)

// VerificationStatus is the outcome of the last chain verification.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationVerified   VerificationStatus = "verified"
	VerificationFailed     VerificationStatus = "failed"
)

// Chain is the per-document seal chain.
type Chain struct {
	ID                 types.ID           `json:"id"`
	DocumentID         types.ID           `json:"document_id"`
	TenantID           *types.ID          `json:"tenant_id,omitempty"`
	PreservedHash      string             `json:"preserved_hash"`
	HashAlgorithm      string             `json:"hash_algorithm"`
	Status             Status             `json:"status"`
	SealCount          int                `json:"seal_count"`
	LastSealAt         *time.Time         `json:"last_seal_at,omitempty"`
	NextSealDueAt      *time.Time         `json:"next_seal_due_at,omitempty"`
	LastVerifiedAt     *time.Time         `json:"last_verified_at,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	SuccessorID        *types.ID          `json:"successor_id,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// NewChain creates an empty active chain over a preserved hash.
func NewChain(documentID types.ID, tenantID *types.ID, preservedHash string) *Chain {
	now := time.Now().UTC()
	return &Chain{
		ID:                 types.NewID(),
		DocumentID:         documentID,
		TenantID:           tenantID,
		PreservedHash:      preservedHash,
		HashAlgorithm:      hashing.Algorithm,
		Status:             StatusActive,
		VerificationStatus: VerificationUnverified,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Entry is one seal in a chain. CumulativeHash is the imprint that was sent
// to the timestamp authority; it commits to the preserved hash and every
// prior entry. PreviousEntryHash carries the predecessor's cumulative hash,
// empty only at sequence 0.
type Entry struct {
	ID                types.ID     `json:"id"`
	ChainID           types.ID     `json:"chain_id"`
	Sequence          int          `json:"sequence"`
	TokenID           types.ID     `json:"token_id"`
	PreviousEntryID   *types.ID    `json:"previous_entry_id,omitempty"`
	PreviousEntryHash string       `json:"previous_entry_hash,omitempty"`
	CumulativeHash    string       `json:"cumulative_hash"`
	ResealReason      ResealReason `json:"reseal_reason"`
	SealedAt          time.Time    `json:"sealed_at"`
	ExpiresAt         time.Time    `json:"expires_at"`
}

// sealData is the canonical byte representation of an entry that later
// entries and the previous-entry hash commit to. Changing any sealed field
// changes this string and breaks the chain.
func sealData(e *Entry) string {
	return fmt.Sprintf("%s:%s:%d:%d",
		e.CumulativeHash, e.TokenID, e.SealedAt.UTC().UnixNano(), e.Sequence)
}

// NextImprint computes the cumulative hash for the next entry: the hash of
// the preserved hash concatenated with the seal data of every existing
// entry, in sequence order. With no entries this is the hash of the
// preserved hash alone.
func NextImprint(preservedHash string, entries []*Entry) string {
	var b strings.Builder
	b.WriteString(preservedHash)
	for _, e := range entries {
		b.WriteString(sealData(e))
	}
	return hashing.HashString(b.String())
}
