// Package archive manages the long-term storage lifecycle of preserved
// documents: initial archival, storage tier migration, integrity checks and
// retention expiry. Records are never hard-deleted; expiry removes content
// but keeps the evidentiary metadata.
package archive

import (
	"fmt"
	"time"

	"github.com/evidentia/platform/internal/document"
	"github.com/evidentia/platform/internal/hashing"
	"github.com/evidentia/platform/internal/shared/types"
)

// Tier is the storage class an archived document lives in.
type Tier string

const (
	TierHot     Tier = "hot"
	TierCold    Tier = "cold"
	TierArchive Tier = "archive"
)

// ValidTier reports whether the tier is known.
func ValidTier(t Tier) bool {
	return t == TierHot || t == TierCold || t == TierArchive
}

// Status is the archived document lifecycle state. A record is pending
// until its archival commits; expired records keep their metadata but
// leave all automated sweeps.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusMigrating Status = "migrating"
	StatusExpired   Status = "expired"
	StatusDeleted   Status = "deleted"
)

// ArchivedDocument is the archival record binding stored content to its
// chain, policy and retention window.
type ArchivedDocument struct {
	ID                 types.ID   `json:"id"`
	DocumentID         types.ID   `json:"document_id"`
	TenantID           *types.ID  `json:"tenant_id,omitempty"`
	ChainID            *types.ID  `json:"chain_id,omitempty"`
	PolicyID           *types.ID  `json:"policy_id,omitempty"`
	StorageTier        Tier       `json:"storage_tier"`
	StorageDisk        string     `json:"storage_disk"`
	StoragePath        string     `json:"storage_path"`
	ContentHash        string     `json:"content_hash"`
	ArchiveHash        string     `json:"archive_hash"`
	Status             Status     `json:"status"`
	ResealCount        int        `json:"reseal_count"`
	ArchivedAt         time.Time  `json:"archived_at"`
	NextResealAt       *time.Time `json:"next_reseal_at,omitempty"`
	RetentionExpiresAt time.Time  `json:"retention_expires_at"`
	LastVerifiedAt     *time.Time `json:"last_verified_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ComputeArchiveHash binds the archival record to the document's identity
// and content. The filename is deliberately excluded: renaming a file must
// not invalidate its archive.
func ComputeArchiveHash(doc *document.Document, archivedAt time.Time) string {
	return hashing.HashString(fmt.Sprintf("%s:%s:%d:%d:%d",
		doc.ContentHash, doc.ID, doc.SizeBytes, doc.PageCount, archivedAt.UTC().UnixNano()))
}
