package archive

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
)

// Repository defines archived document storage operations
type Repository interface {
	Save(ctx context.Context, a *ArchivedDocument) error
	FindByID(ctx context.Context, id types.ID) (*ArchivedDocument, error)
	FindByDocumentID(ctx context.Context, documentID types.ID) (*ArchivedDocument, error)

	// TransitionStatus atomically moves a record between statuses,
	// reporting false on a lost race.
	TransitionStatus(ctx context.Context, id types.ID, from, to Status) (bool, error)

	// Activate commits a pending record, linking its seal chain.
	Activate(ctx context.Context, id types.ID, chainID *types.ID, resealCount int) error

	// Delete removes a record outright. Used only to compensate an
	// archival that failed before committing; committed records are
	// soft-deleted through status transitions.
	Delete(ctx context.Context, id types.ID) error

	UpdateLocation(ctx context.Context, id types.ID, tier Tier, disk, path string) error
	UpdateExpiry(ctx context.Context, id types.ID, until time.Time) error
	MarkVerified(ctx context.Context, id types.ID, at time.Time) error

	// FindExpiring returns active records whose retention lapsed at or
	// before the given time.
	FindExpiring(ctx context.Context, asOf time.Time, limit int) ([]*ArchivedDocument, error)

	// FindForTierMigration returns active records on a tier archived
	// before the cutoff.
	FindForTierMigration(ctx context.Context, tier Tier, archivedBefore time.Time, limit int) ([]*ArchivedDocument, error)
}

// MemoryRepository is an in-memory archive repository used by tests.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[types.ID]*ArchivedDocument
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[types.ID]*ArchivedDocument)}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Save(ctx context.Context, a *ArchivedDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *a
	r.records[a.ID] = &copied
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id types.ID) (*ArchivedDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.records[id]
	if !ok {
		return nil, errors.NotFound("archived document", id.String())
	}
	copied := *a
	return &copied, nil
}

func (r *MemoryRepository) FindByDocumentID(ctx context.Context, documentID types.ID) (*ArchivedDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.records {
		if a.DocumentID == documentID && a.Status != StatusDeleted {
			copied := *a
			return &copied, nil
		}
	}
	return nil, errors.NotFound("archived document", documentID.String())
}

func (r *MemoryRepository) TransitionStatus(ctx context.Context, id types.ID, from, to Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.records[id]
	if !ok {
		return false, errors.NotFound("archived document", id.String())
	}
	if a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) Activate(ctx context.Context, id types.ID, chainID *types.ID, resealCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.records[id]
	if !ok {
		return errors.NotFound("archived document", id.String())
	}
	if a.Status != StatusPending {
		return errors.Conflict("archived document is not pending")
	}
	a.Status = StatusActive
	a.ChainID = chainID
	a.ResealCount = resealCount
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id types.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return errors.NotFound("archived document", id.String())
	}
	delete(r.records, id)
	return nil
}

func (r *MemoryRepository) UpdateLocation(ctx context.Context, id types.ID, tier Tier, disk, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.records[id]
	if !ok {
		return errors.NotFound("archived document", id.String())
	}
	a.StorageTier = tier
	a.StorageDisk = disk
	a.StoragePath = path
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) UpdateExpiry(ctx context.Context, id types.ID, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.records[id]
	if !ok {
		return errors.NotFound("archived document", id.String())
	}
	a.RetentionExpiresAt = until
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) MarkVerified(ctx context.Context, id types.ID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.records[id]
	if !ok {
		return errors.NotFound("archived document", id.String())
	}
	a.LastVerifiedAt = &at
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) FindExpiring(ctx context.Context, asOf time.Time, limit int) ([]*ArchivedDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*ArchivedDocument
	for _, a := range r.records {
		if a.Status == StatusActive && !a.RetentionExpiresAt.After(asOf) {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RetentionExpiresAt.Before(out[j].RetentionExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) FindForTierMigration(ctx context.Context, tier Tier, archivedBefore time.Time, limit int) ([]*ArchivedDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*ArchivedDocument
	for _, a := range r.records {
		if a.Status == StatusActive && a.StorageTier == tier && a.ArchivedAt.Before(archivedBefore) {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArchivedAt.Before(out[j].ArchivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
