package chain

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
)

// Repository defines chain and entry storage operations
type Repository interface {
	SaveChain(ctx context.Context, c *Chain) error
	FindChainByID(ctx context.Context, id types.ID) (*Chain, error)
	FindActiveChainByDocument(ctx context.Context, documentID types.ID) (*Chain, error)

	// TransitionStatus atomically moves a chain from one status to another.
	// It reports false when the chain was not in the expected status, which
	// callers treat as a lost race.
	TransitionStatus(ctx context.Context, id types.ID, from, to Status) (bool, error)

	UpdateAfterSeal(ctx context.Context, c *Chain) error
	UpdateVerification(ctx context.Context, id types.ID, status VerificationStatus, at time.Time) error
	SetSuccessor(ctx context.Context, id types.ID, successorID types.ID) error

	// DueForReseal returns active chains whose next seal is due at or
	// before the given time, oldest due first.
	DueForReseal(ctx context.Context, now time.Time, limit int) ([]*Chain, error)

	// DueForVerification returns active chains last verified before the
	// given time, never-verified chains first.
	DueForVerification(ctx context.Context, verifiedBefore time.Time, limit int) ([]*Chain, error)

	SaveEntry(ctx context.Context, e *Entry) error
	EntriesByChain(ctx context.Context, chainID types.ID) ([]*Entry, error)

	// DeleteChain removes a chain and its entries. Used only to compensate
	// an archival that failed before committing.
	DeleteChain(ctx context.Context, id types.ID) error
}

// MemoryRepository is an in-memory chain repository used by tests.
type MemoryRepository struct {
	mu      sync.Mutex
	chains  map[types.ID]*Chain
	entries map[types.ID][]*Entry
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		chains:  make(map[types.ID]*Chain),
		entries: make(map[types.ID][]*Entry),
	}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) SaveChain(ctx context.Context, c *Chain) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *c
	r.chains[c.ID] = &copied
	return nil
}

func (r *MemoryRepository) FindChainByID(ctx context.Context, id types.ID) (*Chain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.chains[id]
	if !ok {
		return nil, errors.NotFound("chain", id.String())
	}
	copied := *c
	return &copied, nil
}

func (r *MemoryRepository) FindActiveChainByDocument(ctx context.Context, documentID types.ID) (*Chain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.chains {
		if c.DocumentID == documentID && c.Status == StatusActive {
			copied := *c
			return &copied, nil
		}
	}
	return nil, errors.NotFound("active chain", documentID.String())
}

func (r *MemoryRepository) TransitionStatus(ctx context.Context, id types.ID, from, to Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.chains[id]
	if !ok {
		return false, errors.NotFound("chain", id.String())
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) UpdateAfterSeal(ctx context.Context, c *Chain) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.chains[c.ID]
	if !ok {
		return errors.NotFound("chain", c.ID.String())
	}
	stored.SealCount = c.SealCount
	stored.LastSealAt = c.LastSealAt
	stored.NextSealDueAt = c.NextSealDueAt
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) UpdateVerification(ctx context.Context, id types.ID, status VerificationStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.chains[id]
	if !ok {
		return errors.NotFound("chain", id.String())
	}
	c.VerificationStatus = status
	c.LastVerifiedAt = &at
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) SetSuccessor(ctx context.Context, id types.ID, successorID types.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.chains[id]
	if !ok {
		return errors.NotFound("chain", id.String())
	}
	c.SuccessorID = &successorID
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) DueForReseal(ctx context.Context, now time.Time, limit int) ([]*Chain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*Chain
	for _, c := range r.chains {
		if c.Status == StatusActive && c.NextSealDueAt != nil && !c.NextSealDueAt.After(now) {
			copied := *c
			due = append(due, &copied)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextSealDueAt.Before(*due[j].NextSealDueAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *MemoryRepository) DueForVerification(ctx context.Context, verifiedBefore time.Time, limit int) ([]*Chain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*Chain
	for _, c := range r.chains {
		if c.Status != StatusActive {
			continue
		}
		if c.LastVerifiedAt == nil || c.LastVerifiedAt.Before(verifiedBefore) {
			copied := *c
			due = append(due, &copied)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].LastVerifiedAt, due[j].LastVerifiedAt
		if a == nil {
			return true
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *MemoryRepository) SaveEntry(ctx context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.entries[e.ChainID] {
		if existing.Sequence == e.Sequence {
			return errors.Conflict("entry sequence already exists")
		}
	}
	copied := *e
	r.entries[e.ChainID] = append(r.entries[e.ChainID], &copied)
	return nil
}

func (r *MemoryRepository) EntriesByChain(ctx context.Context, chainID types.ID) ([]*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := r.entries[chainID]
	out := make([]*Entry, len(stored))
	for i, e := range stored {
		copied := *e
		out[i] = &copied
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (r *MemoryRepository) DeleteChain(ctx context.Context, id types.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chains[id]; !ok {
		return errors.NotFound("chain", id.String())
	}
	delete(r.chains, id)
	delete(r.entries, id)
	return nil
}

// TamperEntry mutates a stored entry in place. Tests use it to simulate
// database-level tampering.
func (r *MemoryRepository) TamperEntry(chainID types.ID, sequence int, mutate func(*Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries[chainID] {
		if e.Sequence == sequence {
			mutate(e)
			return
		}
	}
}
