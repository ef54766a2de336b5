package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
)

// Repository defines audit storage operations
type Repository interface {
	SaveEntry(ctx context.Context, e *Entry) error

	// LastEntry returns the newest entry for a resource, or a not-found
	// error for an empty chain.
	LastEntry(ctx context.Context, resourceType string, resourceID types.ID) (*Entry, error)

	// Entries returns a resource's full chain in sequence order.
	Entries(ctx context.Context, resourceType string, resourceID types.ID) ([]*Entry, error)

	SaveCheckpoint(ctx context.Context, c *Checkpoint) error
	LastCheckpoint(ctx context.Context, resourceType string, resourceID types.ID) (*Checkpoint, error)
}

type resourceKey struct {
	resourceType string
	resourceID   types.ID
}

// MemoryRepository is an in-memory audit repository used by tests.
type MemoryRepository struct {
	mu          sync.Mutex
	entries     map[resourceKey][]*Entry
	checkpoints map[resourceKey][]*Checkpoint
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries:     make(map[resourceKey][]*Entry),
		checkpoints: make(map[resourceKey][]*Checkpoint),
	}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) SaveEntry(ctx context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := resourceKey{e.ResourceType, e.ResourceID}
	for _, existing := range r.entries[key] {
		if existing.Sequence == e.Sequence {
			return errors.Conflict("audit sequence already exists")
		}
	}
	copied := *e
	r.entries[key] = append(r.entries[key], &copied)
	return nil
}

func (r *MemoryRepository) LastEntry(ctx context.Context, resourceType string, resourceID types.ID) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.entries[resourceKey{resourceType, resourceID}]
	if len(chain) == 0 {
		return nil, errors.NotFound("audit entry", resourceID.String())
	}

	last := chain[0]
	for _, e := range chain[1:] {
		if e.Sequence > last.Sequence {
			last = e
		}
	}
	copied := *last
	return &copied, nil
}

func (r *MemoryRepository) Entries(ctx context.Context, resourceType string, resourceID types.ID) ([]*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.entries[resourceKey{resourceType, resourceID}]
	out := make([]*Entry, len(chain))
	for i, e := range chain {
		copied := *e
		out[i] = &copied
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (r *MemoryRepository) SaveCheckpoint(ctx context.Context, c *Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := resourceKey{c.ResourceType, c.ResourceID}
	copied := *c
	r.checkpoints[key] = append(r.checkpoints[key], &copied)
	return nil
}

func (r *MemoryRepository) LastCheckpoint(ctx context.Context, resourceType string, resourceID types.ID) (*Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	checkpoints := r.checkpoints[resourceKey{resourceType, resourceID}]
	if len(checkpoints) == 0 {
		return nil, errors.NotFound("audit checkpoint", resourceID.String())
	}
	copied := *checkpoints[len(checkpoints)-1]
	return &copied, nil
}

// TamperEntry mutates a stored entry in place. Tests use it to simulate
// database-level tampering.
func (r *MemoryRepository) TamperEntry(resourceType string, resourceID types.ID, sequence int64, mutate func(*Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries[resourceKey{resourceType, resourceID}] {
		if e.Sequence == sequence {
			mutate(e)
			return
		}
	}
}
