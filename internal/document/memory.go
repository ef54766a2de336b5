package document

import (
	"context"
	"sync"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
)

// MemoryRepository is an in-memory document repository used by tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[types.ID]*Document
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[types.ID]*Document)}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Save(ctx context.Context, d *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *d
	r.docs[d.ID] = &copied
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id types.ID) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.docs[id]
	if !ok {
		return nil, errors.NotFound("document", id.String())
	}
	copied := *d
	return &copied, nil
}

func (r *MemoryRepository) FindByContentHash(ctx context.Context, hash string) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.docs {
		if d.ContentHash == hash {
			copied := *d
			return &copied, nil
		}
	}
	return nil, errors.NotFound("document", hash)
}

// SetContentHash overwrites a stored document's content hash. Tests use it
// to simulate post-archival content corruption.
func (r *MemoryRepository) SetContentHash(id types.ID, hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.docs[id]; ok {
		d.ContentHash = hash
	}
}
