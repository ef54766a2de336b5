package tsa

import (
	"context"
	"sync"
	"time"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
)

// MemoryTokenRepository is an in-memory token repository used by tests.
type MemoryTokenRepository struct {
	mu     sync.RWMutex
	tokens map[types.ID]*Token
}

// NewMemoryTokenRepository creates an empty in-memory repository.
func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{tokens: make(map[types.ID]*Token)}
}

var _ TokenRepository = (*MemoryTokenRepository)(nil)

func (r *MemoryTokenRepository) Save(ctx context.Context, t *Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *t
	r.tokens[t.ID] = &copied
	return nil
}

func (r *MemoryTokenRepository) FindByID(ctx context.Context, id types.ID) (*Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[id]
	if !ok {
		return nil, errors.NotFound("token", id.String())
	}
	copied := *t
	return &copied, nil
}

func (r *MemoryTokenRepository) MarkVerified(ctx context.Context, id types.ID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[id]
	if !ok {
		return errors.NotFound("token", id.String())
	}
	t.MarkVerified(at)
	return nil
}

func (r *MemoryTokenRepository) UpdateStatus(ctx context.Context, id types.ID, status TokenStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[id]
	if !ok {
		return errors.NotFound("token", id.String())
	}
	t.Status = status
	return nil
}
