package retention

import (
	"context"
	"sort"
	"sync"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
)

// Repository defines retention policy storage operations
type Repository interface {
	Save(ctx context.Context, p *Policy) error
	FindByID(ctx context.Context, id types.ID) (*Policy, error)
	FindAll(ctx context.Context) ([]*Policy, error)

	// FindByScope returns the highest-priority active policy matching the
	// exact tenant and document type scope.
	FindByScope(ctx context.Context, tenantID *types.ID, documentType *string) (*Policy, error)

	// FindDefault returns the active default policy for a tenant; nil
	// tenant means the global default.
	FindDefault(ctx context.Context, tenantID *types.ID) (*Policy, error)

	Deactivate(ctx context.Context, id types.ID) error
}

// MemoryRepository is an in-memory policy repository used by tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	policies map[types.ID]*Policy
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{policies: make(map[types.ID]*Policy)}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Save(ctx context.Context, p *Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *p
	r.policies[p.ID] = &copied
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id types.ID) (*Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.policies[id]
	if !ok {
		return nil, errors.NotFound("retention policy", id.String())
	}
	copied := *p
	return &copied, nil
}

func (r *MemoryRepository) FindAll(ctx context.Context) ([]*Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Policy, 0, len(r.policies))
	for _, p := range r.policies {
		copied := *p
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) FindByScope(ctx context.Context, tenantID *types.ID, documentType *string) (*Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Policy
	for _, p := range r.policies {
		if !p.IsActive || !sameScope(p.TenantID, tenantID) || !sameType(p.DocumentType, documentType) {
			continue
		}
		if best == nil || p.Priority > best.Priority {
			best = p
		}
	}
	if best == nil {
		return nil, errors.NotFound("retention policy", "scope")
	}
	copied := *best
	return &copied, nil
}

func (r *MemoryRepository) FindDefault(ctx context.Context, tenantID *types.ID) (*Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.policies {
		if p.IsActive && p.IsDefault && sameScope(p.TenantID, tenantID) {
			copied := *p
			return &copied, nil
		}
	}
	return nil, errors.NotFound("default retention policy", "scope")
}

func (r *MemoryRepository) Deactivate(ctx context.Context, id types.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.policies[id]
	if !ok {
		return errors.NotFound("retention policy", id.String())
	}
	p.IsActive = false
	return nil
}

func sameScope(a, b *types.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameType(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
