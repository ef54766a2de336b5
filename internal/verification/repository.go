package verification

import (
	"context"
	"sync"
	"time"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
)

// Repository persists verification codes and the lookup log.
type Repository interface {
	SaveCode(ctx context.Context, c *Code) error

	// FindCode looks up a normalized code.
	FindCode(ctx context.Context, code string) (*Code, error)

	// FindCodeByDocument returns any code issued for a document. Hash
	// lookups use it to decide whether the attempt is loggable.
	FindCodeByDocument(ctx context.Context, documentID types.ID) (*Code, error)

	// IncrementAccess bumps a code's access counter.
	IncrementAccess(ctx context.Context, code string) error

	// AppendLog records a lookup attempt. The log is append-only.
	AppendLog(ctx context.Context, e *LogEntry) error
}

// MemoryRepository is an in-memory repository used by tests.
type MemoryRepository struct {
	mu    sync.Mutex
	codes map[string]*Code
	log   []*LogEntry
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{codes: make(map[string]*Code)}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) SaveCode(ctx context.Context, c *Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.codes[c.Code]; exists {
		return errors.Conflict("verification code already exists")
	}
	copied := *c
	r.codes[c.Code] = &copied
	return nil
}

func (r *MemoryRepository) FindCode(ctx context.Context, code string) (*Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[code]
	if !ok {
		return nil, errors.NotFound("verification code", code)
	}
	copied := *c
	return &copied, nil
}

func (r *MemoryRepository) FindCodeByDocument(ctx context.Context, documentID types.ID) (*Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.codes {
		if c.DocumentID == documentID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, errors.NotFound("verification code", documentID.String())
}

func (r *MemoryRepository) IncrementAccess(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[code]
	if !ok {
		return errors.NotFound("verification code", code)
	}
	c.AccessCount++
	return nil
}

func (r *MemoryRepository) AppendLog(ctx context.Context, e *LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *e
	if copied.VerifiedAt.IsZero() {
		copied.VerifiedAt = time.Now().UTC()
	}
	r.log = append(r.log, &copied)
	return nil
}

// LogEntries returns a copy of the lookup log, oldest first.
func (r *MemoryRepository) LogEntries() []*LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*LogEntry, len(r.log))
	for i, e := range r.log {
		copied := *e
		out[i] = &copied
	}
	return out
}
