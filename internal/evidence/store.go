package evidence

import (
	"context"
	"sync"

	"github.com/evidentia/platform/internal/shared/errors"
)

// Store persists auxiliary evidence artifacts and answers presence queries
// for the confidence scoring engine.
type Store interface {
	Save(ctx context.Context, a *Artifact) error

	// Find returns the artifact of a kind for a subject, or a not-found
	// error.
	Find(ctx context.Context, subject Subject, kind Kind) (*Artifact, error)

	// Kinds returns the set of artifact kinds present for a subject.
	Kinds(ctx context.Context, subject Subject) (map[Kind]bool, error)
}

type subjectKey struct {
	subjectType string
	subjectID   string
}

// MemoryStore is an in-memory artifact store used by tests.
type MemoryStore struct {
	mu        sync.Mutex
	artifacts map[subjectKey]map[Kind]*Artifact
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[subjectKey]map[Kind]*Artifact)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Save(ctx context.Context, a *Artifact) error {
	if !ValidKind(a.Kind) {
		return errors.BadRequest("unknown artifact kind: " + string(a.Kind))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := subjectKey{a.Subject.Type, a.Subject.ID.String()}
	if s.artifacts[key] == nil {
		s.artifacts[key] = make(map[Kind]*Artifact)
	}
	copied := *a
	s.artifacts[key][a.Kind] = &copied
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, subject Subject, kind Kind) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[subjectKey{subject.Type, subject.ID.String()}][kind]
	if !ok {
		return nil, errors.NotFound("evidence artifact", string(kind))
	}
	copied := *a
	return &copied, nil
}

func (s *MemoryStore) Kinds(ctx context.Context, subject Subject) (map[Kind]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	present := make(map[Kind]bool)
	for kind := range s.artifacts[subjectKey{subject.Type, subject.ID.String()}] {
		present[kind] = true
	}
	return present, nil
}
