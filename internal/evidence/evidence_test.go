package evidence

import (
	"context"
	"testing"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
)

func TestSaveAndFind(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	subject := DocumentSubject(types.NewID())

	artifact := NewArtifact(subject, KindGeolocation, map[string]any{"lat": 52.52, "lon": 13.405})
	if err := store.Save(ctx, artifact); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	found, err := store.Find(ctx, subject, KindGeolocation)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if found.Payload["lat"] != 52.52 {
		t.Errorf("unexpected payload: %+v", found.Payload)
	}

	if _, err := store.Find(ctx, subject, KindConsent); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected not found for missing kind, got %v", err)
	}
}

func TestRecaptureReplacesArtifact(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	subject := DocumentSubject(types.NewID())

	store.Save(ctx, NewArtifact(subject, KindIPResolution, map[string]any{"ip": "192.0.2.1"}))
	store.Save(ctx, NewArtifact(subject, KindIPResolution, map[string]any{"ip": "192.0.2.2"}))

	found, err := store.Find(ctx, subject, KindIPResolution)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if found.Payload["ip"] != "192.0.2.2" {
		t.Errorf("expected the re-capture to win, got %+v", found.Payload)
	}

	kinds, _ := store.Kinds(ctx, subject)
	if len(kinds) != 1 {
		t.Errorf("expected a single kind after re-capture, got %v", kinds)
	}
}

func TestKindsPresence(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	subject := DocumentSubject(types.NewID())

	store.Save(ctx, NewArtifact(subject, KindDeviceFingerprint, nil))
	store.Save(ctx, NewArtifact(subject, KindConsent, nil))

	kinds, err := store.Kinds(ctx, subject)
	if err != nil {
		t.Fatalf("kinds failed: %v", err)
	}
	if !kinds[KindDeviceFingerprint] || !kinds[KindConsent] {
		t.Errorf("expected captured kinds present, got %v", kinds)
	}
	if kinds[KindGeolocation] {
		t.Error("geolocation was never captured")
	}

	other, _ := store.Kinds(ctx, DocumentSubject(types.NewID()))
	if len(other) != 0 {
		t.Errorf("expected no kinds for an unknown subject, got %v", other)
	}
}

func TestSaveRejectsUnknownKind(t *testing.T) {
	store := NewMemoryStore()
	artifact := NewArtifact(DocumentSubject(types.NewID()), Kind("polygraph"), nil)

	if err := store.Save(context.Background(), artifact); !errors.Is(err, errors.ErrBadRequest) {
		t.Errorf("expected bad request for unknown kind, got %v", err)
	}
}
