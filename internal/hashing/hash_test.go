package hashing

import (
	"bytes"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	data := []byte("signed agreement v1")

	h1 := Hash(data)
	h2 := Hash(data)

	if h1 != h2 {
		t.Errorf("expected identical hashes, got %s and %s", h1, h2)
	}

	if len(h1) != 64 {
		t.Errorf("expected 64 hex characters, got %d", len(h1))
	}
}

func TestHashKnownVector(t *testing.T) {
	// SHA-256 of the empty input
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	if got := Hash(nil); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}

	if got := HashString(""); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestHashStringMatchesHash(t *testing.T) {
	if HashString("abc") != Hash([]byte("abc")) {
		t.Error("HashString and Hash disagree for same input")
	}
}

func TestHashReader(t *testing.T) {
	data := []byte("streamed document content")

	got, err := HashReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got != Hash(data) {
		t.Errorf("expected %s, got %s", Hash(data), got)
	}
}
