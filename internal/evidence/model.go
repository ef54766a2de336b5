package evidence

import (
	"time"

	"github.com/evidentia/platform/internal/shared/types"
)

// Kind identifies a class of auxiliary evidence captured alongside a
// preserved document.
type Kind string

const (
	KindDeviceFingerprint Kind = "device_fingerprint"
	KindGeolocation       Kind = "geolocation"
	KindIPResolution      Kind = "ip_resolution"
	KindConsent           Kind = "consent"
)

// AllKinds lists every artifact kind in scoring order.
var AllKinds = []Kind{
	KindDeviceFingerprint,
	KindGeolocation,
	KindIPResolution,
	KindConsent,
}

// ValidKind reports whether k is a known artifact kind.
func ValidKind(k Kind) bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Subject is the typed owner of auxiliary evidence, usually a document.
type Subject struct {
	Type string   `json:"type"`
	ID   types.ID `json:"id"`
}

// DocumentSubject builds the subject reference for a document.
func DocumentSubject(documentID types.ID) Subject {
	return Subject{Type: "document", ID: documentID}
}

// Artifact is one captured piece of auxiliary evidence. The capture
// pipeline itself lives outside this system; artifacts arrive here already
// collected and are only stored and looked up. At most one artifact per
// (subject, kind) exists; a re-capture replaces the payload.
type Artifact struct {
	ID         types.ID       `json:"id"`
	Subject    Subject        `json:"subject"`
	Kind       Kind           `json:"kind"`
	Payload    map[string]any `json:"payload,omitempty"`
	CapturedAt time.Time      `json:"captured_at"`
}

// NewArtifact creates an artifact captured now.
func NewArtifact(subject Subject, kind Kind, payload map[string]any) *Artifact {
	return &Artifact{
		ID:         types.NewID(),
		Subject:    subject,
		Kind:       kind,
		Payload:    payload,
		CapturedAt: time.Now().UTC(),
	}
}
