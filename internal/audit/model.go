// Package audit keeps an append-only, hash-chained audit trail per
// resource. Entries are never updated or deleted; periodic checkpoints are
// witnessed by the timestamp authority so even a database administrator
// cannot silently rewrite history.
package audit

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/evidentia/platform/internal/hashing"
	"github.com/evidentia/platform/internal/shared/types"
)

// canonicalJSON produces deterministic JSON output with sorted map keys.
// Go maps iterate in random order and JSONB may reorder keys, so hashing
// requires a canonical form.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// Entry is one immutable audit record in a resource's chain.
type Entry struct {
	ID           types.ID       `json:"id"`
	ResourceType string         `json:"resource_type"`
	ResourceID   types.ID       `json:"resource_id"`
	Sequence     int64          `json:"sequence"`
	Timestamp    time.Time      `json:"timestamp"`
	Hash         string         `json:"hash"`
	PrevHash     string         `json:"prev_hash,omitempty"`
	Actor        string         `json:"actor"`
	Action       string         `json:"action"`
	Detail       map[string]any `json:"detail,omitempty"`
}

// NewEntry creates an audit entry linked to its predecessor's hash.
func NewEntry(resourceType string, resourceID types.ID, sequence int64, actor, action string, detail map[string]any, prevHash string) *Entry {
	e := &Entry{
		ID:           types.NewID(),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Sequence:     sequence,
		// Truncate to microseconds for PostgreSQL timestamp round trips
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		PrevHash:  prevHash,
		Actor:     actor,
		Action:    action,
		Detail:    detail,
	}
	e.Hash = e.calculateHash()
	return e
}

// calculateHash hashes the entry with explicit field ordering. Timestamps
// are always rendered in UTC so the hash survives timezone changes between
// creation and verification.
func (e *Entry) calculateHash() string {
	data := map[string]any{
		"id":            e.ID,
		"resource_type": e.ResourceType,
		"resource_id":   e.ResourceID,
		"sequence":      e.Sequence,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":     e.PrevHash,
		"actor":         e.Actor,
		"action":        e.Action,
	}
	if len(e.Detail) > 0 {
		data["detail"] = e.Detail
	}

	jsonData, _ := canonicalJSON(data)
	return hashing.Hash(jsonData)
}

// VerifyHash reports whether the stored hash matches a recomputation.
func (e *Entry) VerifyHash() bool {
	return e.Hash == e.calculateHash()
}

// WitnessStatus is the state of a checkpoint's external witness proof.
type WitnessStatus string

const (
	WitnessWitnessed   WitnessStatus = "witnessed"
	WitnessUnwitnessed WitnessStatus = "unwitnessed"
	WitnessFailed      WitnessStatus = "failed"
)

// Checkpoint fixes a resource chain's state at a point in time. The
// checkpoint hash commits to every entry hash up to LastSequence and is
// witnessed by the timestamp authority when one is available.
type Checkpoint struct {
	ID             types.ID      `json:"id"`
	ResourceType   string        `json:"resource_type"`
	ResourceID     types.ID      `json:"resource_id"`
	CheckpointHash string        `json:"checkpoint_hash"`
	LastSequence   int64         `json:"last_sequence"`
	EntryCount     int           `json:"entry_count"`
	WitnessProof   []byte        `json:"-"`
	WitnessStatus  WitnessStatus `json:"witness_status"`
	CreatedAt      time.Time     `json:"created_at"`
}

// ComputeCheckpointHash chains all entry hashes into one commitment.
func ComputeCheckpointHash(entries []*Entry) string {
	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(e.Hash)
	}
	return hashing.Hash(buf.Bytes())
}

// Audit actions recorded by the preservation subsystem.
const (
	ActionDocumentArchived  = "archive.created"
	ActionTierMigrated      = "archive.tier_migrated"
	ActionRetentionExpired  = "archive.retention_expired"
	ActionChainInitialized  = "chain.initialized"
	ActionChainResealed     = "chain.resealed"
	ActionChainVerified     = "chain.verified"
	ActionChainBroken       = "chain.broken"
	ActionPolicyCreated     = "retention.policy_created"
	ActionPolicyDeactivated = "retention.policy_deactivated"
	ActionVerificationRun   = "verification.performed"
)
