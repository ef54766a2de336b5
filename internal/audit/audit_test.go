package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/evidentia/platform/internal/shared/config"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/evidentia/platform/internal/tsa"
)

func TestRecordBuildsLinkedChain(t *testing.T) {
	recorder := NewRecorder(NewMemoryRepository())
	ctx := context.Background()
	resource := types.NewID()

	first, err := recorder.Record(ctx, "archived_document", resource, "system", ActionDocumentArchived, map[string]any{"tier": "hot"})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if first.Sequence != 0 || first.PrevHash != "" {
		t.Errorf("first entry must open the chain, got seq=%d prev=%q", first.Sequence, first.PrevHash)
	}

	second, err := recorder.Record(ctx, "archived_document", resource, "system", ActionTierMigrated, map[string]any{"to": "cold"})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if second.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", second.Sequence)
	}
	if second.PrevHash != first.Hash {
		t.Error("second entry must link to the first entry's hash")
	}
}

func TestChainsArePerResource(t *testing.T) {
	recorder := NewRecorder(NewMemoryRepository())
	ctx := context.Background()

	a, b := types.NewID(), types.NewID()
	recorder.Record(ctx, "archived_document", a, "system", ActionDocumentArchived, nil)
	entry, err := recorder.Record(ctx, "archived_document", b, "system", ActionDocumentArchived, nil)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if entry.Sequence != 0 {
		t.Errorf("a different resource must start its own chain at 0, got %d", entry.Sequence)
	}
}

func TestVerifyChainAcceptsIntactChain(t *testing.T) {
	repo := NewMemoryRepository()
	recorder := NewRecorder(repo)
	ctx := context.Background()
	resource := types.NewID()

	for i := 0; i < 5; i++ {
		if _, err := recorder.Record(ctx, "chain", resource, "scheduler", ActionChainResealed, map[string]any{"seq": i}); err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
	}

	result, err := recorder.VerifyChain(ctx, "chain", resource)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid chain, got errors: %v", result.Errors)
	}
	if result.EntriesVerified != 5 || result.LastSequence != 4 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	repo := NewMemoryRepository()
	recorder := NewRecorder(repo)
	ctx := context.Background()
	resource := types.NewID()

	recorder.Record(ctx, "chain", resource, "system", ActionChainInitialized, nil)
	recorder.Record(ctx, "chain", resource, "system", ActionChainResealed, map[string]any{"reason": "scheduled"})
	recorder.Record(ctx, "chain", resource, "system", ActionChainResealed, map[string]any{"reason": "manual"})

	repo.TamperEntry("chain", resource, 1, func(e *Entry) {
		e.Detail = map[string]any{"reason": "falsified"}
	})

	result, err := recorder.VerifyChain(ctx, "chain", resource)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Valid {
		t.Fatal("expected tampering to be detected")
	}
	// The tampered entry's own hash breaks; entry 2 still links to the
	// stored (unchanged) hash, so exactly one error is expected.
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 error, got %v", result.Errors)
	}
}

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	repo := NewMemoryRepository()
	recorder := NewRecorder(repo)
	ctx := context.Background()
	resource := types.NewID()

	recorder.Record(ctx, "chain", resource, "system", ActionChainInitialized, nil)
	recorder.Record(ctx, "chain", resource, "system", ActionChainResealed, nil)

	// Rewrite entry 0 entirely, recomputing its hash, as an attacker with
	// database access would.
	repo.TamperEntry("chain", resource, 0, func(e *Entry) {
		e.Action = ActionChainBroken
		e.Hash = e.calculateHash()
	})

	result, _ := recorder.VerifyChain(ctx, "chain", resource)
	if result.Valid {
		t.Fatal("expected broken link to be detected")
	}
}

func TestCheckpointWitnessed(t *testing.T) {
	repo := NewMemoryRepository()
	recorder := NewRecorder(repo)
	ctx := context.Background()
	resource := types.NewID()

	recorder.Record(ctx, "archived_document", resource, "system", ActionDocumentArchived, nil)
	recorder.Record(ctx, "archived_document", resource, "system", ActionTierMigrated, nil)

	server, err := tsa.NewServerWithGeneratedCert("Test Org")
	if err != nil {
		t.Fatalf("failed to create TSA server: %v", err)
	}
	witness := tsa.NewClient(testTSAConfig(), tsa.NewLocalProvider(server))

	checkpointer := NewCheckpointer(repo, witness)
	checkpoint, err := checkpointer.Checkpoint(ctx, "archived_document", resource)
	if err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}

	if checkpoint.WitnessStatus != WitnessWitnessed {
		t.Errorf("expected witnessed checkpoint, got %s", checkpoint.WitnessStatus)
	}
	if len(checkpoint.WitnessProof) == 0 {
		t.Error("expected a witness proof")
	}
	if checkpoint.EntryCount != 2 || checkpoint.LastSequence != 1 {
		t.Errorf("unexpected checkpoint: %+v", checkpoint)
	}

	ok, err := checkpointer.VerifyCheckpoint(ctx, checkpoint)
	if err != nil || !ok {
		t.Errorf("expected checkpoint to verify, got ok=%v err=%v", ok, err)
	}
}

type failingWitness struct{}

func (failingWitness) Seal(ctx context.Context, imprintHex string) (*tsa.Token, error) {
	return nil, fmt.Errorf("authority unreachable")
}

func TestCheckpointDegradesWithoutWitness(t *testing.T) {
	repo := NewMemoryRepository()
	recorder := NewRecorder(repo)
	ctx := context.Background()
	resource := types.NewID()

	recorder.Record(ctx, "archived_document", resource, "system", ActionDocumentArchived, nil)

	checkpointer := NewCheckpointer(repo, failingWitness{})
	checkpoint, err := checkpointer.Checkpoint(ctx, "archived_document", resource)
	if err != nil {
		t.Fatalf("checkpoint must not fail on witness outage: %v", err)
	}
	if checkpoint.WitnessStatus != WitnessFailed {
		t.Errorf("expected failed witness status, got %s", checkpoint.WitnessStatus)
	}
}

func TestCheckpointDetectsRewrittenHistory(t *testing.T) {
	repo := NewMemoryRepository()
	recorder := NewRecorder(repo)
	ctx := context.Background()
	resource := types.NewID()

	recorder.Record(ctx, "archived_document", resource, "system", ActionDocumentArchived, nil)
	recorder.Record(ctx, "archived_document", resource, "system", ActionTierMigrated, nil)

	checkpointer := NewCheckpointer(repo, nil)
	checkpoint, err := checkpointer.Checkpoint(ctx, "archived_document", resource)
	if err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}

	// Rewrite covered history with recomputed hashes
	repo.TamperEntry("archived_document", resource, 0, func(e *Entry) {
		e.Actor = "attacker"
		e.Hash = e.calculateHash()
	})

	ok, err := checkpointer.VerifyCheckpoint(ctx, checkpoint)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if ok {
		t.Error("expected rewritten history to fail checkpoint verification")
	}
}

func TestCanonicalJSONIsDeterministic(t *testing.T) {
	a := map[string]any{"b": 1, "a": map[string]any{"z": true, "y": []any{"x", "w"}}}
	first, err := canonicalJSON(a)
	if err != nil {
		t.Fatalf("canonical marshal failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		next, _ := canonicalJSON(a)
		if string(next) != string(first) {
			t.Fatal("canonical JSON must be byte-stable across marshals")
		}
	}
	if string(first) != `{"a":{"y":["x","w"],"z":true},"b":1}` {
		t.Errorf("unexpected canonical form: %s", first)
	}
}

func testTSAConfig() config.TSAConfig {
	return config.TSAConfig{
		RequestTimeout:    5 * time.Second,
		MaxAttempts:       1,
		RequestsPerSecond: 100,
		TokenValidityDays: 365,
	}
}
