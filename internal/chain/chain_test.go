package chain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/evidentia/platform/internal/audit"
	"github.com/evidentia/platform/internal/document"
	"github.com/evidentia/platform/internal/shared/config"
	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/tsa"
)

var (
	sealerOnce sync.Once
	sealerErr  error
	sealer     *tsa.Client
)

// testSealer returns a shared client backed by the in-process TSA so each
// test does not pay for a fresh 4096-bit key.
func testSealer(t *testing.T) *tsa.Client {
	t.Helper()
	sealerOnce.Do(func() {
		server, err := tsa.NewServerWithGeneratedCert("Test Org")
		if err != nil {
			sealerErr = err
			return
		}
		sealer = tsa.NewClient(config.TSAConfig{
			RequestTimeout:    5 * time.Second,
			MaxAttempts:       1,
			RequestsPerSecond: 1000,
			TokenValidityDays: 365,
		}, tsa.NewLocalProvider(server))
	})
	if sealerErr != nil {
		t.Fatalf("failed to create TSA server: %v", sealerErr)
	}
	return sealer
}

type fixture struct {
	engine *Engine
	repo   *MemoryRepository
	docs   *document.MemoryRepository
	tokens *tsa.MemoryTokenRepository
	doc    *document.Document
}

func newFixture(t *testing.T, cfg config.TSAConfig) *fixture {
	t.Helper()

	repo := NewMemoryRepository()
	docs := document.NewMemoryRepository()
	tokens := tsa.NewMemoryTokenRepository()

	doc, err := document.New(nil, document.DocumentTypeContract, "contract.pdf", []byte("signed contract bytes"), 3)
	if err != nil {
		t.Fatalf("failed to create document: %v", err)
	}
	if err := docs.Save(context.Background(), doc); err != nil {
		t.Fatalf("failed to save document: %v", err)
	}

	return &fixture{
		engine: NewEngine(repo, tokens, docs, testSealer(t), cfg, nil, nil),
		repo:   repo,
		docs:   docs,
		tokens: tokens,
		doc:    doc,
	}
}

func defaultTSAConfig() config.TSAConfig {
	return config.TSAConfig{
		TokenValidityDays:     365,
		ResealLeadDays:        30,
		MaxResealIntervalDays: 365,
		CertExpiryWarnDays:    30,
	}
}

func TestInitializeChain(t *testing.T) {
	f := newFixture(t, defaultTSAConfig())
	ctx := context.Background()

	c, err := f.engine.InitializeChain(ctx, f.doc.ID)
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	if c.Status != StatusActive {
		t.Errorf("expected active chain, got %s", c.Status)
	}
	if c.PreservedHash != f.doc.ContentHash {
		t.Error("chain must preserve the document content hash")
	}

	stored, err := f.repo.FindChainByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("chain not persisted: %v", err)
	}
	if stored.SealCount != 1 {
		t.Errorf("expected seal count 1, got %d", stored.SealCount)
	}
	if stored.NextSealDueAt == nil {
		t.Error("expected next seal due date to be scheduled")
	}

	entries, _ := f.repo.EntriesByChain(ctx, c.ID)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Sequence != 0 {
		t.Errorf("initial entry must have sequence 0, got %d", entries[0].Sequence)
	}
	if entries[0].ResealReason != ReasonInitial {
		t.Errorf("expected initial reason, got %s", entries[0].ResealReason)
	}
	if entries[0].CumulativeHash != NextImprint(c.PreservedHash, nil) {
		t.Error("initial cumulative hash must commit to the preserved hash alone")
	}
}

func TestInitializeChainRejectsSecondActive(t *testing.T) {
	f := newFixture(t, defaultTSAConfig())
	ctx := context.Background()

	if _, err := f.engine.InitializeChain(ctx, f.doc.ID); err != nil {
		t.Fatalf("first initialize failed: %v", err)
	}
	if _, err := f.engine.InitializeChain(ctx, f.doc.ID); !errors.Is(err, errors.ErrConflict) {
		t.Errorf("expected conflict for second active chain, got %v", err)
	}
}

func TestResealAppendsLinkedEntries(t *testing.T) {
	f := newFixture(t, defaultTSAConfig())
	ctx := context.Background()

	c, err := f.engine.InitializeChain(ctx, f.doc.ID)
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.engine.Reseal(ctx, c.ID, ReasonScheduled); err != nil {
			t.Fatalf("reseal %d failed: %v", i+1, err)
		}
	}

	stored, _ := f.repo.FindChainByID(ctx, c.ID)
	if stored.SealCount != 3 {
		t.Errorf("expected seal count 3, got %d", stored.SealCount)
	}
	if stored.Status != StatusActive {
		t.Errorf("chain must return to active after reseal, got %s", stored.Status)
	}

	entries, _ := f.repo.EntriesByChain(ctx, c.ID)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Sequence != i {
			t.Errorf("entry %d has sequence %d", i, entry.Sequence)
		}
		if entry.CumulativeHash != NextImprint(c.PreservedHash, entries[:i]) {
			t.Errorf("entry %d cumulative hash does not recompute", i)
		}
		if i > 0 && entry.PreviousEntryHash != entries[i-1].CumulativeHash {
			t.Errorf("entry %d must carry its predecessor's cumulative hash", i)
		}
	}

	result, err := f.engine.VerifyChain(ctx, c.ID)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid chain, got errors: %v", result.Errors)
	}
	if result.EntriesVerified != 3 {
		t.Errorf("expected 3 entries verified, got %d", result.EntriesVerified)
	}
}

func TestResealConflictsWhileResealing(t *testing.T) {
	f := newFixture(t, defaultTSAConfig())
	ctx := context.Background()

	c, err := f.engine.InitializeChain(ctx, f.doc.ID)
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	if _, err := f.repo.TransitionStatus(ctx, c.ID, StatusActive, StatusResealing); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	if _, err := f.engine.Reseal(ctx, c.ID, ReasonManual); !errors.Is(err, errors.ErrConflict) {
		t.Errorf("expected conflict while resealing, got %v", err)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	f := newFixture(t, defaultTSAConfig())
	ctx := context.Background()

	c, _ := f.engine.InitializeChain(ctx, f.doc.ID)
	f.engine.Reseal(ctx, c.ID, ReasonScheduled)

	f.repo.TamperEntry(c.ID, 1, func(e *Entry) {
		e.CumulativeHash = "deadbeef" + e.CumulativeHash[8:]
	})

	result, err := f.engine.VerifyChain(ctx, c.ID)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}

	stored, _ := f.repo.FindChainByID(ctx, c.ID)
	if stored.Status != StatusBroken {
		t.Errorf("expected broken status, got %s", stored.Status)
	}
	if stored.VerificationStatus != VerificationFailed {
		t.Errorf("expected failed verification status, got %s", stored.VerificationStatus)
	}
}

func TestVerifyDetectsDocumentMutation(t *testing.T) {
	f := newFixture(t, defaultTSAConfig())
	ctx := context.Background()

	c, _ := f.engine.InitializeChain(ctx, f.doc.ID)

	f.docs.SetContentHash(f.doc.ID, "0000000000000000000000000000000000000000000000000000000000000000")

	result, err := f.engine.VerifyChain(ctx, c.ID)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Valid {
		t.Fatal("expected chain over mutated document to be invalid")
	}

	stored, _ := f.repo.FindChainByID(ctx, c.ID)
	if stored.Status != StatusBroken {
		t.Errorf("expected broken status, got %s", stored.Status)
	}
}

func TestVerifyRejectsPreviousDataOnFirstEntry(t *testing.T) {
	f := newFixture(t, defaultTSAConfig())
	ctx := context.Background()

	c, _ := f.engine.InitializeChain(ctx, f.doc.ID)
	f.engine.Reseal(ctx, c.ID, ReasonScheduled)

	// Graft a predecessor reference onto the genesis entry. Its cumulative
	// hash still recomputes, so only the genesis rule can catch this.
	f.repo.TamperEntry(c.ID, 0, func(e *Entry) {
		e.PreviousEntryHash = e.CumulativeHash
	})

	result, err := f.engine.VerifyChain(ctx, c.ID)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Valid {
		t.Fatal("expected chain with a linked genesis entry to be invalid")
	}

	stored, _ := f.repo.FindChainByID(ctx, c.ID)
	if stored.Status != StatusBroken {
		t.Errorf("expected broken status, got %s", stored.Status)
	}
}

func TestAbandonChainRemovesFreshChain(t *testing.T) {
	f := newFixture(t, defaultTSAConfig())
	ctx := context.Background()

	c, err := f.engine.InitializeChain(ctx, f.doc.ID)
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	if err := f.engine.AbandonChain(ctx, c.ID); err != nil {
		t.Fatalf("abandon failed: %v", err)
	}
	if _, err := f.repo.FindChainByID(ctx, c.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected abandoned chain to be gone, got %v", err)
	}

	// The document is free for a fresh chain again.
	if _, err := f.engine.InitializeChain(ctx, f.doc.ID); err != nil {
		t.Errorf("expected re-initialization after abandon, got %v", err)
	}
}

func TestAbandonChainRefusesResealHistory(t *testing.T) {
	f := newFixture(t, defaultTSAConfig())
	ctx := context.Background()

	c, _ := f.engine.InitializeChain(ctx, f.doc.ID)
	if _, err := f.engine.Reseal(ctx, c.ID, ReasonManual); err != nil {
		t.Fatalf("reseal failed: %v", err)
	}

	if err := f.engine.AbandonChain(ctx, c.ID); !errors.Is(err, errors.ErrConflict) {
		t.Errorf("expected conflict abandoning a resealed chain, got %v", err)
	}
	if _, err := f.repo.FindChainByID(ctx, c.ID); err != nil {
		t.Errorf("resealed chain must survive an abandon attempt: %v", err)
	}
}

func TestChainOperationsRecordAuditTrail(t *testing.T) {
	f := newFixture(t, defaultTSAConfig())
	ctx := context.Background()

	auditRepo := audit.NewMemoryRepository()
	recorder := audit.NewRecorder(auditRepo)
	f.engine.auditor = recorder

	c, err := f.engine.InitializeChain(ctx, f.doc.ID)
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if _, err := f.engine.Reseal(ctx, c.ID, ReasonManual); err != nil {
		t.Fatalf("reseal failed: %v", err)
	}
	if _, err := f.engine.VerifyChain(ctx, c.ID); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	entries, err := auditRepo.Entries(ctx, "document", f.doc.ID)
	if err != nil {
		t.Fatalf("failed to read audit entries: %v", err)
	}
	actions := map[string]bool{}
	for _, e := range entries {
		actions[e.Action] = true
	}
	for _, want := range []string{audit.ActionChainInitialized, audit.ActionChainResealed, audit.ActionChainVerified} {
		if !actions[want] {
			t.Errorf("expected audit action %s to be recorded", want)
		}
	}

	verification, err := recorder.VerifyChain(ctx, "document", f.doc.ID)
	if err != nil {
		t.Fatalf("audit chain verification failed: %v", err)
	}
	if !verification.Valid {
		t.Errorf("expected a valid audit chain, got errors: %v", verification.Errors)
	}
	if verification.EntriesVerified < 3 {
		t.Errorf("expected at least 3 audit entries verified, got %d", verification.EntriesVerified)
	}
}

func TestVerifyWarnsOnNearExpiry(t *testing.T) {
	cfg := defaultTSAConfig()
	// Warn window wider than token validity: the fresh seal is already
	// inside it.
	cfg.CertExpiryWarnDays = 400
	f := newFixture(t, cfg)
	ctx := context.Background()

	c, _ := f.engine.InitializeChain(ctx, f.doc.ID)

	result, err := f.engine.VerifyChain(ctx, c.ID)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !result.Valid {
		t.Fatalf("near expiry must not invalidate the chain: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a near-expiry warning")
	}
}

func TestResealDueChains(t *testing.T) {
	f := newFixture(t, defaultTSAConfig())
	ctx := context.Background()

	c, _ := f.engine.InitializeChain(ctx, f.doc.ID)

	// Pull the due date into the past
	past := time.Now().UTC().Add(-time.Hour)
	stored, _ := f.repo.FindChainByID(ctx, c.ID)
	stored.NextSealDueAt = &past
	f.repo.UpdateAfterSeal(ctx, stored)

	result, err := f.engine.ResealDueChains(ctx, time.Now().UTC(), 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Processed != 1 || result.Failed != 0 {
		t.Errorf("expected 1 processed, got %+v", result)
	}

	after, _ := f.repo.FindChainByID(ctx, c.ID)
	if after.SealCount != 2 {
		t.Errorf("expected seal count 2 after sweep, got %d", after.SealCount)
	}
	if !after.NextSealDueAt.After(time.Now().UTC()) {
		t.Error("expected next due date in the future after sweep")
	}
}

func TestMaxChainLengthOpensSuccessor(t *testing.T) {
	cfg := defaultTSAConfig()
	cfg.MaxChainLength = 2
	f := newFixture(t, cfg)
	ctx := context.Background()

	c, err := f.engine.InitializeChain(ctx, f.doc.ID)
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	if _, err := f.engine.Reseal(ctx, c.ID, ReasonScheduled); err != nil {
		t.Fatalf("reseal failed: %v", err)
	}

	completed, _ := f.repo.FindChainByID(ctx, c.ID)
	if completed.Status != StatusCompleted {
		t.Fatalf("expected completed status at max length, got %s", completed.Status)
	}
	if completed.SuccessorID == nil {
		t.Fatal("expected a successor chain link")
	}

	successor, err := f.repo.FindChainByID(ctx, *completed.SuccessorID)
	if err != nil {
		t.Fatalf("successor not found: %v", err)
	}
	if successor.Status != StatusActive {
		t.Errorf("expected active successor, got %s", successor.Status)
	}
	if successor.PreservedHash != c.PreservedHash {
		t.Error("successor must preserve the same document hash")
	}
	if successor.SealCount != 1 {
		t.Errorf("successor must start with its initial seal, got %d", successor.SealCount)
	}
}

func TestNextImprintDeterministic(t *testing.T) {
	preserved := "ab" + "cd"
	e := &Entry{CumulativeHash: "aa", Sequence: 0, SealedAt: time.Unix(100, 0)}
	first := NextImprint(preserved, []*Entry{e})
	second := NextImprint(preserved, []*Entry{e})
	if first != second {
		t.Error("imprint must be deterministic")
	}

	mutated := *e
	mutated.SealedAt = time.Unix(101, 0)
	if NextImprint(preserved, []*Entry{&mutated}) == first {
		t.Error("imprint must change when any sealed field changes")
	}
}
