package archive

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/evidentia/platform/internal/audit"
	"github.com/evidentia/platform/internal/chain"
	"github.com/evidentia/platform/internal/document"
	"github.com/evidentia/platform/internal/retention"
	"github.com/evidentia/platform/internal/shared/config"
	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/evidentia/platform/internal/storage"
)

type fakeChains struct {
	initialized  int
	abandoned    int
	verification *chain.Verification
}

func (f *fakeChains) InitializeChain(ctx context.Context, documentID types.ID) (*chain.Chain, error) {
	f.initialized++
	c := chain.NewChain(documentID, nil, "preserved")
	c.SealCount = 1
	return c, nil
}

func (f *fakeChains) AbandonChain(ctx context.Context, chainID types.ID) error {
	f.abandoned++
	return nil
}

func (f *fakeChains) VerifyChain(ctx context.Context, chainID types.ID) (*chain.Verification, error) {
	if f.verification != nil {
		return f.verification, nil
	}
	return &chain.Verification{
		ChainID:         chainID,
		Valid:           true,
		EntriesVerified: 1,
		VerifiedAt:      time.Now().UTC(),
	}, nil
}

type fixture struct {
	lifecycle *Lifecycle
	repo      *MemoryRepository
	docs      *document.MemoryRepository
	disks     map[string]*storage.MemDisk
	chains    *fakeChains
	doc       *document.Document
	content   []byte
}

func newFixture(t *testing.T, cfg config.ArchiveConfig, retCfg config.RetentionConfig) *fixture {
	t.Helper()

	hot := storage.NewMemDisk()
	cold := storage.NewMemDisk()
	deep := storage.NewMemDisk()
	manager := storage.NewManager(map[string]storage.Disk{
		"hot": hot, "cold": cold, "archive": deep,
	})

	repo := NewMemoryRepository()
	docs := document.NewMemoryRepository()
	chains := &fakeChains{}
	ret := retention.NewEngine(retention.NewMemoryRepository(), retCfg, nil)

	content := []byte("archived evidence bytes")
	doc, err := document.New(nil, document.DocumentTypeContract, "evidence.pdf", content, 2)
	if err != nil {
		t.Fatalf("failed to create document: %v", err)
	}
	if err := docs.Save(context.Background(), doc); err != nil {
		t.Fatalf("failed to save document: %v", err)
	}

	return &fixture{
		lifecycle: NewLifecycle(repo, docs, manager, chains, ret, cfg, nil, nil),
		repo:      repo,
		docs:      docs,
		disks:     map[string]*storage.MemDisk{"hot": hot, "cold": cold, "archive": deep},
		chains:    chains,
		doc:       doc,
		content:   content,
	}
}

func defaultArchiveConfig() config.ArchiveConfig {
	return config.ArchiveConfig{
		HotDisk: "hot", ColdDisk: "cold", ArchiveDisk: "archive",
		ColdAfterDays: 90, ArchiveAfterDays: 365,
	}
}

func defaultRetentionConfig() config.RetentionConfig {
	return config.RetentionConfig{
		MaxYears:                  50,
		DefaultYears:              5,
		DefaultResealIntervalDays: 365,
		DefaultExpiryAction:       "archive",
	}
}

func TestArchiveStoresContentAndRecord(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())
	ctx := context.Background()

	record, err := f.lifecycle.Archive(ctx, f.doc.ID, f.content)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}

	if record.Status != StatusActive || record.StorageTier != TierHot {
		t.Errorf("expected active hot record, got %s/%s", record.Status, record.StorageTier)
	}
	if record.ChainID == nil {
		t.Error("expected a seal chain to be opened")
	}
	if f.chains.initialized != 1 {
		t.Errorf("expected 1 chain initialization, got %d", f.chains.initialized)
	}

	expected := record.ArchivedAt.AddDate(5, 0, 0)
	if !record.RetentionExpiresAt.Equal(expected) {
		t.Errorf("expected fallback 5 year retention, got %v", record.RetentionExpiresAt)
	}
	if record.ArchiveHash != ComputeArchiveHash(f.doc, record.ArchivedAt) {
		t.Error("archive hash does not recompute")
	}

	_, content, err := f.lifecycle.Retrieve(ctx, record.ID)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if string(content) != string(f.content) {
		t.Error("retrieved content differs from archived content")
	}
}

func TestArchiveHashIgnoresFilename(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())
	at := time.Now().UTC()

	before := ComputeArchiveHash(f.doc, at)
	renamed := *f.doc
	renamed.Filename = "renamed.pdf"
	if ComputeArchiveHash(&renamed, at) != before {
		t.Error("renaming a file must not change the archive hash")
	}

	resized := *f.doc
	resized.SizeBytes++
	if ComputeArchiveHash(&resized, at) == before {
		t.Error("changing the size must change the archive hash")
	}
}

func TestArchiveRejectsMismatchedContent(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())

	_, err := f.lifecycle.Archive(context.Background(), f.doc.ID, []byte("different bytes"))
	if !errors.Is(err, errors.ErrIntegrity) {
		t.Errorf("expected integrity error, got %v", err)
	}
}

func TestArchiveRejectsSecondArchive(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())
	ctx := context.Background()

	if _, err := f.lifecycle.Archive(ctx, f.doc.ID, f.content); err != nil {
		t.Fatalf("first archive failed: %v", err)
	}
	if _, err := f.lifecycle.Archive(ctx, f.doc.ID, f.content); !errors.Is(err, errors.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

// flakyRepo fails a given number of calls before delegating.
type flakyRepo struct {
	Repository
	failSaves     int
	failActivates int
}

func (r *flakyRepo) Save(ctx context.Context, a *ArchivedDocument) error {
	if r.failSaves > 0 {
		r.failSaves--
		return fmt.Errorf("connection reset")
	}
	return r.Repository.Save(ctx, a)
}

func (r *flakyRepo) Activate(ctx context.Context, id types.ID, chainID *types.ID, resealCount int) error {
	if r.failActivates > 0 {
		r.failActivates--
		return fmt.Errorf("connection reset")
	}
	return r.Repository.Activate(ctx, id, chainID, resealCount)
}

func TestArchiveCompensatesFailedSave(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())
	ctx := context.Background()

	f.lifecycle.repo = &flakyRepo{Repository: f.repo, failSaves: 1}

	if _, err := f.lifecycle.Archive(ctx, f.doc.ID, f.content); err == nil {
		t.Fatal("expected archive to fail")
	}
	if f.chains.initialized != 0 {
		t.Errorf("no chain may be opened before the record exists, got %d", f.chains.initialized)
	}
	hotPath := fmt.Sprintf("%s/shared/%s", TierHot, f.doc.ID)
	if exists, _ := f.disks["hot"].Exists(ctx, hotPath); exists {
		t.Error("stored content must be removed after a failed archival")
	}

	record, err := f.lifecycle.Archive(ctx, f.doc.ID, f.content)
	if err != nil {
		t.Fatalf("retry after failed archival must succeed: %v", err)
	}
	if record.Status != StatusActive {
		t.Errorf("expected active record on retry, got %s", record.Status)
	}
}

func TestArchiveAbandonsChainWhenActivationFails(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())
	ctx := context.Background()

	f.lifecycle.repo = &flakyRepo{Repository: f.repo, failActivates: 1}

	if _, err := f.lifecycle.Archive(ctx, f.doc.ID, f.content); err == nil {
		t.Fatal("expected archive to fail")
	}
	if f.chains.abandoned != 1 {
		t.Errorf("expected the opened chain to be abandoned, got %d", f.chains.abandoned)
	}
	if _, err := f.repo.FindByDocumentID(ctx, f.doc.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("pending record must not survive a failed activation, got %v", err)
	}

	record, err := f.lifecycle.Archive(ctx, f.doc.ID, f.content)
	if err != nil {
		t.Fatalf("retry after failed activation must succeed: %v", err)
	}
	if record.Status != StatusActive || record.ChainID == nil {
		t.Errorf("expected active record with chain on retry, got %s", record.Status)
	}
	if f.chains.initialized != 2 {
		t.Errorf("expected a fresh chain on retry, got %d initializations", f.chains.initialized)
	}
}

func TestMoveTierCopiesThenRemoves(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())
	ctx := context.Background()

	record, _ := f.lifecycle.Archive(ctx, f.doc.ID, f.content)
	hotPath := record.StoragePath

	moved, err := f.lifecycle.MoveTier(ctx, record.ID, TierCold)
	if err != nil {
		t.Fatalf("move failed: %v", err)
	}
	if moved.StorageTier != TierCold || moved.StorageDisk != "cold" {
		t.Errorf("expected cold tier, got %s on %s", moved.StorageTier, moved.StorageDisk)
	}

	if exists, _ := f.disks["cold"].Exists(ctx, moved.StoragePath); !exists {
		t.Error("content missing on target tier")
	}
	if exists, _ := f.disks["hot"].Exists(ctx, hotPath); exists {
		t.Error("content not removed from source tier")
	}

	stored, _ := f.repo.FindByID(ctx, record.ID)
	if stored.Status != StatusActive {
		t.Errorf("record must return to active, got %s", stored.Status)
	}
}

func TestMoveTierToCurrentTierIsNoOp(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())
	ctx := context.Background()

	record, _ := f.lifecycle.Archive(ctx, f.doc.ID, f.content)

	moved, err := f.lifecycle.MoveTier(ctx, record.ID, TierHot)
	if err != nil {
		t.Fatalf("no-op move failed: %v", err)
	}
	if moved.StoragePath != record.StoragePath || moved.StorageTier != TierHot {
		t.Error("no-op move must not change the record")
	}
}

// failDisk fails every write.
type failDisk struct {
	storage.Disk
}

func (d *failDisk) Put(ctx context.Context, path string, data []byte) error {
	return fmt.Errorf("disk full")
}

func TestMoveTierRevertsOnWriteFailure(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())
	ctx := context.Background()

	record, _ := f.lifecycle.Archive(ctx, f.doc.ID, f.content)

	// Swap the cold disk for one that always fails
	manager := storage.NewManager(map[string]storage.Disk{
		"hot":     f.disks["hot"],
		"cold":    &failDisk{Disk: f.disks["cold"]},
		"archive": f.disks["archive"],
	})
	f.lifecycle.disks = manager

	if _, err := f.lifecycle.MoveTier(ctx, record.ID, TierCold); err == nil {
		t.Fatal("expected move to fail")
	}

	stored, _ := f.repo.FindByID(ctx, record.ID)
	if stored.Status != StatusActive {
		t.Errorf("record must revert to active after failure, got %s", stored.Status)
	}
	if stored.StorageTier != TierHot {
		t.Errorf("record must stay on hot tier after failure, got %s", stored.StorageTier)
	}
	if exists, _ := f.disks["hot"].Exists(ctx, stored.StoragePath); !exists {
		t.Error("original content must survive a failed migration")
	}
}

func TestMigrateTiersDemotesOldDocuments(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())
	ctx := context.Background()

	record, _ := f.lifecycle.Archive(ctx, f.doc.ID, f.content)

	// Age the record past the cold threshold
	stored, _ := f.repo.FindByID(ctx, record.ID)
	stored.ArchivedAt = time.Now().UTC().AddDate(0, 0, -120)
	f.repo.Save(ctx, stored)

	result, err := f.lifecycle.MigrateTiers(ctx, time.Now().UTC(), 100)
	if err != nil {
		t.Fatalf("migration sweep failed: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("expected 1 migration, got %+v", result)
	}

	after, _ := f.repo.FindByID(ctx, record.ID)
	if after.StorageTier != TierCold {
		t.Errorf("expected cold tier after sweep, got %s", after.StorageTier)
	}
}

func TestVerifyIntegrityDetectsCorruption(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())
	ctx := context.Background()

	record, _ := f.lifecycle.Archive(ctx, f.doc.ID, f.content)

	result, err := f.lifecycle.VerifyIntegrity(ctx, record.ID)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected clean verification, got %v", result.Errors)
	}

	// Corrupt the stored object
	f.disks["hot"].Put(ctx, record.StoragePath, []byte("corrupted"))

	result, err = f.lifecycle.VerifyIntegrity(ctx, record.ID)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Valid {
		t.Error("expected corruption to be detected")
	}
}

func TestVerifyIntegrityFoldsChainVerification(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())
	ctx := context.Background()

	record, _ := f.lifecycle.Archive(ctx, f.doc.ID, f.content)

	f.chains.verification = &chain.Verification{
		ChainID:    *record.ChainID,
		Valid:      false,
		Errors:     []string{"entry 1: cumulative hash mismatch"},
		VerifiedAt: time.Now().UTC(),
	}

	result, err := f.lifecycle.VerifyIntegrity(ctx, record.ID)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Valid {
		t.Fatal("a broken seal chain must invalidate the archive")
	}

	found := false
	for _, e := range result.Errors {
		if strings.Contains(e, "seal chain") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a seal chain error, got %v", result.Errors)
	}
}

func TestVerifyIntegrityWarnsOnOverdueReseal(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())
	ctx := context.Background()

	record, _ := f.lifecycle.Archive(ctx, f.doc.ID, f.content)

	stored, _ := f.repo.FindByID(ctx, record.ID)
	past := time.Now().UTC().Add(-time.Hour)
	stored.NextResealAt = &past
	f.repo.Save(ctx, stored)

	result, err := f.lifecycle.VerifyIntegrity(ctx, record.ID)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !result.Valid {
		t.Fatalf("an overdue reseal must not invalidate the archive: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected an overdue reseal warning")
	}
}

func TestSoftDeleteKeepsRecord(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())
	ctx := context.Background()

	record, _ := f.lifecycle.Archive(ctx, f.doc.ID, f.content)

	if err := f.lifecycle.SoftDelete(ctx, record.ID); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	stored, err := f.repo.FindByID(ctx, record.ID)
	if err != nil {
		t.Fatal("record must survive soft delete")
	}
	if stored.Status != StatusDeleted {
		t.Errorf("expected deleted status, got %s", stored.Status)
	}
	if exists, _ := f.disks["hot"].Exists(ctx, record.StoragePath); exists {
		t.Error("content must be removed on soft delete")
	}

	// Idempotent
	if err := f.lifecycle.SoftDelete(ctx, record.ID); err != nil {
		t.Errorf("second soft delete should be a no-op, got %v", err)
	}
}

func TestExpirySweepAppliesPolicyAction(t *testing.T) {
	retCfg := defaultRetentionConfig()
	retCfg.DefaultExpiryAction = "delete"
	f := newFixture(t, defaultArchiveConfig(), retCfg)
	ctx := context.Background()

	record, _ := f.lifecycle.Archive(ctx, f.doc.ID, f.content)

	// Lapse the retention window
	stored, _ := f.repo.FindByID(ctx, record.ID)
	stored.RetentionExpiresAt = time.Now().UTC().Add(-time.Hour)
	f.repo.Save(ctx, stored)

	engine := retention.NewEngine(retention.NewMemoryRepository(), retCfg, nil)
	report, err := engine.ProcessExpiryActions(ctx, f.lifecycle.ExpiryStore(), time.Now().UTC(), 100)
	if err != nil {
		t.Fatalf("expiry sweep failed: %v", err)
	}
	if report.Deleted != 1 {
		t.Errorf("expected 1 deletion, got %+v", report)
	}

	after, _ := f.repo.FindByID(ctx, record.ID)
	if after.Status != StatusDeleted {
		t.Errorf("expected deleted record, got %s", after.Status)
	}
}

func TestExpiryArchiveActionMarksExpired(t *testing.T) {
	retCfg := defaultRetentionConfig()
	f := newFixture(t, defaultArchiveConfig(), retCfg)
	ctx := context.Background()

	record, _ := f.lifecycle.Archive(ctx, f.doc.ID, f.content)

	stored, _ := f.repo.FindByID(ctx, record.ID)
	stored.RetentionExpiresAt = time.Now().UTC().Add(-time.Hour)
	f.repo.Save(ctx, stored)

	engine := retention.NewEngine(retention.NewMemoryRepository(), retCfg, nil)
	report, err := engine.ProcessExpiryActions(ctx, f.lifecycle.ExpiryStore(), time.Now().UTC(), 100)
	if err != nil {
		t.Fatalf("expiry sweep failed: %v", err)
	}
	if report.Archived != 1 {
		t.Errorf("expected 1 archival, got %+v", report)
	}

	after, _ := f.repo.FindByID(ctx, record.ID)
	if after.Status != StatusExpired {
		t.Errorf("expected expired record, got %s", after.Status)
	}
	if after.StorageTier != TierArchive {
		t.Errorf("expected deep archive tier, got %s", after.StorageTier)
	}

	// An expired record has left the sweep.
	expiring, _ := f.repo.FindExpiring(ctx, time.Now().UTC(), 100)
	if len(expiring) != 0 {
		t.Errorf("expired records must not be swept again, got %d", len(expiring))
	}
}

func TestArchiveRecordsAuditTrail(t *testing.T) {
	f := newFixture(t, defaultArchiveConfig(), defaultRetentionConfig())
	ctx := context.Background()

	auditRepo := audit.NewMemoryRepository()
	recorder := audit.NewRecorder(auditRepo)
	f.lifecycle.auditor = recorder

	record, err := f.lifecycle.Archive(ctx, f.doc.ID, f.content)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if _, err := f.lifecycle.MoveTier(ctx, record.ID, TierCold); err != nil {
		t.Fatalf("move failed: %v", err)
	}
	if err := f.lifecycle.MarkExpired(ctx, record.ID); err != nil {
		t.Fatalf("mark expired failed: %v", err)
	}

	entries, err := auditRepo.Entries(ctx, "document", f.doc.ID)
	if err != nil {
		t.Fatalf("failed to read audit entries: %v", err)
	}
	actions := map[string]bool{}
	for _, e := range entries {
		actions[e.Action] = true
	}
	for _, want := range []string{audit.ActionDocumentArchived, audit.ActionTierMigrated, audit.ActionRetentionExpired} {
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
}
