package verification

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/evidentia/platform/internal/archive"
	"github.com/evidentia/platform/internal/audit"
	"github.com/evidentia/platform/internal/chain"
	"github.com/evidentia/platform/internal/document"
	"github.com/evidentia/platform/internal/evidence"
	"github.com/evidentia/platform/internal/shared/config"
	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
)

func testVerifyConfig() config.VerificationConfig {
	return config.VerificationConfig{
		WeightDocumentHash: 20,
		WeightChainHash:    20,
		WeightTimestamp:    20,
		WeightFingerprint:  15,
		WeightGeolocation:  10,
		WeightIPResolution: 10,
		WeightConsent:      5,
		HighThreshold:      90,
		MediumThreshold:    70,
		CodeMinLength:      8,
		CacheTTL:           time.Minute,
	}
}

type fakeContentStore struct {
	content map[string][]byte
	err     error
	calls   int
}

func (f *fakeContentStore) Retrieve(ctx context.Context, id types.ID) (*archive.ArchivedDocument, []byte, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	return nil, f.content[id.String()], nil
}

type fakeChainVerifier struct {
	valid bool
	err   error
}

func (f *fakeChainVerifier) VerifyChain(ctx context.Context, chainID types.ID) (*chain.Verification, error) {
	if f.err != nil {
		return nil, f.err
	}
	v := &chain.Verification{ChainID: chainID, Valid: f.valid}
	if !f.valid {
		v.Errors = []string{"entry 1: cumulative hash mismatch"}
	}
	return v, nil
}

type fakeAuditTrail struct {
	valid    bool
	recorded []string
}

func (f *fakeAuditTrail) VerifyChain(ctx context.Context, resourceType string, resourceID types.ID) (*audit.ChainVerification, error) {
	v := &audit.ChainVerification{ResourceType: resourceType, ResourceID: resourceID, Valid: f.valid}
	if !f.valid {
		v.Errors = []string{"entry 2: previous hash mismatch"}
	}
	return v, nil
}

func (f *fakeAuditTrail) Record(ctx context.Context, resourceType string, resourceID types.ID, actor, action string, detail map[string]any) (*audit.Entry, error) {
	f.recorded = append(f.recorded, action)
	return audit.NewEntry(resourceType, resourceID, int64(len(f.recorded)), actor, action, detail, ""), nil
}

type fixture struct {
	engine    *Engine
	repo      *MemoryRepository
	docs      document.Repository
	archives  archive.Repository
	content   *fakeContentStore
	chains    *fakeChainVerifier
	audits    *fakeAuditTrail
	artifacts *evidence.MemoryStore

	doc      *document.Document
	archived *archive.ArchivedDocument
	raw      []byte
}

type memoryDocs struct {
	docs map[string]*document.Document
}

func (m *memoryDocs) Save(ctx context.Context, d *document.Document) error {
	m.docs[d.ID.String()] = d
	return nil
}

func (m *memoryDocs) FindByID(ctx context.Context, id types.ID) (*document.Document, error) {
	if d, ok := m.docs[id.String()]; ok {
		return d, nil
	}
	return nil, errors.NotFound("document", id.String())
}

func (m *memoryDocs) FindByContentHash(ctx context.Context, hash string) (*document.Document, error) {
	for _, d := range m.docs {
		if d.ContentHash == hash {
			return d, nil
		}
	}
	return nil, errors.NotFound("document", hash)
}

func newFixture(t *testing.T, cache Cache) *fixture {
	t.Helper()
	ctx := context.Background()

	raw := []byte("%PDF-1.7 preserved agreement")
	doc, err := document.New(nil, document.DocumentTypeAgreement, "agreement.pdf", raw, 3)
	if err != nil {
		t.Fatalf("failed to create document: %v", err)
	}

	docs := &memoryDocs{docs: map[string]*document.Document{}}
	docs.Save(ctx, doc)

	chainID := types.NewID()
	archived := &archive.ArchivedDocument{
		ID:                 types.NewID(),
		DocumentID:         doc.ID,
		ChainID:            &chainID,
		StorageTier:        archive.TierHot,
		StorageDisk:        "hot",
		StoragePath:        "hot/shared/" + doc.ID.String(),
		ContentHash:        doc.ContentHash,
		ArchiveHash:        archive.ComputeArchiveHash(doc, time.Now()),
		Status:             archive.StatusActive,
		ArchivedAt:         time.Now().UTC(),
		RetentionExpiresAt: time.Now().AddDate(5, 0, 0),
		UpdatedAt:          time.Now().UTC(),
	}
	archives := archive.NewMemoryRepository()
	if err := archives.Save(ctx, archived); err != nil {
		t.Fatalf("failed to save archive record: %v", err)
	}

	f := &fixture{
		repo:      NewMemoryRepository(),
		docs:      docs,
		archives:  archives,
		content:   &fakeContentStore{content: map[string][]byte{archived.ID.String(): raw}},
		chains:    &fakeChainVerifier{valid: true},
		audits:    &fakeAuditTrail{valid: true},
		artifacts: evidence.NewMemoryStore(),
		doc:       doc,
		archived:  archived,
		raw:       raw,
	}
	f.engine = NewEngine(testVerifyConfig(), f.repo, f.docs, f.archives, f.content, f.chains, f.audits, f.artifacts, cache)
	return f
}

func (f *fixture) captureAllArtifacts(t *testing.T) {
	t.Helper()
	subject := evidence.DocumentSubject(f.doc.ID)
	for _, kind := range evidence.AllKinds {
		if err := f.artifacts.Save(context.Background(), evidence.NewArtifact(subject, kind, nil)); err != nil {
			t.Fatalf("failed to save artifact: %v", err)
		}
	}
}

func (f *fixture) issueCode(t *testing.T, validFor time.Duration) *Code {
	t.Helper()
	code, err := f.engine.IssueCode(context.Background(), f.doc.ID, validFor)
	if err != nil {
		t.Fatalf("failed to issue code: %v", err)
	}
	return code
}

func TestVerifyByCodeFullConfidence(t *testing.T) {
	f := newFixture(t, nil)
	f.captureAllArtifacts(t)
	code := f.issueCode(t, 0)

	result, err := f.engine.VerifyByCode(context.Background(), code.Code, "203.0.113.7", "test-agent")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	if result.Outcome != OutcomeVerified || !result.Valid {
		t.Fatalf("expected verified result, got %+v", result)
	}
	if result.Confidence.Score != 100 || result.Confidence.Level != LevelHigh {
		t.Errorf("expected 100/high, got %d/%s", result.Confidence.Score, result.Confidence.Level)
	}
	if len(result.Checks) != 7 {
		t.Errorf("expected 7 checks, got %d", len(result.Checks))
	}
	if result.Document == nil || result.Document.ID != f.doc.ID {
		t.Error("expected the document summary in the result")
	}

	stored, _ := f.repo.FindCode(context.Background(), code.Code)
	if stored.AccessCount != 1 {
		t.Errorf("expected access count 1, got %d", stored.AccessCount)
	}
	log := f.repo.LogEntries()
	if len(log) != 1 || log[0].Result != OutcomeVerified || log[0].Score != 100 {
		t.Errorf("expected one verified log entry, got %+v", log)
	}
}

func TestMissingArtifactsLowerConfidenceOnly(t *testing.T) {
	f := newFixture(t, nil)
	code := f.issueCode(t, 0)

	result, err := f.engine.VerifyByCode(context.Background(), code.Code, "", "")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	if !result.Valid {
		t.Error("missing auxiliary evidence must not invalidate the document")
	}
	if result.Confidence.Score != 60 || result.Confidence.Level != LevelLow {
		t.Errorf("expected 60/low, got %d/%s", result.Confidence.Score, result.Confidence.Level)
	}
}

func TestPartialArtifactsMapToMediumLevel(t *testing.T) {
	f := newFixture(t, nil)
	subject := evidence.DocumentSubject(f.doc.ID)
	f.artifacts.Save(context.Background(), evidence.NewArtifact(subject, evidence.KindDeviceFingerprint, nil))
	code := f.issueCode(t, 0)

	result, _ := f.engine.VerifyByCode(context.Background(), code.Code, "", "")
	// 20+20+20+15 = 75
	if result.Confidence.Score != 75 || result.Confidence.Level != LevelMedium {
		t.Errorf("expected 75/medium, got %d/%s", result.Confidence.Score, result.Confidence.Level)
	}
}

func TestBrokenAuditChainInvalidates(t *testing.T) {
	f := newFixture(t, nil)
	f.captureAllArtifacts(t)
	f.audits.valid = false
	code := f.issueCode(t, 0)

	result, _ := f.engine.VerifyByCode(context.Background(), code.Code, "", "")
	if result.Valid || result.Outcome != OutcomeFailed {
		t.Fatalf("a broken audit chain must invalidate, got %+v", result)
	}
	// 100 - 20 for the failed chain check
	if result.Confidence.Score != 80 {
		t.Errorf("expected score 80, got %d", result.Confidence.Score)
	}
}

func TestCorruptContentInvalidates(t *testing.T) {
	f := newFixture(t, nil)
	f.captureAllArtifacts(t)
	f.content.content[f.archived.ID.String()] = []byte("tampered bytes")
	code := f.issueCode(t, 0)

	result, _ := f.engine.VerifyByCode(context.Background(), code.Code, "", "")
	if result.Valid {
		t.Fatal("tampered content must invalidate")
	}
	if result.Checks[0].Name != CheckDocumentHash || result.Checks[0].Passed {
		t.Errorf("expected the document hash check to fail, got %+v", result.Checks[0])
	}
}

func TestFailedTimestampChainLowersScoreOnly(t *testing.T) {
	f := newFixture(t, nil)
	f.captureAllArtifacts(t)
	f.chains.valid = false
	code := f.issueCode(t, 0)

	result, _ := f.engine.VerifyByCode(context.Background(), code.Code, "", "")
	if !result.Valid {
		t.Error("a timestamp defect alone must not flip validity")
	}
	if result.Confidence.Score != 80 {
		t.Errorf("expected score 80, got %d", result.Confidence.Score)
	}
}

func TestCodeTooShort(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.engine.VerifyByCode(context.Background(), "ab-12", "", "")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Outcome != OutcomeCodeTooShort {
		t.Errorf("expected code_too_short, got %s", result.Outcome)
	}
	if len(f.repo.LogEntries()) != 0 {
		t.Error("a malformed code must be rejected before any lookup is logged")
	}
}

func TestCodeNotFound(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.engine.VerifyByCode(context.Background(), "ZZZZYYYYXXXXWWWW", "", "")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Outcome != OutcomeCodeNotFound {
		t.Errorf("expected code_not_found, got %s", result.Outcome)
	}
	log := f.repo.LogEntries()
	if len(log) != 1 || log[0].Result != OutcomeCodeNotFound {
		t.Errorf("a failed lookup must still be logged, got %+v", log)
	}
}

func TestCodeExpiredIsDistinctFromNotFound(t *testing.T) {
	f := newFixture(t, nil)
	code := f.issueCode(t, time.Nanosecond)
	time.Sleep(time.Millisecond)

	result, err := f.engine.VerifyByCode(context.Background(), code.Code, "", "")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Outcome != OutcomeCodeExpired {
		t.Errorf("expected code_expired, got %s", result.Outcome)
	}

	stored, _ := f.repo.FindCode(context.Background(), code.Code)
	if stored.AccessCount != 1 {
		t.Errorf("an expired lookup still counts as access, got %d", stored.AccessCount)
	}
}

func TestCodeNormalization(t *testing.T) {
	f := newFixture(t, nil)
	f.captureAllArtifacts(t)
	code := f.issueCode(t, 0)

	grouped := fmt.Sprintf("%s-%s %s_%s",
		code.Code[0:4], code.Code[4:8], code.Code[8:12], code.Code[12:16])

	result, err := f.engine.VerifyByCode(context.Background(), grouped, "", "")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Outcome != OutcomeVerified {
		t.Errorf("grouped code form must resolve, got %s", result.Outcome)
	}
}

func TestVerifyByHashIsAnonymous(t *testing.T) {
	f := newFixture(t, nil)
	f.captureAllArtifacts(t)
	code := f.issueCode(t, 0)

	result, err := f.engine.VerifyByHash(context.Background(), f.doc.ContentHash, "198.51.100.4", "test-agent")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Outcome != OutcomeVerified {
		t.Fatalf("expected verified, got %s", result.Outcome)
	}

	stored, _ := f.repo.FindCode(context.Background(), code.Code)
	if stored.AccessCount != 0 {
		t.Errorf("hash lookups must not count against the code, got %d", stored.AccessCount)
	}
	log := f.repo.LogEntries()
	if len(log) != 1 {
		t.Fatalf("a hash lookup is logged when a code exists, got %d entries", len(log))
	}
}

func TestVerifyByHashUnknownDocument(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.engine.VerifyByHash(context.Background(), "deadbeef", "", "")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Outcome != OutcomeDocumentNotFound {
		t.Errorf("expected document_not_found, got %s", result.Outcome)
	}
}

func TestCacheServesRepeatLookups(t *testing.T) {
	f := newFixture(t, NewMemoryCache())
	f.captureAllArtifacts(t)
	code := f.issueCode(t, 0)

	first, err := f.engine.VerifyByCode(context.Background(), code.Code, "", "")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	retrievals := f.content.calls

	second, err := f.engine.VerifyByCode(context.Background(), code.Code, "", "")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if f.content.calls != retrievals {
		t.Error("a cached lookup must not re-read stored content")
	}
	if second.Confidence.Score != first.Confidence.Score || second.Outcome != first.Outcome {
		t.Error("cached and computed results must agree")
	}

	// Only the computation is cached; the lookup itself still counts and
	// is still logged.
	stored, _ := f.repo.FindCode(context.Background(), code.Code)
	if stored.AccessCount != 2 {
		t.Errorf("a cached lookup must still count as access, got %d", stored.AccessCount)
	}
	log := f.repo.LogEntries()
	if len(log) != 2 {
		t.Fatalf("a cached lookup must still be logged, got %d entries", len(log))
	}
	if log[1].DocumentID == nil || *log[1].DocumentID != f.doc.ID {
		t.Error("the cached lookup's log entry must carry the document id")
	}
}

func TestVerificationRunsLandOnAuditTrail(t *testing.T) {
	f := newFixture(t, NewMemoryCache())
	f.captureAllArtifacts(t)
	code := f.issueCode(t, 0)

	if _, err := f.engine.VerifyByCode(context.Background(), code.Code, "", ""); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if len(f.audits.recorded) != 1 || f.audits.recorded[0] != audit.ActionVerificationRun {
		t.Errorf("expected one recorded verification run, got %v", f.audits.recorded)
	}

	// A cache hit repeats the answer, not the audit record.
	if _, err := f.engine.VerifyByCode(context.Background(), code.Code, "", ""); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if len(f.audits.recorded) != 1 {
		t.Errorf("a cached lookup must not be re-recorded, got %v", f.audits.recorded)
	}
}

func TestNormalizeCodeForms(t *testing.T) {
	cases := map[string]string{
		"ab12-cd34":      "AB12CD34",
		" AB12 CD34 ":    "AB12CD34",
		"ab12_cd34.ef56": "AB12CD34EF56",
		"AB12CD34":       "AB12CD34",
	}
	for in, want := range cases {
		if got := NormalizeCode(in); got != want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", in, got, want)
		}
	}
}
