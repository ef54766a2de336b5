package verification

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/evidentia/platform/internal/archive"
	"github.com/evidentia/platform/internal/audit"
	"github.com/evidentia/platform/internal/chain"
	"github.com/evidentia/platform/internal/document"
	"github.com/evidentia/platform/internal/evidence"
	"github.com/evidentia/platform/internal/hashing"
	"github.com/evidentia/platform/internal/shared/config"
	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/logger"
	"github.com/evidentia/platform/internal/shared/metrics"
	"github.com/evidentia/platform/internal/shared/types"
)

// ContentStore retrieves archived content for the document-hash check.
type ContentStore interface {
	Retrieve(ctx context.Context, id types.ID) (*archive.ArchivedDocument, []byte, error)
}

// ChainVerifier re-verifies a timestamp chain.
type ChainVerifier interface {
	VerifyChain(ctx context.Context, chainID types.ID) (*chain.Verification, error)
}

// AuditTrail re-walks a resource's audit chain and records the verification
// runs themselves onto it.
type AuditTrail interface {
	VerifyChain(ctx context.Context, resourceType string, resourceID types.ID) (*audit.ChainVerification, error)
	Record(ctx context.Context, resourceType string, resourceID types.ID, actor, action string, detail map[string]any) (*audit.Entry, error)
}

// Engine answers public verification lookups. Every check is recomputed
// from primary data; nothing is trusted from a previous verification.
type Engine struct {
	cfg       config.VerificationConfig
	repo      Repository
	docs      document.Repository
	archives  archive.Repository
	content   ContentStore
	chains    ChainVerifier
	audits    AuditTrail
	artifacts evidence.Store
	cache     Cache
}

// NewEngine creates a verification engine. A nil cache disables caching.
func NewEngine(
	cfg config.VerificationConfig,
	repo Repository,
	docs document.Repository,
	archives archive.Repository,
	content ContentStore,
	chains ChainVerifier,
	audits AuditTrail,
	artifacts evidence.Store,
	cache Cache,
) *Engine {
	if cache == nil {
		cache = NopCache{}
	}
	if cfg.CodeMinLength <= 0 {
		cfg.CodeMinLength = 8
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Engine{
		cfg:       cfg,
		repo:      repo,
		docs:      docs,
		archives:  archives,
		content:   content,
		chains:    chains,
		audits:    audits,
		artifacts: artifacts,
		cache:     cache,
	}
}

// codeAlphabet excludes ambiguous characters (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 16

// IssueCode creates an opaque verification code for a document. A zero
// validFor issues a code that never expires.
func (e *Engine) IssueCode(ctx context.Context, documentID types.ID, validFor time.Duration) (*Code, error) {
	if _, err := e.docs.FindByID(ctx, documentID); err != nil {
		return nil, err
	}

	raw := make([]byte, codeLength)
	for i := range raw {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return nil, errors.Wrap(err, "failed to generate verification code")
		}
		raw[i] = codeAlphabet[n.Int64()]
	}

	code := &Code{
		Code:       string(raw),
		DocumentID: documentID,
		CreatedAt:  time.Now().UTC(),
	}
	if validFor > 0 {
		expires := code.CreatedAt.Add(validFor)
		code.ExpiresAt = &expires
	}

	if err := e.repo.SaveCode(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// VerifyByCode resolves a user-supplied code and runs the full integrity
// routine. Malformed, unknown and expired codes are distinct results, not
// errors; each real lookup bumps the access counter and is logged.
func (e *Engine) VerifyByCode(ctx context.Context, rawCode, ip, userAgent string) (*Result, error) {
	code := NormalizeCode(rawCode)
	if len(code) < e.cfg.CodeMinLength {
		// Rejected before any repository access; there is nothing to log
		// against.
		return e.finish("code", &Result{
			Outcome:    OutcomeCodeTooShort,
			Error:      "verification code is too short",
			VerifiedAt: time.Now().UTC(),
		}), nil
	}

	// Only the computed result is cached. A repeat lookup still counts
	// against the code and still leaves a log entry.
	cacheKey := "code:" + code
	if cached, ok := e.cache.Get(ctx, cacheKey); ok {
		if cached.Outcome != OutcomeCodeNotFound {
			if err := e.repo.IncrementAccess(ctx, code); err != nil {
				logger.L().Warnw("failed to increment code access count", "code", code, "error", err)
			}
		}
		entry := &LogEntry{
			Code:       code,
			IP:         ip,
			UserAgent:  userAgent,
			Result:     cached.Outcome,
			Score:      cached.Confidence.Score,
			VerifiedAt: time.Now().UTC(),
		}
		if cached.Document != nil {
			entry.DocumentID = &cached.Document.ID
		}
		e.appendLog(ctx, entry)
		return e.finish("code", cached), nil
	}

	record, err := e.repo.FindCode(ctx, code)
	if errors.Is(err, errors.ErrNotFound) {
		result := &Result{
			Outcome:    OutcomeCodeNotFound,
			Error:      "verification code not found",
			VerifiedAt: time.Now().UTC(),
		}
		e.appendLog(ctx, &LogEntry{Code: code, IP: ip, UserAgent: userAgent, Result: result.Outcome, VerifiedAt: result.VerifiedAt})
		e.cache.Set(ctx, cacheKey, result, e.cfg.CacheTTL)
		return e.finish("code", result), nil
	}
	if err != nil {
		return nil, err
	}

	if err := e.repo.IncrementAccess(ctx, code); err != nil {
		logger.L().Warnw("failed to increment code access count", "code", code, "error", err)
	}

	now := time.Now().UTC()
	if record.Expired(now) {
		result := &Result{
			Outcome:    OutcomeCodeExpired,
			Error:      "verification code has expired",
			VerifiedAt: now,
		}
		e.appendLog(ctx, &LogEntry{Code: code, DocumentID: &record.DocumentID, IP: ip, UserAgent: userAgent, Result: result.Outcome, VerifiedAt: now})
		e.cache.Set(ctx, cacheKey, result, e.cfg.CacheTTL)
		return e.finish("code", result), nil
	}

	doc, err := e.docs.FindByID(ctx, record.DocumentID)
	if errors.Is(err, errors.ErrNotFound) {
		result := &Result{
			Outcome:    OutcomeDocumentNotFound,
			Error:      "document no longer exists",
			VerifiedAt: now,
		}
		e.appendLog(ctx, &LogEntry{Code: code, DocumentID: &record.DocumentID, IP: ip, UserAgent: userAgent, Result: result.Outcome, VerifiedAt: now})
		e.cache.Set(ctx, cacheKey, result, e.cfg.CacheTTL)
		return e.finish("code", result), nil
	}
	if err != nil {
		return nil, err
	}

	result := e.verifyFullIntegrity(ctx, doc)
	e.appendLog(ctx, &LogEntry{
		Code:       code,
		DocumentID: &doc.ID,
		IP:         ip,
		UserAgent:  userAgent,
		Result:     result.Outcome,
		Score:      result.Confidence.Score,
		VerifiedAt: result.VerifiedAt,
	})
	e.cache.Set(ctx, cacheKey, result, e.cfg.CacheTTL)
	return e.finish("code", result), nil
}

// VerifyByHash runs the integrity routine for an anonymously supplied
// content hash. Hash lookups carry no code state: no expiry, no access
// counting. The attempt is still logged when a code exists for the
// document.
func (e *Engine) VerifyByHash(ctx context.Context, rawHash, ip, userAgent string) (*Result, error) {
	hash := NormalizeHash(rawHash)

	cacheKey := "hash:" + hash
	if cached, ok := e.cache.Get(ctx, cacheKey); ok {
		if cached.Document != nil {
			if code, err := e.repo.FindCodeByDocument(ctx, cached.Document.ID); err == nil {
				e.appendLog(ctx, &LogEntry{
					Code:       code.Code,
					DocumentID: &cached.Document.ID,
					IP:         ip,
					UserAgent:  userAgent,
					Result:     cached.Outcome,
					Score:      cached.Confidence.Score,
					VerifiedAt: time.Now().UTC(),
				})
			}
		}
		return e.finish("hash", cached), nil
	}

	doc, err := e.docs.FindByContentHash(ctx, hash)
	if errors.Is(err, errors.ErrNotFound) {
		result := &Result{
			Outcome:    OutcomeDocumentNotFound,
			Error:      "no document matches this hash",
			VerifiedAt: time.Now().UTC(),
		}
		e.cache.Set(ctx, cacheKey, result, e.cfg.CacheTTL)
		return e.finish("hash", result), nil
	}
	if err != nil {
		return nil, err
	}

	result := e.verifyFullIntegrity(ctx, doc)

	if code, err := e.repo.FindCodeByDocument(ctx, doc.ID); err == nil {
		e.appendLog(ctx, &LogEntry{
			Code:       code.Code,
			DocumentID: &doc.ID,
			IP:         ip,
			UserAgent:  userAgent,
			Result:     result.Outcome,
			Score:      result.Confidence.Score,
			VerifiedAt: result.VerifiedAt,
		})
	}

	e.cache.Set(ctx, cacheKey, result, e.cfg.CacheTTL)
	return e.finish("hash", result), nil
}

// verifyFullIntegrity runs the seven evidence checks and aggregates them.
// Validity requires the two load-bearing checks (document hash and audit
// chain); the auxiliary signals only move the confidence score.
func (e *Engine) verifyFullIntegrity(ctx context.Context, doc *document.Document) *Result {
	now := time.Now().UTC()

	docCheck, archived := e.checkDocumentHash(ctx, doc)
	chainCheck := e.checkAuditChain(ctx, doc)
	tsCheck := e.checkTimestamp(ctx, archived)

	checks := []Check{docCheck, chainCheck, tsCheck}
	checks = append(checks, e.checkArtifacts(ctx, doc)...)

	score := 0
	for _, c := range checks {
		if c.Passed {
			score += c.Weight
		}
	}

	valid := docCheck.Passed && chainCheck.Passed

	result := &Result{
		Outcome:    OutcomeFailed,
		Valid:      valid,
		Confidence: Confidence{Score: score, Level: e.level(score)},
		Checks:     checks,
		VerifiedAt: now,
	}
	if valid {
		result.Outcome = OutcomeVerified
	} else {
		result.Error = "document integrity could not be confirmed"
	}

	result.Document = &DocumentSummary{
		ID:          doc.ID,
		Type:        string(doc.Type),
		Filename:    doc.Filename,
		ContentHash: doc.ContentHash,
		SizeBytes:   doc.SizeBytes,
		PageCount:   doc.PageCount,
		ArchivedAt:  doc.CreatedAt,
	}
	if archived != nil {
		result.Document.ArchivedAt = archived.ArchivedAt
	}

	if _, err := e.audits.Record(ctx, "document", doc.ID, "public", audit.ActionVerificationRun, map[string]any{
		"valid": result.Valid,
		"score": result.Confidence.Score,
	}); err != nil {
		logger.L().Warnw("failed to record verification audit entry",
			"document_id", doc.ID,
			"error", err,
		)
	}
	return result
}

// checkDocumentHash re-hashes the stored bytes and compares them to the
// registered content hash. Also returns the archival record so the
// timestamp check can reach the chain.
func (e *Engine) checkDocumentHash(ctx context.Context, doc *document.Document) (Check, *archive.ArchivedDocument) {
	check := Check{Name: CheckDocumentHash, Weight: e.cfg.WeightDocumentHash}

	archived, err := e.archives.FindByDocumentID(ctx, doc.ID)
	if err != nil {
		check.Detail = "document is not archived"
		return check, nil
	}

	_, content, err := e.content.Retrieve(ctx, archived.ID)
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrIntegrity):
			check.Detail = "stored content does not match its recorded hash"
		case errors.Is(err, errors.ErrUnavailable):
			check.Detail = "stored content is temporarily unavailable"
		default:
			check.Detail = "stored content could not be read"
		}
		return check, archived
	}

	if hashing.Hash(content) != doc.ContentHash {
		check.Detail = "stored content does not match the registered document hash"
		return check, archived
	}

	check.Passed = true
	return check, archived
}

func (e *Engine) checkAuditChain(ctx context.Context, doc *document.Document) Check {
	check := Check{Name: CheckChainHash, Weight: e.cfg.WeightChainHash}

	verification, err := e.audits.VerifyChain(ctx, "document", doc.ID)
	if err != nil {
		check.Detail = "audit chain could not be verified"
		return check
	}
	if !verification.Valid {
		check.Detail = fmt.Sprintf("audit chain invalid: %d defect(s)", len(verification.Errors))
		return check
	}

	check.Passed = true
	return check
}

func (e *Engine) checkTimestamp(ctx context.Context, archived *archive.ArchivedDocument) Check {
	check := Check{Name: CheckTimestamp, Weight: e.cfg.WeightTimestamp}

	if archived == nil || archived.ChainID == nil {
		check.Detail = "no timestamp chain exists for this document"
		return check
	}

	verification, err := e.chains.VerifyChain(ctx, *archived.ChainID)
	if err != nil {
		check.Detail = "timestamp chain could not be verified"
		return check
	}
	if !verification.Valid {
		check.Detail = fmt.Sprintf("timestamp chain invalid: %d defect(s)", len(verification.Errors))
		return check
	}

	check.Passed = true
	return check
}

// checkArtifacts scores presence of the four auxiliary evidence kinds. A
// missing capture system lowers confidence but never invalidates.
func (e *Engine) checkArtifacts(ctx context.Context, doc *document.Document) []Check {
	weights := map[evidence.Kind]int{
		evidence.KindDeviceFingerprint: e.cfg.WeightFingerprint,
		evidence.KindGeolocation:       e.cfg.WeightGeolocation,
		evidence.KindIPResolution:      e.cfg.WeightIPResolution,
		evidence.KindConsent:           e.cfg.WeightConsent,
	}
	names := map[evidence.Kind]string{
		evidence.KindDeviceFingerprint: CheckDeviceFingerprint,
		evidence.KindGeolocation:       CheckGeolocation,
		evidence.KindIPResolution:      CheckIPResolution,
		evidence.KindConsent:           CheckConsent,
	}

	present, err := e.artifacts.Kinds(ctx, evidence.DocumentSubject(doc.ID))
	if err != nil {
		logger.L().Warnw("failed to query evidence artifacts", "document_id", doc.ID, "error", err)
		present = map[evidence.Kind]bool{}
	}

	checks := make([]Check, 0, len(evidence.AllKinds))
	for _, kind := range evidence.AllKinds {
		check := Check{Name: names[kind], Weight: weights[kind], Passed: present[kind]}
		if !check.Passed {
			check.Detail = "not captured"
		}
		checks = append(checks, check)
	}
	return checks
}

func (e *Engine) level(score int) Level {
	switch {
	case score >= e.cfg.HighThreshold:
		return LevelHigh
	case score >= e.cfg.MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

func (e *Engine) appendLog(ctx context.Context, entry *LogEntry) {
	entry.ID = types.NewID()
	if err := e.repo.AppendLog(ctx, entry); err != nil {
		logger.L().Warnw("failed to append verification log entry",
			"code", entry.Code,
			"error", err,
		)
	}
}

func (e *Engine) finish(lookup string, result *Result) *Result {
	metrics.RecordPublicVerification(lookup, string(result.Outcome), result.Confidence.Score)
	return result
}
