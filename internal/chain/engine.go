package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/evidentia/platform/internal/audit"
	"github.com/evidentia/platform/internal/document"
	"github.com/evidentia/platform/internal/shared/config"
	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/events"
	"github.com/evidentia/platform/internal/shared/logger"
	"github.com/evidentia/platform/internal/shared/metrics"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/evidentia/platform/internal/tsa"
)

// TokenService is the sealing surface the engine needs from the TSA client.
type TokenService interface {
	Seal(ctx context.Context, imprintHex string) (*tsa.Token, error)
	Verify(ctx context.Context, token *tsa.Token, imprintHex string) (*tsa.VerifyResult, error)
}

// AuditLog records chain operations on the owning document's audit trail.
type AuditLog interface {
	Record(ctx context.Context, resourceType string, resourceID types.ID, actor, action string, detail map[string]any) (*audit.Entry, error)
}

// Engine drives the chain lifecycle: initialization, scheduled re-sealing
// and verification.
type Engine struct {
	repo    Repository
	tokens  tsa.TokenRepository
	docs    document.Repository
	sealer  TokenService
	cfg     config.TSAConfig
	events  events.Publisher
	auditor AuditLog
}

// NewEngine creates a chain engine. A nil auditor disables audit recording.
func NewEngine(repo Repository, tokens tsa.TokenRepository, docs document.Repository, sealer TokenService, cfg config.TSAConfig, publisher events.Publisher, auditor AuditLog) *Engine {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Engine{
		repo:    repo,
		tokens:  tokens,
		docs:    docs,
		sealer:  sealer,
		cfg:     cfg,
		events:  publisher,
		auditor: auditor,
	}
}

func (e *Engine) recordAudit(ctx context.Context, documentID types.ID, action string, detail map[string]any) {
	if e.auditor == nil {
		return
	}
	if _, err := e.auditor.Record(ctx, "document", documentID, "system", action, detail); err != nil {
		logger.L().Warnw("failed to record audit entry",
			"action", action,
			"document_id", documentID,
			"error", err,
		)
	}
}

// InitializeChain opens a chain over a document's content hash and places
// the initial seal. A document has at most one active chain.
func (e *Engine) InitializeChain(ctx context.Context, documentID types.ID) (*Chain, error) {
	doc, err := e.docs.FindByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if existing, err := e.repo.FindActiveChainByDocument(ctx, documentID); err == nil {
		return nil, errors.Conflict(fmt.Sprintf("document already has active chain %s", existing.ID))
	}

	c := NewChain(doc.ID, doc.TenantID, doc.ContentHash)

	// Seal before persisting the chain so a provider outage cannot leave
	// an empty chain behind. An orphaned token is harmless.
	imprint := NextImprint(c.PreservedHash, nil)
	token, err := e.sealer.Seal(ctx, imprint)
	if err != nil {
		metrics.RecordReseal(string(ReasonInitial), "failure")
		return nil, err
	}
	if err := e.tokens.Save(ctx, token); err != nil {
		return nil, err
	}

	if err := e.repo.SaveChain(ctx, c); err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:             types.NewID(),
		ChainID:        c.ID,
		Sequence:       0,
		TokenID:        token.ID,
		CumulativeHash: imprint,
		ResealReason:   ReasonInitial,
		SealedAt:       token.IssuedAt,
		ExpiresAt:      token.ExpiresAt,
	}
	if err := e.repo.SaveEntry(ctx, entry); err != nil {
		return nil, err
	}

	c.SealCount = 1
	c.LastSealAt = &token.IssuedAt
	due := e.nextSealDue(token)
	c.NextSealDueAt = &due
	if err := e.repo.UpdateAfterSeal(ctx, c); err != nil {
		return nil, err
	}

	metrics.RecordReseal(string(ReasonInitial), "success")
	e.publish(ctx, events.NewEvent(events.TypeChainInitialized, "chain", map[string]any{
		"chain_id":    c.ID,
		"document_id": c.DocumentID,
	}).WithTenant(c.TenantID))
	e.recordAudit(ctx, c.DocumentID, audit.ActionChainInitialized, map[string]any{
		"chain_id": c.ID.String(),
	})

	return c, nil
}

// AbandonChain removes a chain opened by an archival that failed before
// committing. Only a chain still at its initial seal may be abandoned; a
// chain with re-seal history is evidence and stays.
func (e *Engine) AbandonChain(ctx context.Context, chainID types.ID) error {
	entries, err := e.repo.EntriesByChain(ctx, chainID)
	if err != nil {
		return err
	}
	if len(entries) > 1 {
		return errors.Conflict("chain has reseal history and cannot be abandoned")
	}
	return e.repo.DeleteChain(ctx, chainID)
}

// Reseal appends a new seal committing to every existing entry. The chain
// is held in the resealing status for the duration; a lost race against a
// concurrent reseal returns a conflict rather than a duplicate entry.
func (e *Engine) Reseal(ctx context.Context, chainID types.ID, reason ResealReason) (*Entry, error) {
	c, err := e.repo.FindChainByID(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, errors.Conflict(fmt.Sprintf("chain is %s and cannot be resealed", c.Status))
	}

	ok, err := e.repo.TransitionStatus(ctx, chainID, StatusActive, StatusResealing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Conflict("chain is not active; a reseal may already be in progress")
	}

	entry, err := e.resealLocked(ctx, c, reason)

	// The chain returns to active on success and failure alike; only a
	// verified integrity break moves it off active.
	if _, revertErr := e.repo.TransitionStatus(ctx, chainID, StatusResealing, StatusActive); revertErr != nil {
		logger.L().Errorw("failed to return chain to active after reseal",
			"chain_id", chainID,
			"error", revertErr,
		)
	}

	if err != nil {
		metrics.RecordReseal(string(reason), "failure")
		return nil, err
	}
	metrics.RecordReseal(string(reason), "success")

	e.publish(ctx, events.NewEvent(events.TypeChainResealed, "chain", map[string]any{
		"chain_id":    c.ID,
		"document_id": c.DocumentID,
		"sequence":    entry.Sequence,
		"reason":      reason,
	}).WithTenant(c.TenantID))
	e.recordAudit(ctx, c.DocumentID, audit.ActionChainResealed, map[string]any{
		"chain_id": c.ID.String(),
		"sequence": entry.Sequence,
		"reason":   string(reason),
	})

	if e.cfg.MaxChainLength > 0 && entry.Sequence+1 >= e.cfg.MaxChainLength {
		if err := e.completeAndSucceed(ctx, c); err != nil {
			logger.L().Errorw("failed to open successor chain",
				"chain_id", c.ID,
				"error", err,
			)
		}
	}

	return entry, nil
}

func (e *Engine) resealLocked(ctx context.Context, c *Chain, reason ResealReason) (*Entry, error) {
	entries, err := e.repo.EntriesByChain(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.Integrity("chain has no entries", map[string]string{
			"chain_id": c.ID.String(),
		})
	}

	imprint := NextImprint(c.PreservedHash, entries)
	token, err := e.sealer.Seal(ctx, imprint)
	if err != nil {
		return nil, err
	}
	if err := e.tokens.Save(ctx, token); err != nil {
		return nil, err
	}

	last := entries[len(entries)-1]
	entry := &Entry{
		ID:                types.NewID(),
		ChainID:           c.ID,
		Sequence:          last.Sequence + 1,
		TokenID:           token.ID,
		PreviousEntryID:   &last.ID,
		PreviousEntryHash: last.CumulativeHash,
		CumulativeHash:    imprint,
		ResealReason:      reason,
		SealedAt:          token.IssuedAt,
		ExpiresAt:         token.ExpiresAt,
	}
	if err := e.repo.SaveEntry(ctx, entry); err != nil {
		return nil, err
	}

	c.SealCount = len(entries) + 1
	c.LastSealAt = &token.IssuedAt
	due := e.nextSealDue(token)
	c.NextSealDueAt = &due
	if err := e.repo.UpdateAfterSeal(ctx, c); err != nil {
		return nil, err
	}

	return entry, nil
}

// completeAndSucceed closes a chain that reached its maximum length and
// opens a fresh chain over the same document.
func (e *Engine) completeAndSucceed(ctx context.Context, c *Chain) error {
	ok, err := e.repo.TransitionStatus(ctx, c.ID, StatusActive, StatusCompleted)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Conflict("chain left active state before completion")
	}

	successor, err := e.InitializeChain(ctx, c.DocumentID)
	if err != nil {
		return err
	}
	return e.repo.SetSuccessor(ctx, c.ID, successor.ID)
}

func (e *Engine) nextSealDue(token *tsa.Token) time.Time {
	due := token.ExpiresAt.AddDate(0, 0, -e.cfg.ResealLeadDays)
	if e.cfg.MaxResealIntervalDays > 0 {
		ceiling := time.Now().UTC().AddDate(0, 0, e.cfg.MaxResealIntervalDays)
		if ceiling.Before(due) {
			due = ceiling
		}
	}
	return due
}

// Verification is the full result of a chain verification. Errors are
// accumulated across all entries so a single run reports every defect.
type Verification struct {
	ChainID         types.ID  `json:"chain_id"`
	Valid           bool      `json:"valid"`
	Errors          []string  `json:"errors,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
	EntriesVerified int       `json:"entries_verified"`
	VerifiedAt      time.Time `json:"verified_at"`
}

// VerifyChain checks every entry of a chain: sequence contiguity, previous
// entry hashes, cumulative hash recomputation, timestamp token validity and
// temporal ordering, plus the preserved hash against the live document. A
// transport-level inability to verify returns an error and leaves the chain
// untouched; only proven defects mark it broken.
func (e *Engine) VerifyChain(ctx context.Context, chainID types.ID) (*Verification, error) {
	c, err := e.repo.FindChainByID(ctx, chainID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result := &Verification{ChainID: chainID, VerifiedAt: now}
	lapsedOnly := true

	doc, err := e.docs.FindByID(ctx, c.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.ContentHash != c.PreservedHash {
		result.Errors = append(result.Errors,
			"preserved hash does not match current document content hash")
		lapsedOnly = false
	}

	entries, err := e.repo.EntriesByChain(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		result.Errors = append(result.Errors, "chain has no entries")
		lapsedOnly = false
	}

	warnWindow := time.Duration(e.cfg.CertExpiryWarnDays) * 24 * time.Hour

	for i, entry := range entries {
		prefix := fmt.Sprintf("entry %d", entry.Sequence)

		if entry.Sequence != i {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: expected sequence %d", prefix, i))
			lapsedOnly = false
		}

		if i == 0 {
			if entry.PreviousEntryHash != "" || entry.PreviousEntryID != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s: must not reference a previous entry", prefix))
				lapsedOnly = false
			}
		} else {
			prev := entries[i-1]
			if entry.PreviousEntryHash != prev.CumulativeHash {
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s: previous entry hash mismatch", prefix))
				lapsedOnly = false
			}
			if entry.PreviousEntryID == nil || *entry.PreviousEntryID != prev.ID {
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s: previous entry link mismatch", prefix))
				lapsedOnly = false
			}
			if entry.SealedAt.Before(prev.SealedAt) {
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s: sealed before its predecessor", prefix))
				lapsedOnly = false
			}
		}

		expected := NextImprint(c.PreservedHash, entries[:i])
		if entry.CumulativeHash != expected {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: cumulative hash mismatch", prefix))
			lapsedOnly = false
		}

		token, err := e.tokens.FindByID(ctx, entry.TokenID)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: timestamp token missing", prefix))
			lapsedOnly = false
			continue
		}

		verify, err := e.sealer.Verify(ctx, token, entry.CumulativeHash)
		if err != nil {
			// Indeterminate: the token could not be checked at all. Report
			// upward without judging the chain.
			return nil, errors.Wrap(err, fmt.Sprintf("unable to verify token for %s", prefix))
		}
		if !verify.Valid {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: timestamp invalid: %s", prefix, verify.Message))
			lapsedOnly = false
		}

		result.EntriesVerified++

		// Only the newest seal carries the chain's ongoing validity.
		if i == len(entries)-1 {
			if token.IsExpired(now) {
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s: latest seal expired at %s", prefix, token.ExpiresAt.Format(time.RFC3339)))
			} else if token.ExpiresWithin(now, warnWindow) {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("%s: seal expires at %s; reseal soon", prefix, token.ExpiresAt.Format(time.RFC3339)))
			}
		}
	}

	result.Valid = len(result.Errors) == 0
	metrics.RecordChainVerification(result.Valid)

	status := VerificationVerified
	if !result.Valid {
		status = VerificationFailed
	}
	if err := e.repo.UpdateVerification(ctx, chainID, status, now); err != nil {
		return nil, err
	}
	e.recordAudit(ctx, c.DocumentID, audit.ActionChainVerified, map[string]any{
		"chain_id": c.ID.String(),
		"valid":    result.Valid,
	})

	if !result.Valid {
		target := StatusBroken
		if lapsedOnly {
			// Every seal checks out but the newest lapsed: the chain is
			// expired, not tampered with.
			target = StatusExpired
		}
		moved, err := e.repo.TransitionStatus(ctx, chainID, StatusActive, target)
		if err != nil {
			return nil, err
		}
		if moved && target == StatusBroken {
			metrics.RecordChainBroken()
			e.publish(ctx, events.NewEvent(events.TypeChainBroken, "chain", map[string]any{
				"chain_id":    c.ID,
				"document_id": c.DocumentID,
				"errors":      result.Errors,
			}).WithTenant(c.TenantID))
			e.recordAudit(ctx, c.DocumentID, audit.ActionChainBroken, map[string]any{
				"chain_id": c.ID.String(),
				"errors":   len(result.Errors),
			})
		}
	}

	return result, nil
}

// ResealDueChains reseals every active chain whose next seal is due. One
// failing chain never stops the sweep.
func (e *Engine) ResealDueChains(ctx context.Context, now time.Time, limit int) (*types.BatchResult, error) {
	due, err := e.repo.DueForReseal(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	result := types.NewBatchResult()
	for _, c := range due {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if _, err := e.Reseal(ctx, c.ID, ReasonScheduled); err != nil {
			result.RecordFailure(c.ID, err)
			logger.L().Warnw("scheduled reseal failed",
				"chain_id", c.ID,
				"error", err,
			)
			continue
		}
		result.RecordSuccess()
	}
	return result, nil
}

// ReverifyChains re-runs verification on active chains whose last check
// is older than the given time. A chain that verifies as broken is a
// processed item, not a failure; only an inability to verify counts as one.
func (e *Engine) ReverifyChains(ctx context.Context, verifiedBefore time.Time, limit int) (*types.BatchResult, error) {
	due, err := e.repo.DueForVerification(ctx, verifiedBefore, limit)
	if err != nil {
		return nil, err
	}

	result := types.NewBatchResult()
	for _, c := range due {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		verification, err := e.VerifyChain(ctx, c.ID)
		if err != nil {
			result.RecordFailure(c.ID, err)
			logger.L().Warnw("periodic chain verification failed",
				"chain_id", c.ID,
				"error", err,
			)
			continue
		}
		if !verification.Valid {
			logger.L().Errorw("periodic verification found an invalid chain",
				"chain_id", c.ID,
				"errors", verification.Errors,
			)
		}
		result.RecordSuccess()
	}
	return result, nil
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if err := e.events.Publish(ctx, event); err != nil {
		logger.L().Warnw("failed to publish event",
			"type", event.Type,
			"error", err,
		)
	}
}
