package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/evidentia/platform/internal/audit"
	"github.com/evidentia/platform/internal/chain"
	"github.com/evidentia/platform/internal/document"
	"github.com/evidentia/platform/internal/hashing"
	"github.com/evidentia/platform/internal/retention"
	"github.com/evidentia/platform/internal/shared/config"
	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/events"
	"github.com/evidentia/platform/internal/shared/logger"
	"github.com/evidentia/platform/internal/shared/metrics"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/evidentia/platform/internal/storage"
)

// ChainService is the seal-chain surface the lifecycle needs: opening a
// chain at archival, discarding one when the archival fails to commit, and
// re-verifying it during integrity checks.
type ChainService interface {
	InitializeChain(ctx context.Context, documentID types.ID) (*chain.Chain, error)
	AbandonChain(ctx context.Context, chainID types.ID) error
	VerifyChain(ctx context.Context, chainID types.ID) (*chain.Verification, error)
}

// AuditLog records archive operations on the document audit trail.
type AuditLog interface {
	Record(ctx context.Context, resourceType string, resourceID types.ID, actor, action string, detail map[string]any) (*audit.Entry, error)
}

// Lifecycle drives the archive lifecycle: archival, tier migration,
// integrity verification and retention expiry execution.
type Lifecycle struct {
	repo      Repository
	docs      document.Repository
	disks     *storage.Manager
	chains    ChainService
	retention *retention.Engine
	cfg       config.ArchiveConfig
	events    events.Publisher
	auditor   AuditLog
}

// NewLifecycle creates an archive lifecycle. The chain service may be nil;
// documents are then archived without a seal chain. A nil auditor disables
// audit recording.
func NewLifecycle(repo Repository, docs document.Repository, disks *storage.Manager, chains ChainService, ret *retention.Engine, cfg config.ArchiveConfig, publisher events.Publisher, auditor AuditLog) *Lifecycle {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Lifecycle{
		repo:      repo,
		docs:      docs,
		disks:     disks,
		chains:    chains,
		retention: ret,
		cfg:       cfg,
		events:    publisher,
		auditor:   auditor,
	}
}

func (l *Lifecycle) recordAudit(ctx context.Context, documentID types.ID, action string, detail map[string]any) {
	if l.auditor == nil {
		return
	}
	if _, err := l.auditor.Record(ctx, "document", documentID, "system", action, detail); err != nil {
		logger.L().Warnw("failed to record audit entry",
			"action", action,
			"document_id", documentID,
			"error", err,
		)
	}
}

func (l *Lifecycle) diskFor(tier Tier) string {
	switch tier {
	case TierCold:
		if l.cfg.ColdDisk != "" {
			return l.cfg.ColdDisk
		}
		return "cold"
	case TierArchive:
		if l.cfg.ArchiveDisk != "" {
			return l.cfg.ArchiveDisk
		}
		return "archive"
	default:
		if l.cfg.HotDisk != "" {
			return l.cfg.HotDisk
		}
		return "hot"
	}
}

func storagePath(tier Tier, tenantID *types.ID, documentID types.ID) string {
	tenant := "shared"
	if tenantID != nil {
		tenant = tenantID.String()
	}
	return fmt.Sprintf("%s/%s/%s", tier, tenant, documentID)
}

// Archive stores document content on the hot tier, opens its seal chain and
// commits the archival record with the resolved retention window. The
// record is pending until the final activation; any failure compensates
// everything written so far, so neither an orphaned object, a pending
// record nor a chain without its archive survives a failed attempt.
func (l *Lifecycle) Archive(ctx context.Context, documentID types.ID, content []byte) (*ArchivedDocument, error) {
	doc, err := l.docs.FindByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if hashing.Hash(content) != doc.ContentHash {
		return nil, errors.Integrity("content does not match the document's recorded hash", map[string]string{
			"document_id": documentID.String(),
		})
	}

	if existing, err := l.repo.FindByDocumentID(ctx, documentID); err == nil {
		return nil, errors.Conflict(fmt.Sprintf("document already archived as %s", existing.ID))
	}

	policy, err := l.retention.PolicyForDocument(ctx, doc.TenantID, string(doc.Type))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	disk := l.diskFor(TierHot)
	path := storagePath(TierHot, doc.TenantID, doc.ID)

	if err := l.disks.Put(ctx, disk, path, content); err != nil {
		return nil, errors.Wrap(err, "failed to store document content")
	}

	record := &ArchivedDocument{
		ID:                 types.NewID(),
		DocumentID:         doc.ID,
		TenantID:           doc.TenantID,
		StorageTier:        TierHot,
		StorageDisk:        disk,
		StoragePath:        path,
		ContentHash:        doc.ContentHash,
		ArchiveHash:        ComputeArchiveHash(doc, now),
		Status:             StatusPending,
		ArchivedAt:         now,
		RetentionExpiresAt: l.retention.ExpiresAt(policy, now),
		UpdatedAt:          now,
	}
	if !policy.ID.IsZero() {
		record.PolicyID = &policy.ID
	}
	next := policy.NextResealAt(now)
	record.NextResealAt = &next

	if err := l.repo.Save(ctx, record); err != nil {
		l.removeObject(ctx, disk, path)
		return nil, err
	}

	if l.chains != nil {
		c, err := l.chains.InitializeChain(ctx, doc.ID)
		if err != nil {
			l.abortArchive(ctx, record, nil)
			return nil, errors.Wrap(err, "failed to initialize seal chain")
		}
		record.ChainID = &c.ID
		record.ResealCount = c.SealCount
	}

	if err := l.repo.Activate(ctx, record.ID, record.ChainID, record.ResealCount); err != nil {
		l.abortArchive(ctx, record, record.ChainID)
		return nil, err
	}
	record.Status = StatusActive

	metrics.RecordDocumentArchived(string(TierHot))
	l.publish(ctx, events.NewEvent(events.TypeDocumentArchived, "archive", map[string]any{
		"archived_document_id": record.ID,
		"document_id":          doc.ID,
		"tier":                 record.StorageTier,
	}).WithTenant(doc.TenantID))
	l.recordAudit(ctx, doc.ID, audit.ActionDocumentArchived, map[string]any{
		"archived_document_id": record.ID.String(),
		"tier":                 string(record.StorageTier),
	})

	return record, nil
}

// abortArchive unwinds a failed archival: the stored object, the pending
// record and, when one was already opened, the seal chain.
func (l *Lifecycle) abortArchive(ctx context.Context, record *ArchivedDocument, chainID *types.ID) {
	l.removeObject(ctx, record.StorageDisk, record.StoragePath)
	if err := l.repo.Delete(ctx, record.ID); err != nil {
		logger.L().Warnw("failed to remove pending archive record",
			"archived_document_id", record.ID,
			"error", err,
		)
	}
	if chainID != nil && l.chains != nil {
		if err := l.chains.AbandonChain(ctx, *chainID); err != nil {
			logger.L().Warnw("failed to abandon seal chain after aborted archival",
				"chain_id", *chainID,
				"error", err,
			)
		}
	}
}

// Retrieve returns the archived content after checking it still matches the
// recorded content hash.
func (l *Lifecycle) Retrieve(ctx context.Context, id types.ID) (*ArchivedDocument, []byte, error) {
	a, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if a.Status == StatusDeleted {
		return nil, nil, errors.NotFound("archived document", id.String())
	}

	content, err := l.disks.Get(ctx, a.StorageDisk, a.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrRestoreInProgress) {
			return nil, nil, errors.Unavailable("content is being restored from deep archive; retry later")
		}
		return nil, nil, errors.Wrap(err, "failed to read archived content")
	}

	if hashing.Hash(content) != a.ContentHash {
		return nil, nil, errors.Integrity("archived content does not match its recorded hash", map[string]string{
			"archived_document_id": id.String(),
		})
	}
	return a, content, nil
}

// MoveTier migrates an archived document to another storage tier using a
// copy-then-switch sequence: the new object is written and the record
// updated before the old object is removed, so a crash never leaves the
// record pointing at nothing. Moving to the current tier is a no-op.
func (l *Lifecycle) MoveTier(ctx context.Context, id types.ID, target Tier) (*ArchivedDocument, error) {
	if !ValidTier(target) {
		return nil, errors.BadRequest("unknown storage tier: " + string(target))
	}

	a, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusDeleted {
		return nil, errors.Conflict("archived document is deleted")
	}
	if a.StorageTier == target {
		return a, nil
	}

	ok, err := l.repo.TransitionStatus(ctx, id, StatusActive, StatusMigrating)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Conflict("archived document is not active; a migration may be in progress")
	}

	from := a.StorageTier
	moved, err := l.moveLocked(ctx, a, target)

	if _, revertErr := l.repo.TransitionStatus(ctx, id, StatusMigrating, StatusActive); revertErr != nil {
		logger.L().Errorw("failed to return archive record to active after migration",
			"archived_document_id", id,
			"error", revertErr,
		)
	}

	if err != nil {
		metrics.RecordTierMigration(string(from), string(target), "failure")
		return nil, err
	}
	metrics.RecordTierMigration(string(from), string(target), "success")

	l.publish(ctx, events.NewEvent(events.TypeTierMigrated, "archive", map[string]any{
		"archived_document_id": id,
		"from":                 from,
		"to":                   target,
	}).WithTenant(a.TenantID))
	l.recordAudit(ctx, a.DocumentID, audit.ActionTierMigrated, map[string]any{
		"archived_document_id": id.String(),
		"from":                 string(from),
		"to":                   string(target),
	})

	return moved, nil
}

func (l *Lifecycle) moveLocked(ctx context.Context, a *ArchivedDocument, target Tier) (*ArchivedDocument, error) {
	content, err := l.disks.Get(ctx, a.StorageDisk, a.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrRestoreInProgress) {
			return nil, errors.Unavailable("content is being restored from deep archive; retry later")
		}
		return nil, errors.Wrap(err, "failed to read content for migration")
	}

	targetDisk := l.diskFor(target)
	targetPath := storagePath(target, a.TenantID, a.DocumentID)

	if err := l.disks.Put(ctx, targetDisk, targetPath, content); err != nil {
		return nil, errors.Wrap(err, "failed to write content to target tier")
	}

	if err := l.repo.UpdateLocation(ctx, a.ID, target, targetDisk, targetPath); err != nil {
		l.removeObject(ctx, targetDisk, targetPath)
		return nil, err
	}

	// The record now points at the new object; the old one is surplus.
	l.removeObject(ctx, a.StorageDisk, a.StoragePath)

	a.StorageTier = target
	a.StorageDisk = targetDisk
	a.StoragePath = targetPath
	return a, nil
}

// MigrateTiers demotes hot documents past the cold threshold and cold
// documents past the deep-archive threshold.
func (l *Lifecycle) MigrateTiers(ctx context.Context, now time.Time, limit int) (*types.BatchResult, error) {
	result := types.NewBatchResult()

	if l.cfg.ColdAfterDays > 0 {
		cutoff := now.AddDate(0, 0, -l.cfg.ColdAfterDays)
		if err := l.migrateBatch(ctx, TierHot, TierCold, cutoff, limit, result); err != nil {
			return result, err
		}
	}
	if l.cfg.ArchiveAfterDays > 0 {
		cutoff := now.AddDate(0, 0, -l.cfg.ArchiveAfterDays)
		if err := l.migrateBatch(ctx, TierCold, TierArchive, cutoff, limit, result); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (l *Lifecycle) migrateBatch(ctx context.Context, from, to Tier, cutoff time.Time, limit int, result *types.BatchResult) error {
	due, err := l.repo.FindForTierMigration(ctx, from, cutoff, limit)
	if err != nil {
		return err
	}

	for _, a := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := l.MoveTier(ctx, a.ID, to); err != nil {
			result.RecordFailure(a.ID, err)
			logger.L().Warnw("tier migration failed",
				"archived_document_id", a.ID,
				"from", from,
				"to", to,
				"error", err,
			)
			continue
		}
		result.RecordSuccess()
	}
	return nil
}

// IntegrityResult reports an archived document integrity check.
type IntegrityResult struct {
	ArchivedDocumentID types.ID  `json:"archived_document_id"`
	Valid              bool      `json:"valid"`
	Errors             []string  `json:"errors,omitempty"`
	Warnings           []string  `json:"warnings,omitempty"`
	VerifiedAt         time.Time `json:"verified_at"`
}

// retentionWarnWindow is how far ahead of retention expiry VerifyIntegrity
// starts warning.
const retentionWarnWindow = 30 * 24 * time.Hour

// VerifyIntegrity re-reads the stored content, checks the content hash and
// the archive hash binding, and re-verifies the seal chain. Overdue reseals
// and an approaching retention expiry surface as warnings, never errors.
func (l *Lifecycle) VerifyIntegrity(ctx context.Context, id types.ID) (*IntegrityResult, error) {
	a, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result := &IntegrityResult{ArchivedDocumentID: id, VerifiedAt: now}

	content, err := l.disks.Get(ctx, a.StorageDisk, a.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrRestoreInProgress) {
			return nil, errors.Unavailable("content is being restored from deep archive; retry later")
		}
		result.Errors = append(result.Errors, "stored content unreadable: "+err.Error())
	} else if hashing.Hash(content) != a.ContentHash {
		result.Errors = append(result.Errors, "stored content does not match recorded content hash")
	}

	doc, err := l.docs.FindByID(ctx, a.DocumentID)
	if err != nil {
		result.Errors = append(result.Errors, "source document record missing")
	} else if ComputeArchiveHash(doc, a.ArchivedAt) != a.ArchiveHash {
		result.Errors = append(result.Errors, "archive hash does not recompute from document identity")
	}

	if a.ChainID != nil && l.chains != nil {
		verification, err := l.chains.VerifyChain(ctx, *a.ChainID)
		if err != nil {
			result.Errors = append(result.Errors, "seal chain could not be verified: "+err.Error())
		} else {
			for _, e := range verification.Errors {
				result.Errors = append(result.Errors, "seal chain: "+e)
			}
			for _, w := range verification.Warnings {
				result.Warnings = append(result.Warnings, "seal chain: "+w)
			}
		}
	}

	if a.NextResealAt != nil && a.NextResealAt.Before(now) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("reseal overdue since %s", a.NextResealAt.Format(time.RFC3339)))
	}
	switch {
	case a.RetentionExpiresAt.Before(now):
		result.Warnings = append(result.Warnings, "retention window has lapsed")
	case a.RetentionExpiresAt.Before(now.Add(retentionWarnWindow)):
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("retention expires at %s", a.RetentionExpiresAt.Format(time.RFC3339)))
	}

	result.Valid = len(result.Errors) == 0
	if result.Valid {
		if err := l.repo.MarkVerified(ctx, id, now); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// SoftDelete removes the stored content and marks the record deleted. The
// record itself, with its hashes, is retained as evidence of what existed.
func (l *Lifecycle) SoftDelete(ctx context.Context, id types.ID) error {
	a, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == StatusDeleted {
		return nil
	}

	ok, err := l.repo.TransitionStatus(ctx, id, a.Status, StatusDeleted)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Conflict("archived document changed state during delete")
	}

	l.removeObject(ctx, a.StorageDisk, a.StoragePath)
	return nil
}

// ExtendRetention moves the retention expiry forward.
func (l *Lifecycle) ExtendRetention(ctx context.Context, id types.ID, until time.Time) error {
	a, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if until.Before(a.RetentionExpiresAt) {
		return errors.BadRequest("retention can only be extended, not shortened")
	}
	return l.repo.UpdateExpiry(ctx, id, until)
}

// MarkExpired moves a record out of the active lifecycle once its retention
// has lapsed. The metadata stays; automated sweeps no longer touch it.
func (l *Lifecycle) MarkExpired(ctx context.Context, id types.ID) error {
	a, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	ok, err := l.repo.TransitionStatus(ctx, id, StatusActive, StatusExpired)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Conflict("archived document is not active")
	}

	l.recordAudit(ctx, a.DocumentID, audit.ActionRetentionExpired, map[string]any{
		"archived_document_id": id.String(),
		"retention_expired_at": a.RetentionExpiresAt.Format(time.RFC3339),
	})
	return nil
}

func (l *Lifecycle) removeObject(ctx context.Context, disk, path string) {
	if err := l.disks.Delete(ctx, disk, path); err != nil && !errors.Is(err, storage.ErrNotExist) {
		logger.L().Warnw("failed to remove stored object",
			"disk", disk,
			"path", path,
			"error", err,
		)
	}
}

func (l *Lifecycle) publish(ctx context.Context, event events.Event) {
	if err := l.events.Publish(ctx, event); err != nil {
		logger.L().Warnw("failed to publish event",
			"type", event.Type,
			"error", err,
		)
	}
}

// expiryStore adapts the lifecycle to the retention engine's sweep.
type expiryStore struct {
	lc *Lifecycle
}

// ExpiryStore exposes the lifecycle as a retention expiry target.
func (l *Lifecycle) ExpiryStore() retention.ExpiryStore {
	return &expiryStore{lc: l}
}

func (s *expiryStore) FindExpiring(ctx context.Context, asOf time.Time, limit int) ([]retention.ExpiryItem, error) {
	records, err := s.lc.repo.FindExpiring(ctx, asOf, limit)
	if err != nil {
		return nil, err
	}

	items := make([]retention.ExpiryItem, 0, len(records))
	for _, a := range records {
		item := retention.ExpiryItem{
			ID:         a.ID,
			TenantID:   a.TenantID,
			ArchivedAt: a.ArchivedAt,
			ExpiresAt:  a.RetentionExpiresAt,
		}
		if doc, err := s.lc.docs.FindByID(ctx, a.DocumentID); err == nil {
			item.DocumentType = string(doc.Type)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *expiryStore) Archive(ctx context.Context, id types.ID) error {
	if _, err := s.lc.MoveTier(ctx, id, TierArchive); err != nil {
		return err
	}
	// Expiring takes the record out of the active sweep so it is not
	// reprocessed every run.
	return s.lc.MarkExpired(ctx, id)
}

func (s *expiryStore) Delete(ctx context.Context, id types.ID) error {
	return s.lc.SoftDelete(ctx, id)
}

func (s *expiryStore) Extend(ctx context.Context, id types.ID, until time.Time) error {
	return s.lc.ExtendRetention(ctx, id, until)
}

func (s *expiryStore) Notify(ctx context.Context, id types.ID) error {
	if err := s.lc.MarkExpired(ctx, id); err != nil {
		return err
	}
	logger.L().Infow("retention lapsed; operator attention required",
		"archived_document_id", id,
	)
	return nil
}
