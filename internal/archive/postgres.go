package archive

import (
	"context"
	"time"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides database operations for archived documents
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new archive repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

const archiveColumns = `id, document_id, tenant_id, chain_id, policy_id,
	storage_tier, storage_disk, storage_path, content_hash, archive_hash,
	status, reseal_count, archived_at, next_reseal_at, retention_expires_at,
	last_verified_at, updated_at`

func scanArchived(row pgx.Row) (*ArchivedDocument, error) {
	a := &ArchivedDocument{}
	err := row.Scan(
		&a.ID, &a.DocumentID, &a.TenantID, &a.ChainID, &a.PolicyID,
		&a.StorageTier, &a.StorageDisk, &a.StoragePath, &a.ContentHash, &a.ArchiveHash,
		&a.Status, &a.ResealCount, &a.ArchivedAt, &a.NextResealAt, &a.RetentionExpiresAt,
		&a.LastVerifiedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Save saves a new archived document record
func (r *PostgresRepository) Save(ctx context.Context, a *ArchivedDocument) error {
	query := `
		INSERT INTO evidence.archived_documents (` + archiveColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.DocumentID, a.TenantID, a.ChainID, a.PolicyID,
		a.StorageTier, a.StorageDisk, a.StoragePath, a.ContentHash, a.ArchiveHash,
		a.Status, a.ResealCount, a.ArchivedAt, a.NextResealAt, a.RetentionExpiresAt,
		a.LastVerifiedAt, a.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save archived document")
	}
	return nil
}

// FindByID finds an archived document by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*ArchivedDocument, error) {
	query := `SELECT ` + archiveColumns + ` FROM evidence.archived_documents WHERE id = $1`

	a, err := scanArchived(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("archived document", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find archived document")
	}
	return a, nil
}

// FindByDocumentID finds the live archive record for a document
func (r *PostgresRepository) FindByDocumentID(ctx context.Context, documentID types.ID) (*ArchivedDocument, error) {
	query := `SELECT ` + archiveColumns + `
		FROM evidence.archived_documents
		WHERE document_id = $1 AND status != 'deleted'
		ORDER BY archived_at DESC
		LIMIT 1`

	a, err := scanArchived(r.pool.QueryRow(ctx, query, documentID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("archived document", documentID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find archived document")
	}
	return a, nil
}

// TransitionStatus atomically moves a record between statuses
func (r *PostgresRepository) TransitionStatus(ctx context.Context, id types.ID, from, to Status) (bool, error) {
	query := `
		UPDATE evidence.archived_documents
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`

	tag, err := r.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return false, errors.Wrap(err, "failed to transition archive status")
	}
	return tag.RowsAffected() == 1, nil
}

// Activate commits a pending record, linking its seal chain
func (r *PostgresRepository) Activate(ctx context.Context, id types.ID, chainID *types.ID, resealCount int) error {
	query := `
		UPDATE evidence.archived_documents
		SET status = 'active', chain_id = $2, reseal_count = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	tag, err := r.pool.Exec(ctx, query, id, chainID, resealCount)
	if err != nil {
		return errors.Wrap(err, "failed to activate archived document")
	}
	if tag.RowsAffected() == 0 {
		return errors.Conflict("archived document is not pending")
	}
	return nil
}

// Delete removes an uncommitted record outright
func (r *PostgresRepository) Delete(ctx context.Context, id types.ID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM evidence.archived_documents WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete archived document")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("archived document", id.String())
	}
	return nil
}

// UpdateLocation moves a record to a new tier, disk and path
func (r *PostgresRepository) UpdateLocation(ctx context.Context, id types.ID, tier Tier, disk, path string) error {
	query := `
		UPDATE evidence.archived_documents
		SET storage_tier = $2, storage_disk = $3, storage_path = $4, updated_at = NOW()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, tier, disk, path)
	if err != nil {
		return errors.Wrap(err, "failed to update archive location")
	}
	return nil
}

// UpdateExpiry moves a record's retention expiry
func (r *PostgresRepository) UpdateExpiry(ctx context.Context, id types.ID, until time.Time) error {
	query := `
		UPDATE evidence.archived_documents
		SET retention_expires_at = $2, updated_at = NOW()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, until)
	if err != nil {
		return errors.Wrap(err, "failed to update retention expiry")
	}
	return nil
}

// MarkVerified records a successful integrity verification
func (r *PostgresRepository) MarkVerified(ctx context.Context, id types.ID, at time.Time) error {
	query := `
		UPDATE evidence.archived_documents
		SET last_verified_at = $2, updated_at = NOW()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return errors.Wrap(err, "failed to mark archive verified")
	}
	return nil
}

// FindExpiring returns active records with lapsed retention
func (r *PostgresRepository) FindExpiring(ctx context.Context, asOf time.Time, limit int) ([]*ArchivedDocument, error) {
	query := `SELECT ` + archiveColumns + `
		FROM evidence.archived_documents
		WHERE status = 'active' AND retention_expires_at <= $1
		ORDER BY retention_expires_at
		LIMIT $2`

	return r.queryMany(ctx, query, asOf, limit)
}

// FindForTierMigration returns active records due for tier migration
func (r *PostgresRepository) FindForTierMigration(ctx context.Context, tier Tier, archivedBefore time.Time, limit int) ([]*ArchivedDocument, error) {
	query := `SELECT ` + archiveColumns + `
		FROM evidence.archived_documents
		WHERE status = 'active' AND storage_tier = $1 AND archived_at < $2
		ORDER BY archived_at
		LIMIT $3`

	return r.queryMany(ctx, query, tier, archivedBefore, limit)
}

func (r *PostgresRepository) queryMany(ctx context.Context, query string, args ...any) ([]*ArchivedDocument, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query archived documents")
	}
	defer rows.Close()

	var out []*ArchivedDocument
	for rows.Next() {
		a, err := scanArchived(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan archived document")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
