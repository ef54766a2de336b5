package chain

import (
	"context"
	"time"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides database operations for chains and entries
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new chain repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

const chainColumns = `id, document_id, tenant_id, preserved_hash, hash_algorithm,
	status, seal_count, last_seal_at, next_seal_due_at, last_verified_at,
	verification_status, successor_id, created_at, updated_at`

func scanChain(row pgx.Row) (*Chain, error) {
	c := &Chain{}
	err := row.Scan(
		&c.ID, &c.DocumentID, &c.TenantID, &c.PreservedHash, &c.HashAlgorithm,
		&c.Status, &c.SealCount, &c.LastSealAt, &c.NextSealDueAt, &c.LastVerifiedAt,
		&c.VerificationStatus, &c.SuccessorID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SaveChain saves a new chain
func (r *PostgresRepository) SaveChain(ctx context.Context, c *Chain) error {
	query := `
		INSERT INTO evidence.tsa_chains (` + chainColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.DocumentID, c.TenantID, c.PreservedHash, c.HashAlgorithm,
		c.Status, c.SealCount, c.LastSealAt, c.NextSealDueAt, c.LastVerifiedAt,
		c.VerificationStatus, c.SuccessorID, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save chain")
	}
	return nil
}

// FindChainByID finds a chain by ID
func (r *PostgresRepository) FindChainByID(ctx context.Context, id types.ID) (*Chain, error) {
	query := `SELECT ` + chainColumns + ` FROM evidence.tsa_chains WHERE id = $1`

	c, err := scanChain(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("chain", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find chain")
	}
	return c, nil
}

// FindActiveChainByDocument finds the single active chain for a document
func (r *PostgresRepository) FindActiveChainByDocument(ctx context.Context, documentID types.ID) (*Chain, error) {
	query := `SELECT ` + chainColumns + `
		FROM evidence.tsa_chains
		WHERE document_id = $1 AND status = 'active'`

	c, err := scanChain(r.pool.QueryRow(ctx, query, documentID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("active chain", documentID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find active chain")
	}
	return c, nil
}

// TransitionStatus atomically moves a chain between statuses
func (r *PostgresRepository) TransitionStatus(ctx context.Context, id types.ID, from, to Status) (bool, error) {
	query := `
		UPDATE evidence.tsa_chains
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`

	tag, err := r.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return false, errors.Wrap(err, "failed to transition chain status")
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateAfterSeal persists seal bookkeeping after a successful reseal
func (r *PostgresRepository) UpdateAfterSeal(ctx context.Context, c *Chain) error {
	query := `
		UPDATE evidence.tsa_chains
		SET seal_count = $2, last_seal_at = $3, next_seal_due_at = $4, updated_at = NOW()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, c.ID, c.SealCount, c.LastSealAt, c.NextSealDueAt)
	if err != nil {
		return errors.Wrap(err, "failed to update chain after seal")
	}
	return nil
}

// UpdateVerification records the outcome of a chain verification
func (r *PostgresRepository) UpdateVerification(ctx context.Context, id types.ID, status VerificationStatus, at time.Time) error {
	query := `
		UPDATE evidence.tsa_chains
		SET verification_status = $2, last_verified_at = $3, updated_at = NOW()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, status, at)
	if err != nil {
		return errors.Wrap(err, "failed to update chain verification")
	}
	return nil
}

// SetSuccessor links a completed chain to its successor
func (r *PostgresRepository) SetSuccessor(ctx context.Context, id types.ID, successorID types.ID) error {
	query := `
		UPDATE evidence.tsa_chains
		SET successor_id = $2, updated_at = NOW()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, successorID)
	if err != nil {
		return errors.Wrap(err, "failed to set chain successor")
	}
	return nil
}

// DueForReseal returns active chains due for a reseal
func (r *PostgresRepository) DueForReseal(ctx context.Context, now time.Time, limit int) ([]*Chain, error) {
	query := `SELECT ` + chainColumns + `
		FROM evidence.tsa_chains
		WHERE status = 'active' AND next_seal_due_at <= $1
		ORDER BY next_seal_due_at
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query due chains")
	}
	defer rows.Close()

	var chains []*Chain
	for rows.Next() {
		c, err := scanChain(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan chain")
		}
		chains = append(chains, c)
	}
	return chains, rows.Err()
}

// DueForVerification returns active chains last verified before the given
// time, never-verified chains first
func (r *PostgresRepository) DueForVerification(ctx context.Context, verifiedBefore time.Time, limit int) ([]*Chain, error) {
	query := `SELECT ` + chainColumns + `
		FROM evidence.tsa_chains
		WHERE status = 'active'
			AND (last_verified_at IS NULL OR last_verified_at < $1)
		ORDER BY last_verified_at NULLS FIRST
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, verifiedBefore, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query chains due for verification")
	}
	defer rows.Close()

	var chains []*Chain
	for rows.Next() {
		c, err := scanChain(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan chain")
		}
		chains = append(chains, c)
	}
	return chains, rows.Err()
}

// SaveEntry appends a chain entry. The unique (chain_id, sequence) index
// rejects concurrent duplicate appends.
func (r *PostgresRepository) SaveEntry(ctx context.Context, e *Entry) error {
	query := `
		INSERT INTO evidence.tsa_chain_entries (
			id, chain_id, sequence, token_id, previous_entry_id,
			previous_entry_hash, cumulative_hash, reseal_reason, sealed_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.ChainID, e.Sequence, e.TokenID, e.PreviousEntryID,
		e.PreviousEntryHash, e.CumulativeHash, e.ResealReason, e.SealedAt, e.ExpiresAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save chain entry")
	}
	return nil
}

// DeleteChain removes a chain; its entries go with it via cascade
func (r *PostgresRepository) DeleteChain(ctx context.Context, id types.ID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM evidence.tsa_chains WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete chain")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("chain", id.String())
	}
	return nil
}

// EntriesByChain returns all entries for a chain in sequence order
func (r *PostgresRepository) EntriesByChain(ctx context.Context, chainID types.ID) ([]*Entry, error) {
	query := `
		SELECT id, chain_id, sequence, token_id, previous_entry_id,
			previous_entry_hash, cumulative_hash, reseal_reason, sealed_at, expires_at
		FROM evidence.tsa_chain_entries
		WHERE chain_id = $1
		ORDER BY sequence`

	rows, err := r.pool.Query(ctx, query, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query chain entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		err := rows.Scan(
			&e.ID, &e.ChainID, &e.Sequence, &e.TokenID, &e.PreviousEntryID,
			&e.PreviousEntryHash, &e.CumulativeHash, &e.ResealReason, &e.SealedAt, &e.ExpiresAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan chain entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
