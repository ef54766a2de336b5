package audit

import (
	"context"
	"encoding/json"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides database operations for audit entries
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new audit repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

// SaveEntry appends an audit entry. The unique sequence index rejects a
// concurrent append at the same position.
func (r *PostgresRepository) SaveEntry(ctx context.Context, e *Entry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit detail")
	}

	query := `
		INSERT INTO evidence.audit_entries (
			id, resource_type, resource_id, sequence, timestamp,
			hash, prev_hash, actor, action, detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.pool.Exec(ctx, query,
		e.ID, e.ResourceType, e.ResourceID, e.Sequence, e.Timestamp,
		e.Hash, e.PrevHash, e.Actor, e.Action, detail,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save audit entry")
	}
	return nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	var detail []byte
	err := row.Scan(
		&e.ID, &e.ResourceType, &e.ResourceID, &e.Sequence, &e.Timestamp,
		&e.Hash, &e.PrevHash, &e.Actor, &e.Action, &detail,
	)
	if err != nil {
		return nil, err
	}
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return nil, err
		}
	}
	return e, nil
}

const entryColumns = `id, resource_type, resource_id, sequence, timestamp,
	hash, prev_hash, actor, action, detail`

// LastEntry returns the newest entry for a resource
func (r *PostgresRepository) LastEntry(ctx context.Context, resourceType string, resourceID types.ID) (*Entry, error) {
	query := `SELECT ` + entryColumns + `
		FROM evidence.audit_entries
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY sequence DESC
		LIMIT 1`

	e, err := scanEntry(r.pool.QueryRow(ctx, query, resourceType, resourceID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("audit entry", resourceID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find last audit entry")
	}
	return e, nil
}

// Entries returns a resource's full chain in sequence order
func (r *PostgresRepository) Entries(ctx context.Context, resourceType string, resourceID types.ID) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + `
		FROM evidence.audit_entries
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY sequence`

	rows, err := r.pool.Query(ctx, query, resourceType, resourceID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan audit entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveCheckpoint saves a new checkpoint
func (r *PostgresRepository) SaveCheckpoint(ctx context.Context, c *Checkpoint) error {
	query := `
		INSERT INTO evidence.audit_checkpoints (
			id, resource_type, resource_id, checkpoint_hash,
			last_sequence, entry_count, witness_proof, witness_status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.ResourceType, c.ResourceID, c.CheckpointHash,
		c.LastSequence, c.EntryCount, c.WitnessProof, c.WitnessStatus, c.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save audit checkpoint")
	}
	return nil
}

// LastCheckpoint returns the newest checkpoint for a resource
func (r *PostgresRepository) LastCheckpoint(ctx context.Context, resourceType string, resourceID types.ID) (*Checkpoint, error) {
	query := `
		SELECT id, resource_type, resource_id, checkpoint_hash,
			last_sequence, entry_count, witness_proof, witness_status, created_at
		FROM evidence.audit_checkpoints
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at DESC
		LIMIT 1`

	c := &Checkpoint{}
	err := r.pool.QueryRow(ctx, query, resourceType, resourceID).Scan(
		&c.ID, &c.ResourceType, &c.ResourceID, &c.CheckpointHash,
		&c.LastSequence, &c.EntryCount, &c.WitnessProof, &c.WitnessStatus, &c.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("audit checkpoint", resourceID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find audit checkpoint")
	}
	return c, nil
}
