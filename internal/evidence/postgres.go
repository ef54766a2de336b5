package evidence

import (
	"context"
	"encoding/json"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore provides database operations for evidence artifacts
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new evidence store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// Save upserts an artifact. A re-capture of the same (subject, kind)
// replaces the payload.
func (s *PostgresStore) Save(ctx context.Context, a *Artifact) error {
	if !ValidKind(a.Kind) {
		return errors.BadRequest("unknown artifact kind: " + string(a.Kind))
	}

	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal artifact payload")
	}

	query := `
		INSERT INTO evidence.evidence_artifacts (
			id, subject_type, subject_id, kind, payload, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subject_type, subject_id, kind)
		DO UPDATE SET payload = EXCLUDED.payload, captured_at = EXCLUDED.captured_at`

	_, err = s.pool.Exec(ctx, query,
		a.ID, a.Subject.Type, a.Subject.ID, a.Kind, payload, a.CapturedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save evidence artifact")
	}
	return nil
}

// Find returns the artifact of a kind for a subject
func (s *PostgresStore) Find(ctx context.Context, subject Subject, kind Kind) (*Artifact, error) {
	query := `
		SELECT id, subject_type, subject_id, kind, payload, captured_at
		FROM evidence.evidence_artifacts
		WHERE subject_type = $1 AND subject_id = $2 AND kind = $3`

	a := &Artifact{}
	var payload []byte
	err := s.pool.QueryRow(ctx, query, subject.Type, subject.ID, kind).Scan(
		&a.ID, &a.Subject.Type, &a.Subject.ID, &a.Kind, &payload, &a.CapturedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("evidence artifact", string(kind))
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find evidence artifact")
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &a.Payload); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal artifact payload")
		}
	}
	return a, nil
}

// Kinds returns the set of artifact kinds present for a subject
func (s *PostgresStore) Kinds(ctx context.Context, subject Subject) (map[Kind]bool, error) {
	query := `
		SELECT kind FROM evidence.evidence_artifacts
		WHERE subject_type = $1 AND subject_id = $2`

	rows, err := s.pool.Query(ctx, query, subject.Type, subject.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query artifact kinds")
	}
	defer rows.Close()

	present := make(map[Kind]bool)
	for rows.Next() {
		var kind Kind
		if err := rows.Scan(&kind); err != nil {
			return nil, errors.Wrap(err, "failed to scan artifact kind")
		}
		present[kind] = true
	}
	return present, rows.Err()
}
