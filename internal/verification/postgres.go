package verification

import (
	"context"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides database operations for verification codes
// and the lookup log
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new verification repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

// SaveCode saves a new verification code
func (r *PostgresRepository) SaveCode(ctx context.Context, c *Code) error {
	query := `
		INSERT INTO evidence.verification_codes (
			code, document_id, expires_at, access_count, created_at
		) VALUES ($1, $2, $3, $4, $5)`

	_, err := r.pool.Exec(ctx, query,
		c.Code, c.DocumentID, c.ExpiresAt, c.AccessCount, c.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save verification code")
	}
	return nil
}

const codeColumns = `code, document_id, expires_at, access_count, created_at`

func scanCode(row pgx.Row) (*Code, error) {
	c := &Code{}
	err := row.Scan(&c.Code, &c.DocumentID, &c.ExpiresAt, &c.AccessCount, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindCode looks up a normalized code
func (r *PostgresRepository) FindCode(ctx context.Context, code string) (*Code, error) {
	query := `SELECT ` + codeColumns + `
		FROM evidence.verification_codes
		WHERE code = $1`

	c, err := scanCode(r.pool.QueryRow(ctx, query, code))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("verification code", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find verification code")
	}
	return c, nil
}

// FindCodeByDocument returns any code issued for a document
func (r *PostgresRepository) FindCodeByDocument(ctx context.Context, documentID types.ID) (*Code, error) {
	query := `SELECT ` + codeColumns + `
		FROM evidence.verification_codes
		WHERE document_id = $1
		ORDER BY created_at
		LIMIT 1`

	c, err := scanCode(r.pool.QueryRow(ctx, query, documentID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("verification code", documentID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find verification code by document")
	}
	return c, nil
}

// IncrementAccess bumps a code's access counter
func (r *PostgresRepository) IncrementAccess(ctx context.Context, code string) error {
	query := `UPDATE evidence.verification_codes
		SET access_count = access_count + 1
		WHERE code = $1`

	tag, err := r.pool.Exec(ctx, query, code)
	if err != nil {
		return errors.Wrap(err, "failed to increment access count")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("verification code", code)
	}
	return nil
}

// AppendLog records a lookup attempt
func (r *PostgresRepository) AppendLog(ctx context.Context, e *LogEntry) error {
	query := `
		INSERT INTO evidence.verification_log (
			id, code, document_id, ip, user_agent, result, score, verified_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.Code, e.DocumentID, e.IP, e.UserAgent, e.Result, e.Score, e.VerifiedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to append verification log entry")
	}
	return nil
}
