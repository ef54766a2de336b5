package tsa

import (
	"context"
	"time"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenRepository defines timestamp token storage operations
type TokenRepository interface {
	Save(ctx context.Context, t *Token) error
	FindByID(ctx context.Context, id types.ID) (*Token, error)
	MarkVerified(ctx context.Context, id types.ID, at time.Time) error
	UpdateStatus(ctx context.Context, id types.ID, status TokenStatus) error
}

// PostgresTokenRepository provides database operations for tokens
type PostgresTokenRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresTokenRepository creates a new token repository
func NewPostgresTokenRepository(pool *pgxpool.Pool) *PostgresTokenRepository {
	return &PostgresTokenRepository{pool: pool}
}

var _ TokenRepository = (*PostgresTokenRepository)(nil)

// Save saves a new token
func (r *PostgresTokenRepository) Save(ctx context.Context, t *Token) error {
	query := `
		INSERT INTO evidence.tsa_tokens (
			id, provider, hashed_message, issued_at,
			expires_at, status, raw, verified_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		t.ID, t.Provider, t.HashedMessage, t.IssuedAt,
		t.ExpiresAt, t.Status, t.Raw, t.VerifiedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save token")
	}
	return nil
}

// FindByID finds a token by ID
func (r *PostgresTokenRepository) FindByID(ctx context.Context, id types.ID) (*Token, error) {
	query := `
		SELECT id, provider, hashed_message, issued_at,
			expires_at, status, raw, verified_at
		FROM evidence.tsa_tokens
		WHERE id = $1`

	t := &Token{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Provider, &t.HashedMessage, &t.IssuedAt,
		&t.ExpiresAt, &t.Status, &t.Raw, &t.VerifiedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("token", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find token")
	}
	return t, nil
}

// MarkVerified records a successful verification timestamp
func (r *PostgresTokenRepository) MarkVerified(ctx context.Context, id types.ID, at time.Time) error {
	query := `
		UPDATE evidence.tsa_tokens
		SET status = $2, verified_at = $3
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, TokenStatusValid, at)
	if err != nil {
		return errors.Wrap(err, "failed to mark token verified")
	}
	return nil
}

// UpdateStatus updates a token's status
func (r *PostgresTokenRepository) UpdateStatus(ctx context.Context, id types.ID, status TokenStatus) error {
	query := `
		UPDATE evidence.tsa_tokens
		SET status = $2
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return errors.Wrap(err, "failed to update token status")
	}
	return nil
}
