package document

import (
	"context"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines document storage operations
type Repository interface {
	Save(ctx context.Context, d *Document) error
	FindByID(ctx context.Context, id types.ID) (*Document, error)
	FindByContentHash(ctx context.Context, hash string) (*Document, error)
}

// PostgresRepository provides database operations for documents
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new document repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

// Save saves a new document
func (r *PostgresRepository) Save(ctx context.Context, d *Document) error {
	query := `
		INSERT INTO evidence.documents (
			id, tenant_id, document_type, filename,
			content_hash, size_bytes, page_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.TenantID, d.Type, d.Filename,
		d.ContentHash, d.SizeBytes, d.PageCount, d.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save document")
	}
	return nil
}

// FindByID finds a document by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*Document, error) {
	query := `
		SELECT id, tenant_id, document_type, filename,
			content_hash, size_bytes, page_count, created_at
		FROM evidence.documents
		WHERE id = $1`

	d := &Document{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.TenantID, &d.Type, &d.Filename,
		&d.ContentHash, &d.SizeBytes, &d.PageCount, &d.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find document")
	}
	return d, nil
}

// FindByContentHash finds a document by its content hash
func (r *PostgresRepository) FindByContentHash(ctx context.Context, hash string) (*Document, error) {
	query := `
		SELECT id, tenant_id, document_type, filename,
			content_hash, size_bytes, page_count, created_at
		FROM evidence.documents
		WHERE content_hash = $1
		ORDER BY created_at
		LIMIT 1`

	d := &Document{}
	err := r.pool.QueryRow(ctx, query, hash).Scan(
		&d.ID, &d.TenantID, &d.Type, &d.Filename,
		&d.ContentHash, &d.SizeBytes, &d.PageCount, &d.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document", hash)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find document by hash")
	}
	return d, nil
}
