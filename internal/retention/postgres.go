package retention

import (
	"context"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides database operations for retention policies
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new policy repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

const policyColumns = `id, tenant_id, document_type, name, retention_years,
	retention_days, archive_after_days, deep_archive_after_days,
	reseal_interval_days, reseal_lead_days, on_expiry_action, require_pdfa,
	is_active, is_default, priority, created_at`

func scanPolicy(row pgx.Row) (*Policy, error) {
	p := &Policy{}
	err := row.Scan(
		&p.ID, &p.TenantID, &p.DocumentType, &p.Name, &p.RetentionYears,
		&p.RetentionDays, &p.ArchiveAfterDays, &p.DeepArchiveAfterDays,
		&p.ResealIntervalDays, &p.ResealLeadDays, &p.OnExpiryAction, &p.RequirePDFA,
		&p.IsActive, &p.IsDefault, &p.Priority, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Save saves a new policy
func (r *PostgresRepository) Save(ctx context.Context, p *Policy) error {
	query := `
		INSERT INTO evidence.retention_policies (` + policyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.TenantID, p.DocumentType, p.Name, p.RetentionYears,
		p.RetentionDays, p.ArchiveAfterDays, p.DeepArchiveAfterDays,
		p.ResealIntervalDays, p.ResealLeadDays, p.OnExpiryAction, p.RequirePDFA,
		p.IsActive, p.IsDefault, p.Priority, p.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save retention policy")
	}
	return nil
}

// FindByID finds a policy by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM evidence.retention_policies WHERE id = $1`

	p, err := scanPolicy(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("retention policy", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find retention policy")
	}
	return p, nil
}

// FindAll returns every policy, oldest first
func (r *PostgresRepository) FindAll(ctx context.Context) ([]*Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM evidence.retention_policies ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query retention policies")
	}
	defer rows.Close()

	var policies []*Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan retention policy")
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// FindByScope finds the highest-priority active policy for an exact scope
func (r *PostgresRepository) FindByScope(ctx context.Context, tenantID *types.ID, documentType *string) (*Policy, error) {
	query := `SELECT ` + policyColumns + `
		FROM evidence.retention_policies
		WHERE is_active
			AND tenant_id IS NOT DISTINCT FROM $1
			AND document_type IS NOT DISTINCT FROM $2
		ORDER BY priority DESC
		LIMIT 1`

	p, err := scanPolicy(r.pool.QueryRow(ctx, query, tenantID, documentType))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("retention policy", "scope")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find retention policy by scope")
	}
	return p, nil
}

// FindDefault finds the active default policy for a tenant scope
func (r *PostgresRepository) FindDefault(ctx context.Context, tenantID *types.ID) (*Policy, error) {
	query := `SELECT ` + policyColumns + `
		FROM evidence.retention_policies
		WHERE is_active AND is_default
			AND tenant_id IS NOT DISTINCT FROM $1
		LIMIT 1`

	p, err := scanPolicy(r.pool.QueryRow(ctx, query, tenantID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("default retention policy", "scope")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find default retention policy")
	}
	return p, nil
}

// Deactivate marks a policy inactive; policies are never deleted
func (r *PostgresRepository) Deactivate(ctx context.Context, id types.ID) error {
	query := `UPDATE evidence.retention_policies SET is_active = FALSE WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, "failed to deactivate retention policy")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("retention policy", id.String())
	}
	return nil
}
