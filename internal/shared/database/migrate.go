package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the schema. Statements are idempotent so the runner can be
// executed on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS evidence`,

		`CREATE TABLE IF NOT EXISTS evidence.documents (
			id UUID PRIMARY KEY,
			tenant_id UUID,
			document_type TEXT NOT NULL,
			filename TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			page_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_content_hash
			ON evidence.documents (content_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_tenant
			ON evidence.documents (tenant_id)`,

		`CREATE TABLE IF NOT EXISTS evidence.tsa_tokens (
			id UUID PRIMARY KEY,
			provider TEXT NOT NULL,
			hashed_message TEXT NOT NULL,
			issued_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			raw BYTEA NOT NULL,
			verified_at TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS evidence.tsa_chains (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES evidence.documents(id),
			tenant_id UUID,
			preserved_hash TEXT NOT NULL,
			hash_algorithm TEXT NOT NULL,
			status TEXT NOT NULL,
			seal_count INT NOT NULL DEFAULT 0,
			last_seal_at TIMESTAMPTZ,
			next_seal_due_at TIMESTAMPTZ,
			last_verified_at TIMESTAMPTZ,
			verification_status TEXT NOT NULL DEFAULT 'unverified',
			successor_id UUID,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_chain_per_document
			ON evidence.tsa_chains (document_id) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_chains_next_seal_due
			ON evidence.tsa_chains (next_seal_due_at) WHERE status = 'active'`,

		`CREATE TABLE IF NOT EXISTS evidence.tsa_chain_entries (
			id UUID PRIMARY KEY,
			chain_id UUID NOT NULL REFERENCES evidence.tsa_chains(id) ON DELETE CASCADE,
			sequence INT NOT NULL,
			token_id UUID NOT NULL REFERENCES evidence.tsa_tokens(id),
			previous_entry_id UUID,
			previous_entry_hash TEXT,
			cumulative_hash TEXT NOT NULL,
			reseal_reason TEXT NOT NULL,
			sealed_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			UNIQUE (chain_id, sequence)
		)`,

		`CREATE TABLE IF NOT EXISTS evidence.retention_policies (
			id UUID PRIMARY KEY,
			tenant_id UUID,
			document_type TEXT,
			name TEXT NOT NULL,
			retention_years INT NOT NULL,
			retention_days INT NOT NULL DEFAULT 0,
			archive_after_days INT,
			deep_archive_after_days INT,
			reseal_interval_days INT NOT NULL,
			reseal_lead_days INT NOT NULL,
			on_expiry_action TEXT NOT NULL,
			require_pdfa BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			priority INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_one_default_policy_per_scope
			ON evidence.retention_policies (COALESCE(tenant_id, '00000000-0000-0000-0000-000000000000'::uuid))
			WHERE is_default AND is_active`,

		`CREATE TABLE IF NOT EXISTS evidence.archived_documents (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES evidence.documents(id),
			tenant_id UUID,
			chain_id UUID REFERENCES evidence.tsa_chains(id),
			policy_id UUID REFERENCES evidence.retention_policies(id),
			storage_tier TEXT NOT NULL,
			storage_disk TEXT NOT NULL,
			storage_path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			archive_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			reseal_count INT NOT NULL DEFAULT 0,
			archived_at TIMESTAMPTZ NOT NULL,
			next_reseal_at TIMESTAMPTZ,
			retention_expires_at TIMESTAMPTZ NOT NULL,
			last_verified_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_retention_expiry
			ON evidence.archived_documents (retention_expires_at) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_archived_tier
			ON evidence.archived_documents (storage_tier, archived_at)`,

		`CREATE TABLE IF NOT EXISTS evidence.audit_entries (
			id UUID PRIMARY KEY,
			resource_type TEXT NOT NULL,
			resource_id UUID NOT NULL,
			sequence BIGINT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			hash TEXT NOT NULL,
			prev_hash TEXT,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			detail JSONB,
			UNIQUE (resource_type, resource_id, sequence)
		)`,

		`CREATE TABLE IF NOT EXISTS evidence.audit_checkpoints (
			id UUID PRIMARY KEY,
			resource_type TEXT NOT NULL,
			resource_id UUID NOT NULL,
			checkpoint_hash TEXT NOT NULL,
			last_sequence BIGINT NOT NULL,
			entry_count INT NOT NULL,
			witness_proof BYTEA,
			witness_status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS evidence.evidence_artifacts (
			id UUID PRIMARY KEY,
			subject_type TEXT NOT NULL,
			subject_id UUID NOT NULL,
			kind TEXT NOT NULL,
			payload JSONB,
			captured_at TIMESTAMPTZ NOT NULL,
			UNIQUE (subject_type, subject_id, kind)
		)`,

		`CREATE TABLE IF NOT EXISTS evidence.verification_codes (
			code TEXT PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES evidence.documents(id),
			expires_at TIMESTAMPTZ,
			access_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS evidence.verification_log (
			id UUID PRIMARY KEY,
			code TEXT,
			document_id UUID,
			ip TEXT,
			user_agent TEXT,
			result TEXT NOT NULL,
			score INT NOT NULL,
			verified_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for i, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d failed: %w", i, err)
		}
	}

	return nil
}
