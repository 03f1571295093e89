package postgres

import (
	"context"
	"fmt"
	"time"

	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema bootstraps every table the pipeline needs. Safe to run from
// api and worker concurrently.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082301)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS jobs (
	document_id TEXT PRIMARY KEY,
	content_ref TEXT NOT NULL,
	stage_sequence JSONB NOT NULL,
	current_stage TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts JSONB NOT NULL DEFAULT '{}'::jsonb,
	confidence_scores JSONB NOT NULL DEFAULT '{}'::jsonb,
	last_error TEXT NOT NULL DEFAULT '',
	extracted_text TEXT NOT NULL DEFAULT '',
	translated_text TEXT NOT NULL DEFAULT '',
	translation_skipped BOOLEAN NOT NULL DEFAULT FALSE,
	category TEXT NOT NULL DEFAULT '',
	lease_owner TEXT,
	lease_expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs_archive (LIKE jobs INCLUDING ALL);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at DESC);

CREATE TABLE IF NOT EXISTS audit_entries (
	seq BIGINT PRIMARY KEY,
	document_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	event_type TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	actor TEXT NOT NULL,
	payload_digest TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	entry_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_entries_archive (LIKE audit_entries INCLUDING ALL);

CREATE INDEX IF NOT EXISTS idx_audit_document_id ON audit_entries(document_id, seq);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_entries(ts);

CREATE TABLE IF NOT EXISTS dead_letters (
	document_id TEXT PRIMARY KEY,
	stage TEXT NOT NULL,
	last_error TEXT NOT NULL,
	attempts INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
