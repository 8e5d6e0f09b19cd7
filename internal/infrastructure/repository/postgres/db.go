package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// schemaLockID serializes bootstrap DDL across replicas.
const schemaLockID int64 = 2026101601

func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS tenant_configs (
	tenant_id TEXT PRIMARY KEY,
	guardrail JSONB,
	timeouts JSONB,
	search JSONB,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS guardrail_audit (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	query TEXT NOT NULL,
	result_count INTEGER NOT NULL,
	answerable BOOLEAN NOT NULL,
	rationale JSONB NOT NULL,
	duration_ms BIGINT NOT NULL,
	decided_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS guardrail_audit_tenant_time ON guardrail_audit (tenant_id, decided_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
