// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"time"
)

// migration is one schema change. Migrations are embedded rather than
// shipped as files so the binary is self-contained; versions are
// tracked in schema_migrations and never re-run.
type migration struct {
	version string
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: "001",
		name:    "accounts",
		sql: `
			CREATE TABLE IF NOT EXISTS accounts (
				id            TEXT PRIMARY KEY,
				name          TEXT NOT NULL DEFAULT '',
				balance_cents BIGINT NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
				blocked_cents BIGINT NOT NULL DEFAULT 0 CHECK (blocked_cents >= 0),
				created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		version: "002",
		name:    "reservations",
		sql: `
			CREATE TABLE IF NOT EXISTS reservations (
				id           TEXT PRIMARY KEY,
				account_id   TEXT NOT NULL REFERENCES accounts(id),
				job_id       TEXT NOT NULL,
				amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
				status       TEXT NOT NULL CHECK (status IN ('open', 'settled', 'cancelled')),
				created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				closed_at    TIMESTAMPTZ
			);

			-- At most one open reservation per job. The application checks
			-- first; this index makes the invariant hold under races.
			CREATE UNIQUE INDEX IF NOT EXISTS uq_reservations_open_job
				ON reservations (job_id) WHERE status = 'open';

			CREATE INDEX IF NOT EXISTS idx_reservations_account
				ON reservations (account_id, created_at DESC);
		`,
	},
	{
		version: "003",
		name:    "transactions",
		sql: `
			CREATE TABLE IF NOT EXISTS transactions (
				id                  TEXT PRIMARY KEY,
				account_id          TEXT NOT NULL REFERENCES accounts(id),
				kind                TEXT NOT NULL CHECK (kind IN ('debit', 'credit')),
				amount_cents        BIGINT NOT NULL CHECK (amount_cents >= 0),
				real_cost_cents     BIGINT NOT NULL DEFAULT 0,
				markup_bps          BIGINT NOT NULL DEFAULT 0,
				job_id              TEXT NOT NULL DEFAULT '',
				balance_after_cents BIGINT NOT NULL,
				memo                TEXT NOT NULL DEFAULT '',
				created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_transactions_account_created
				ON transactions (account_id, created_at DESC);

			CREATE INDEX IF NOT EXISTS idx_transactions_job
				ON transactions (job_id) WHERE job_id <> '';
		`,
	},
	{
		version: "004",
		name:    "jobs",
		sql: `
			CREATE TABLE IF NOT EXISTS jobs (
				id                   TEXT PRIMARY KEY,
				account_id           TEXT NOT NULL REFERENCES accounts(id),
				tier                 TEXT NOT NULL,
				stages               TEXT[] NOT NULL,
				document_chars       BIGINT NOT NULL,
				status               TEXT NOT NULL CHECK (status IN ('pending', 'running', 'interrupted', 'completed', 'abandoned', 'failed')),
				last_completed_stage INT NOT NULL DEFAULT -1,
				reservation_id       TEXT,
				estimate_cents       BIGINT NOT NULL DEFAULT 0,
				pre_auth_cents       BIGINT NOT NULL DEFAULT 0,
				ceiling_cents        BIGINT NOT NULL DEFAULT 0,
				failure_reason       TEXT,
				document             JSONB,
				created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_jobs_account_created
				ON jobs (account_id, created_at DESC);

			CREATE INDEX IF NOT EXISTS idx_jobs_status
				ON jobs (status) WHERE status IN ('interrupted', 'failed');
		`,
	},
	{
		version: "005",
		name:    "job_checkpoints",
		sql: `
			CREATE TABLE IF NOT EXISTS job_checkpoints (
				job_id                TEXT NOT NULL,
				stage_index           INT NOT NULL,
				stage_type            TEXT NOT NULL,
				stage_output          JSONB NOT NULL,
				orchestration_context JSONB,
				cost_cents            BIGINT NOT NULL DEFAULT 0,
				tokens                BIGINT NOT NULL DEFAULT 0,
				created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (job_id, stage_index)
			);
		`,
	},
}

// runMigrations applies any pending migrations in version order.
func runMigrations(db *sql.DB) error {
	if err := ensureSchemaMigrationsTable(db); err != nil {
		return err
	}

	applied, err := appliedMigrations(db)
	if err != nil {
		return err
	}

	ran := 0
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		start := time.Now()
		if _, err := db.Exec(m.sql); err != nil {
			recordMigration(db, m, time.Since(start), err)
			return fmt.Errorf("migration %s_%s failed: %w", m.version, m.name, err)
		}
		recordMigration(db, m, time.Since(start), nil)
		log.Printf("[Migrations] Applied %s_%s (%dms)", m.version, m.name, time.Since(start).Milliseconds())
		ran++
	}

	if ran == 0 {
		log.Println("[Migrations] Schema up to date")
	} else {
		log.Printf("[Migrations] Applied %d migrations", ran)
	}
	return nil
}

func ensureSchemaMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version           VARCHAR(10) PRIMARY KEY,
			name              TEXT NOT NULL,
			checksum          VARCHAR(64),
			execution_time_ms BIGINT,
			success           BOOLEAN NOT NULL DEFAULT TRUE,
			error_message     TEXT,
			applied_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

func appliedMigrations(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations WHERE success = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func recordMigration(db *sql.DB, m migration, elapsed time.Duration, migErr error) {
	sum := sha256.Sum256([]byte(m.sql))
	checksum := hex.EncodeToString(sum[:])

	var errMsg sql.NullString
	if migErr != nil {
		errMsg = sql.NullString{String: migErr.Error(), Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO schema_migrations (version, name, checksum, execution_time_ms, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (version) DO UPDATE SET
			success = EXCLUDED.success,
			error_message = EXCLUDED.error_message,
			execution_time_ms = EXCLUDED.execution_time_ms,
			applied_at = NOW()
	`, m.version, m.name, checksum, elapsed.Milliseconds(), migErr == nil, errMsg)
	if err != nil {
		log.Printf("[Migrations] WARNING: failed to record migration %s: %v", m.version, err)
	}
}
