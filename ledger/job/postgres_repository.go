// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package job

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"veralex/platform/ledger/estimate"
)

// PostgresRepository stores jobs in the jobs table.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const jobColumns = `id, account_id, tier, stages, document_chars, status, last_completed_stage,
	reservation_id, estimate_cents, pre_auth_cents, ceiling_cents, failure_reason, document, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, j *Job) error {
	query := `
		INSERT INTO jobs (id, account_id, tier, stages, document_chars, status, last_completed_stage,
			reservation_id, estimate_cents, pre_auth_cents, ceiling_cents, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())`

	_, err := r.db.ExecContext(ctx, query,
		j.ID, j.AccountID, string(j.Tier), pq.Array(stageStrings(j.Stages)),
		j.DocumentChars, string(j.Status), j.LastCompletedStage,
		nullString(j.ReservationID), j.EstimateCents, j.PreAuthCents, j.CeilingCents,
		nullBytes(j.Document))
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return fmt.Errorf("job %s already exists: %w", j.ID, err)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, jobID string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	j, err := scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return j, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, jobID string, from, to JobStatus) error {
	query := `
		UPDATE jobs SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	result, err := r.db.ExecContext(ctx, query, string(to), jobID, string(from))
	if err != nil {
		return fmt.Errorf("failed to update job %s status: %w", jobID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job %s status: %w", jobID, err)
	}
	if rows == 0 {
		// Distinguish a missing job from a lost status race.
		if _, getErr := r.Get(ctx, jobID); getErr != nil {
			return getErr
		}
		if to == StatusRunning {
			return ErrAlreadyRunning
		}
		return fmt.Errorf("job %s is not in status %s", jobID, from)
	}
	return nil
}

func (r *PostgresRepository) SetProgress(ctx context.Context, jobID string, lastCompletedStage int) error {
	query := `
		UPDATE jobs SET last_completed_stage = $1, updated_at = NOW()
		WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, lastCompletedStage, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job %s progress: %w", jobID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *PostgresRepository) SetFailure(ctx context.Context, jobID string, reason string) error {
	query := `
		UPDATE jobs SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, string(StatusFailed), reason, jobID, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", jobID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// Only a running job can fail; anything else already reached a
		// terminal state through another path.
		if _, getErr := r.Get(ctx, jobID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("job %s is not running", jobID)
	}
	return nil
}

func (r *PostgresRepository) RecoverRunning(ctx context.Context) ([]string, error) {
	query := `
		UPDATE jobs SET status = $1, updated_at = NOW()
		WHERE status = $2
		RETURNING id`

	rows, err := r.db.QueryContext(ctx, query, string(StatusInterrupted), string(StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to recover running jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan recovered job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var tier, status string
	var stages pq.StringArray
	var reservationID, failureReason sql.NullString
	var document []byte

	err := row.Scan(&j.ID, &j.AccountID, &tier, &stages, &j.DocumentChars,
		&status, &j.LastCompletedStage, &reservationID,
		&j.EstimateCents, &j.PreAuthCents, &j.CeilingCents,
		&failureReason, &document, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	j.Tier = estimate.Tier(tier)
	j.Status = JobStatus(status)
	j.Stages = make([]estimate.StageType, len(stages))
	for i, s := range stages {
		j.Stages[i] = estimate.StageType(s)
	}
	j.ReservationID = reservationID.String
	j.FailureReason = failureReason.String
	j.Document = document
	return &j, nil
}

func stageStrings(stages []estimate.StageType) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
