// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepository stores checkpoints in the job_checkpoints table.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Save(ctx context.Context, cp *Checkpoint) error {
	query := `
		INSERT INTO job_checkpoints (job_id, stage_index, stage_type, stage_output, orchestration_context, cost_cents, tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (job_id, stage_index) DO UPDATE SET
			stage_type = EXCLUDED.stage_type,
			stage_output = EXCLUDED.stage_output,
			orchestration_context = EXCLUDED.orchestration_context,
			cost_cents = EXCLUDED.cost_cents,
			tokens = EXCLUDED.tokens,
			created_at = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		cp.JobID, cp.StageIndex, cp.StageType,
		[]byte(cp.StageOutput), nullableJSON(cp.OrchestrationContext),
		cp.CostCents, cp.Tokens)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for job %s stage %d: %w", cp.JobID, cp.StageIndex, err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, jobID string, stageIndex int) (*Checkpoint, error) {
	query := `
		SELECT job_id, stage_index, stage_type, stage_output, orchestration_context, cost_cents, tokens, created_at
		FROM job_checkpoints
		WHERE job_id = $1 AND stage_index = $2`

	cp, err := scanCheckpoint(r.db.QueryRowContext(ctx, query, jobID, stageIndex))
	if err == sql.ErrNoRows {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint for job %s stage %d: %w", jobID, stageIndex, err)
	}
	return cp, nil
}

func (r *PostgresRepository) ListForJob(ctx context.Context, jobID string) ([]*Checkpoint, error) {
	query := `
		SELECT job_id, stage_index, stage_type, stage_output, orchestration_context, cost_cents, tokens, created_at
		FROM job_checkpoints
		WHERE job_id = $1
		ORDER BY stage_index ASC`

	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var checkpoints []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

func (r *PostgresRepository) LatestForJob(ctx context.Context, jobID string) (*Checkpoint, error) {
	query := `
		SELECT job_id, stage_index, stage_type, stage_output, orchestration_context, cost_cents, tokens, created_at
		FROM job_checkpoints
		WHERE job_id = $1
		ORDER BY stage_index DESC
		LIMIT 1`

	cp, err := scanCheckpoint(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest checkpoint for job %s: %w", jobID, err)
	}
	return cp, nil
}

func (r *PostgresRepository) DeleteForJob(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM job_checkpoints WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoints for job %s: %w", jobID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var output []byte
	var orchContext sql.NullString

	err := row.Scan(&cp.JobID, &cp.StageIndex, &cp.StageType, &output,
		&orchContext, &cp.CostCents, &cp.Tokens, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}

	cp.StageOutput = output
	if orchContext.Valid {
		cp.OrchestrationContext = []byte(orchContext.String)
	}
	return &cp, nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
