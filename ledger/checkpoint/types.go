// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

// Package checkpoint persists per-stage results so an interrupted job
// can resume from the last completed stage without re-running (and
// re-billing) the stages that already finished.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrCheckpointNotFound is returned when no checkpoint exists for the
// requested job and stage.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint records the durable outcome of one completed stage. The
// usage fields carry the stage's metered cost so a resumed job can
// rebuild its meter totals without double-counting.
type Checkpoint struct {
	JobID                string          `json:"job_id"`
	StageIndex           int             `json:"stage_index"`
	StageType            string          `json:"stage_type"`
	StageOutput          json.RawMessage `json:"stage_output"`
	OrchestrationContext json.RawMessage `json:"orchestration_context,omitempty"`
	CostCents            int64           `json:"cost_cents"`
	Tokens               int64           `json:"tokens"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Repository stores checkpoints keyed by (job_id, stage_index).
// Save is an upsert: re-running a stage after a crash overwrites the
// stale checkpoint rather than failing.
type Repository interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Get(ctx context.Context, jobID string, stageIndex int) (*Checkpoint, error)

	// ListForJob returns a job's checkpoints ordered by stage index.
	ListForJob(ctx context.Context, jobID string) ([]*Checkpoint, error)

	// LatestForJob returns the highest-indexed checkpoint, or
	// ErrCheckpointNotFound when the job has none.
	LatestForJob(ctx context.Context, jobID string) (*Checkpoint, error)

	// DeleteForJob removes a job's checkpoints once the job is settled
	// and the outputs have been delivered.
	DeleteForJob(ctx context.Context, jobID string) error
}
