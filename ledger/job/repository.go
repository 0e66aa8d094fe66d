// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package job

import "context"

// Repository persists jobs. UpdateStatus transitions are validated by
// the orchestrator, not the repository; the repository only checks the
// compare-and-swap expectations it is given.
type Repository interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)

	// UpdateStatus sets the job's status, guarded by the expected
	// current status. Returns ErrAlreadyRunning when the guard fails on
	// a transition into running, ErrJobNotFound otherwise.
	UpdateStatus(ctx context.Context, jobID string, from, to JobStatus) error

	// SetProgress records the last completed stage index.
	SetProgress(ctx context.Context, jobID string, lastCompletedStage int) error

	// SetFailure marks the job failed and records why.
	SetFailure(ctx context.Context, jobID string, reason string) error

	// ListByAccount returns an account's jobs, newest first.
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Job, error)

	// RecoverRunning moves every running job to interrupted and returns
	// the affected job IDs. Called once at startup: the service is a
	// single logical instance, so a running row with no live stage loop
	// is a leftover from a dead process.
	RecoverRunning(ctx context.Context) ([]string, error)
}
