// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package job

import "errors"

var (
	// ErrJobNotFound is returned when no job exists with the given ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotResumable is returned when resume is requested for a job
	// that is not in the interrupted state.
	ErrNotResumable = errors.New("job is not resumable")

	// ErrNotAbandonable is returned when abandon is requested for a job
	// already in a terminal state.
	ErrNotAbandonable = errors.New("job is not abandonable")

	// ErrAlreadyRunning is returned when a run or resume races with an
	// in-flight stage loop for the same job.
	ErrAlreadyRunning = errors.New("job is already running")

	// ErrStageTimeout is returned when a stage executor exceeds the
	// per-stage deadline.
	ErrStageTimeout = errors.New("stage execution timed out")
)
