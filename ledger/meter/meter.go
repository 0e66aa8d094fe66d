// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

// Package meter accumulates real-time cost and token usage reported by
// stage executors and enforces a per-job hard ceiling. The ceiling is a
// safety backstop independent of the reservation amount: it catches
// runaway stages (retry storms, oversized outputs) before they can run
// up unbounded provider cost.
package meter

import (
	"context"
	"errors"
)

var (
	// ErrLimitExceeded is returned when a recorded delta pushes the job
	// over its hard ceiling. Fatal to the job; callers must stop issuing
	// stage work and must not suppress the signal.
	ErrLimitExceeded = errors.New("usage hard limit exceeded")

	// ErrMeterClosed is returned when usage is reported for a job whose
	// meter has been closed (settled, cancelled or failed). Late reports
	// from in-flight executors land here and are ignored by callers.
	ErrMeterClosed = errors.New("meter closed for job")

	// ErrMeterNotOpen is returned when usage is reported for a job that
	// was never opened
	ErrMeterNotOpen = errors.New("meter not open for job")
)

// Usage is the accumulated cost and token totals for a job.
type Usage struct {
	CostCents int64 `json:"cost_cents"`
	Tokens    int64 `json:"tokens"`
}

// Meter tracks per-job usage against a hard ceiling.
//
// Record applies the delta and then checks the ceiling, so the breaching
// delta itself is still counted: the provider cost was incurred whether
// or not the job is allowed to continue.
type Meter interface {
	// Open starts metering a job with the given ceiling. Opening an
	// already-open job is a no-op (the existing state wins), which makes
	// resume safe.
	Open(ctx context.Context, jobID string, ceilingCents int64) error

	// Seed restores accumulated totals for a job whose backing state was
	// lost (e.g. in-memory meter after a restart). It only applies when
	// no totals exist; durable state always wins.
	Seed(ctx context.Context, jobID string, usage Usage) error

	// Record adds a stage's usage delta and returns the new totals.
	// Returns ErrLimitExceeded (with totals) when the ceiling is crossed,
	// ErrMeterClosed for closed jobs, ErrMeterNotOpen for unknown jobs.
	Record(ctx context.Context, jobID string, stageIndex int, deltaCostCents, deltaTokens int64) (*Usage, error)

	// Totals returns the accumulated usage for a job.
	Totals(ctx context.Context, jobID string) (*Usage, error)

	// Close marks the job's meter terminal; subsequent Records are
	// rejected with ErrMeterClosed.
	Close(ctx context.Context, jobID string) error
}
