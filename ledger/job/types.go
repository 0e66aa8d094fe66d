// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

// Package job runs metered analysis jobs end to end: it reserves funds
// before any stage executes, streams usage into the meter, checkpoints
// each completed stage, and settles or releases the reservation when
// the job reaches a terminal state.
package job

import (
	"encoding/json"
	"time"

	"veralex/platform/ledger/estimate"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	// StatusPending means funds are reserved but no stage has started.
	StatusPending JobStatus = "pending"
	// StatusRunning means the stage loop is executing.
	StatusRunning JobStatus = "running"
	// StatusInterrupted means the run stopped mid-stream (crash, stage
	// failure worth retrying, operator pause). Interrupted jobs can be
	// resumed.
	StatusInterrupted JobStatus = "interrupted"
	// StatusCompleted means every stage finished and the reservation
	// settled.
	StatusCompleted JobStatus = "completed"
	// StatusAbandoned means the client walked away; the reservation was
	// cancelled and the blocked funds released.
	StatusAbandoned JobStatus = "abandoned"
	// StatusFailed means the job hit a non-resumable error (hard usage
	// limit, stage timeout, executor rejection). The reservation is left
	// open for operator reconciliation.
	StatusFailed JobStatus = "failed"
)

// TerminalStatuses are the states a job cannot leave, except that
// interrupted jobs may re-enter running via resume.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAbandoned, StatusFailed:
		return true
	}
	return false
}

// Resumable reports whether a resume request is valid for this state.
func (s JobStatus) Resumable() bool {
	return s == StatusInterrupted
}

// Job is the orchestrator's record of one analysis run.
// LastCompletedStage is -1 until the first checkpoint lands.
type Job struct {
	ID                 string               `json:"id"`
	AccountID          string               `json:"account_id"`
	Tier               estimate.Tier        `json:"tier"`
	Stages             []estimate.StageType `json:"stages"`
	DocumentChars      int64                `json:"document_chars"`
	Status             JobStatus            `json:"status"`
	LastCompletedStage int                  `json:"last_completed_stage"`
	ReservationID      string               `json:"reservation_id,omitempty"`
	EstimateCents      int64                `json:"estimate_cents"`
	PreAuthCents       int64                `json:"pre_auth_cents"`
	CeilingCents       int64                `json:"ceiling_cents"`
	FailureReason      string               `json:"failure_reason,omitempty"`
	Document           json.RawMessage      `json:"-"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// StageResult is what an executor returns for one completed stage.
// Context carries forward orchestration state the executor wants on the
// next stage; the orchestrator stores it opaquely.
type StageResult struct {
	Output    json.RawMessage `json:"output"`
	Context   json.RawMessage `json:"context,omitempty"`
	CostCents int64           `json:"cost_cents"`
	Tokens    int64           `json:"tokens"`
}

// SubmitRequest is the input to Orchestrator.Submit.
type SubmitRequest struct {
	AccountID     string               `json:"account_id"`
	Tier          estimate.Tier        `json:"tier"`
	Stages        []estimate.StageType `json:"stages"`
	DocumentChars int64                `json:"document_chars"`
	Document      json.RawMessage      `json:"document,omitempty"`
}
