// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"veralex/platform/ledger/checkpoint"
	"veralex/platform/ledger/estimate"
	"veralex/platform/ledger/meter"
	"veralex/platform/ledger/reservation"
)

// Config tunes the orchestrator's billing and execution behavior.
type Config struct {
	// MarkupBps is applied to real provider cost at settlement.
	// 10000 = pass-through, 12500 = 25% markup.
	MarkupBps int64

	// CeilingBps sets the usage hard limit as a multiple of the
	// expected cost estimate. 30000 = 3x.
	CeilingBps int64

	// StageTimeout bounds a single stage execution. A stage that blows
	// the deadline fails the job; partial work cannot be checkpointed.
	StageTimeout time.Duration
}

// DefaultConfig mirrors production defaults.
func DefaultConfig() Config {
	return Config{
		MarkupBps:    10000,
		CeilingBps:   30000,
		StageTimeout: 10 * time.Minute,
	}
}

// Orchestrator drives a job through its lifecycle while keeping the
// money invariants: funds reserved before any stage runs, every stage's
// cost metered against the ceiling, and exactly one settlement or
// cancellation per reservation.
type Orchestrator struct {
	jobs        Repository
	checkpoints checkpoint.Repository
	ledger      *reservation.Manager
	usage       meter.Meter
	estimator   *estimate.Estimator
	executor    StageExecutor
	config      Config
	logger      *log.Logger
}

func NewOrchestrator(jobs Repository, checkpoints checkpoint.Repository, ledger *reservation.Manager,
	usage meter.Meter, estimator *estimate.Estimator, executor StageExecutor, config Config) *Orchestrator {
	if config.MarkupBps <= 0 {
		config.MarkupBps = 10000
	}
	if config.CeilingBps <= 0 {
		config.CeilingBps = 30000
	}
	if config.StageTimeout <= 0 {
		config.StageTimeout = 10 * time.Minute
	}
	return &Orchestrator{
		jobs:        jobs,
		checkpoints: checkpoints,
		ledger:      ledger,
		usage:       usage,
		estimator:   estimator,
		executor:    executor,
		config:      config,
		logger:      log.Default(),
	}
}

// Submit estimates the workload, reserves the pre-authorization amount
// and creates the job in pending. No stage work happens here; callers
// follow up with Run. Returns reservation.InsufficientFundsError when
// the account cannot cover the pre-auth.
func (o *Orchestrator) Submit(ctx context.Context, req *SubmitRequest) (*Job, error) {
	if req.AccountID == "" {
		return nil, fmt.Errorf("account_id is required")
	}

	workload := &estimate.Workload{
		DocumentChars: req.DocumentChars,
		Tier:          req.Tier,
		Stages:        req.Stages,
	}
	est, err := o.estimator.Estimate(workload)
	if err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	ceiling := (est.ExpectedCostCents*o.config.CeilingBps + 5000) / 10000

	block, err := o.ledger.Block(ctx, req.AccountID, jobID, est.PreAuthCents)
	if err != nil {
		if reservation.IsInsufficientFunds(err) {
			promInsufficientFunds.Inc()
		}
		return nil, err
	}

	j := &Job{
		ID:                 jobID,
		AccountID:          req.AccountID,
		Tier:               req.Tier,
		Stages:             req.Stages,
		DocumentChars:      req.DocumentChars,
		Status:             StatusPending,
		LastCompletedStage: -1,
		ReservationID:      block.ReservationID,
		EstimateCents:      est.ExpectedCostCents,
		PreAuthCents:       est.PreAuthCents,
		CeilingCents:       ceiling,
		Document:           req.Document,
	}
	if err := o.jobs.Create(ctx, j); err != nil {
		// The reservation must not outlive a job that never existed.
		if _, cancelErr := o.ledger.Cancel(ctx, jobID); cancelErr != nil {
			o.logger.Printf("[Jobs] ERROR: failed to release reservation for stillborn job %s: %v", jobID, cancelErr)
		}
		return nil, err
	}

	if err := o.usage.Open(ctx, jobID, ceiling); err != nil {
		o.logger.Printf("[Jobs] WARNING: failed to open meter for job %s: %v", jobID, err)
	}

	o.logger.Printf("[Jobs] Submitted job %s: account=%s tier=%s stages=%d estimate=%d pre_auth=%d ceiling=%d",
		jobID, req.AccountID, req.Tier, len(req.Stages), est.ExpectedCostCents, est.PreAuthCents, ceiling)
	return o.jobs.Get(ctx, jobID)
}

// Run executes the stage loop for a pending job. It is synchronous;
// HTTP handlers call it from a goroutine.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	if err := o.jobs.UpdateStatus(ctx, jobID, StatusPending, StatusRunning); err != nil {
		return err
	}
	return o.runStages(ctx, jobID)
}

// Resume continues an interrupted job from its last checkpoint. The
// meter is re-opened and seeded from checkpointed usage so completed
// stages are never billed twice.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) error {
	j, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !j.Status.Resumable() {
		return fmt.Errorf("%w: job %s is %s", ErrNotResumable, jobID, j.Status)
	}

	if err := o.usage.Open(ctx, jobID, j.CeilingCents); err != nil {
		return fmt.Errorf("failed to reopen meter for job %s: %w", jobID, err)
	}
	cps, err := o.checkpoints.ListForJob(ctx, jobID)
	if err != nil {
		return err
	}
	var seeded meter.Usage
	for _, cp := range cps {
		seeded.CostCents += cp.CostCents
		seeded.Tokens += cp.Tokens
	}
	if err := o.usage.Seed(ctx, jobID, seeded); err != nil {
		return fmt.Errorf("failed to seed meter for job %s: %w", jobID, err)
	}

	if err := o.jobs.UpdateStatus(ctx, jobID, StatusInterrupted, StatusRunning); err != nil {
		return err
	}
	promResumes.Inc()
	o.logger.Printf("[Jobs] Resuming job %s from stage %d (seeded cost=%d tokens=%d)",
		jobID, j.LastCompletedStage+1, seeded.CostCents, seeded.Tokens)
	return o.runStages(ctx, jobID)
}

// Abandon releases a job's reservation and closes its meter. Abandoning
// a running job is cooperative: in-flight stage work is not stopped, but
// the closed meter rejects any usage it reports afterwards. Terminal
// jobs cannot be abandoned.
func (o *Orchestrator) Abandon(ctx context.Context, jobID string) (*reservation.CancelResult, error) {
	j, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch j.Status {
	case StatusPending, StatusRunning, StatusInterrupted:
	default:
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotAbandonable, jobID, j.Status)
	}

	if err := o.jobs.UpdateStatus(ctx, jobID, j.Status, StatusAbandoned); err != nil {
		return nil, err
	}
	result, err := o.ledger.Cancel(ctx, jobID)
	if err != nil {
		o.logger.Printf("[Jobs] ERROR: abandon of job %s could not release reservation: %v", jobID, err)
		return nil, err
	}
	if err := o.usage.Close(ctx, jobID); err != nil && !errors.Is(err, meter.ErrMeterNotOpen) {
		o.logger.Printf("[Jobs] WARNING: failed to close meter for abandoned job %s: %v", jobID, err)
	}

	promJobsTotal.WithLabelValues(string(StatusAbandoned)).Inc()
	o.logger.Printf("[Jobs] Abandoned job %s: released %d cents", jobID, result.ReleasedCents)
	return result, nil
}

// RecoverStale marks jobs a dead process left in running as
// interrupted so they can be resumed. A crash mid-loop leaves the
// durable row in running with the reservation still open; without this
// pass the job could never re-enter running. Called once at startup.
func (o *Orchestrator) RecoverStale(ctx context.Context) (int, error) {
	ids, err := o.jobs.RecoverRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	for _, id := range ids {
		o.logger.Printf("[Jobs] Recovered job %s: interrupted after restart, resume to continue", id)
	}
	return len(ids), nil
}

// Status returns the job record together with its metered usage.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*Job, *meter.Usage, error) {
	j, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	usage, err := o.usage.Totals(ctx, jobID)
	if errors.Is(err, meter.ErrMeterNotOpen) {
		usage = &meter.Usage{}
	} else if err != nil {
		return nil, nil, err
	}
	return j, usage, nil
}

// Checkpoints exposes a job's saved stage outputs.
func (o *Orchestrator) Checkpoints(ctx context.Context, jobID string) ([]*checkpoint.Checkpoint, error) {
	if _, err := o.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return o.checkpoints.ListForJob(ctx, jobID)
}

// ListByAccount returns an account's jobs, newest first.
func (o *Orchestrator) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Job, error) {
	return o.jobs.ListByAccount(ctx, accountID, limit)
}

// runStages executes stages from last_completed+1 to the end, then
// settles. The job is in running when this is called.
func (o *Orchestrator) runStages(ctx context.Context, jobID string) error {
	j, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	orchContext := o.latestContext(ctx, jobID)

	for idx := j.LastCompletedStage + 1; idx < len(j.Stages); idx++ {
		stageType := j.Stages[idx]
		result, err := o.executeStage(ctx, j, idx, stageType, orchContext)
		if err != nil {
			return o.handleStageError(ctx, jobID, idx, err)
		}

		usage, meterErr := o.usage.Record(ctx, jobID, idx, result.CostCents, result.Tokens)
		if meterErr != nil && !errors.Is(meterErr, meter.ErrLimitExceeded) {
			// Metering is part of the billing path; losing it interrupts
			// the job rather than running stages unmetered.
			o.logger.Printf("[Jobs] ERROR: meter record failed for job %s stage %d: %v", jobID, idx, meterErr)
			return o.interrupt(ctx, jobID, fmt.Sprintf("meter error at stage %d", idx))
		}

		cp := &checkpoint.Checkpoint{
			JobID:                jobID,
			StageIndex:           idx,
			StageType:            string(stageType),
			StageOutput:          result.Output,
			OrchestrationContext: result.Context,
			CostCents:            result.CostCents,
			Tokens:               result.Tokens,
		}
		if err := o.checkpoints.Save(ctx, cp); err != nil {
			o.logger.Printf("[Jobs] ERROR: checkpoint save failed for job %s stage %d: %v", jobID, idx, err)
			return o.interrupt(ctx, jobID, fmt.Sprintf("checkpoint failure at stage %d", idx))
		}
		if err := o.jobs.SetProgress(ctx, jobID, idx); err != nil {
			return o.interrupt(ctx, jobID, fmt.Sprintf("progress update failure at stage %d", idx))
		}
		orchContext = result.Context

		if errors.Is(meterErr, meter.ErrLimitExceeded) {
			promLimitBreaches.Inc()
			o.logger.Printf("[Jobs] Job %s breached usage ceiling at stage %d: cost=%d ceiling=%d",
				jobID, idx, usage.CostCents, j.CeilingCents)
			return o.fail(ctx, jobID, fmt.Sprintf("usage hard limit exceeded at stage %d", idx))
		}
	}

	return o.settle(ctx, jobID)
}

func (o *Orchestrator) executeStage(ctx context.Context, j *Job, idx int, stageType estimate.StageType, orchContext []byte) (*StageResult, error) {
	stageCtx, cancel := context.WithTimeout(ctx, o.config.StageTimeout)
	defer cancel()

	start := time.Now()
	result, err := o.executor.Execute(stageCtx, &ExecuteRequest{
		JobID:      j.ID,
		StageIndex: idx,
		StageType:  stageType,
		Tier:       j.Tier,
		Document:   j.Document,
		Context:    orchContext,
	})
	promStageDuration.WithLabelValues(string(stageType)).Observe(time.Since(start).Seconds())

	if err != nil {
		if stageCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: job %s stage %d after %s", ErrStageTimeout, j.ID, idx, o.config.StageTimeout)
		}
		return nil, err
	}
	return result, nil
}

// handleStageError decides whether a stage error interrupts (resumable)
// or fails (terminal) the job. Timeouts are terminal: the executor may
// still be burning provider spend and the operator needs to look.
func (o *Orchestrator) handleStageError(ctx context.Context, jobID string, idx int, err error) error {
	if errors.Is(err, ErrStageTimeout) {
		o.logger.Printf("[Jobs] Job %s stage %d timed out", jobID, idx)
		return o.fail(ctx, jobID, err.Error())
	}
	o.logger.Printf("[Jobs] Job %s stage %d failed, interrupting: %v", jobID, idx, err)
	return o.interrupt(ctx, jobID, fmt.Sprintf("stage %d: %v", idx, err))
}

// settle charges real cost plus markup against the reservation, refunds
// the remainder and completes the job.
func (o *Orchestrator) settle(ctx context.Context, jobID string) error {
	totals, err := o.usage.Totals(ctx, jobID)
	if err != nil {
		o.logger.Printf("[Jobs] ERROR: cannot read usage totals to settle job %s: %v", jobID, err)
		return o.interrupt(ctx, jobID, "usage totals unavailable at settlement")
	}

	result, err := o.ledger.Settle(ctx, jobID, totals.CostCents, o.config.MarkupBps)
	if err != nil {
		o.logger.Printf("[Jobs] ERROR: settlement failed for job %s: %v", jobID, err)
		return o.fail(ctx, jobID, fmt.Sprintf("settlement failed: %v", err))
	}
	if err := o.usage.Close(ctx, jobID); err != nil && !errors.Is(err, meter.ErrMeterNotOpen) {
		o.logger.Printf("[Jobs] WARNING: failed to close meter for job %s: %v", jobID, err)
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, StatusRunning, StatusCompleted); err != nil {
		return err
	}

	promJobsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	o.logger.Printf("[Jobs] Completed job %s: real_cost=%d charged=%d refunded=%d overrun=%v",
		jobID, totals.CostCents, result.ChargedCents, result.RefundedCents, result.Overrun)
	return nil
}

// interrupt moves a running job to interrupted. The reservation and
// meter stay open so the job can resume.
func (o *Orchestrator) interrupt(ctx context.Context, jobID, reason string) error {
	if err := o.jobs.UpdateStatus(ctx, jobID, StatusRunning, StatusInterrupted); err != nil {
		return err
	}
	o.logger.Printf("[Jobs] Interrupted job %s: %s", jobID, reason)
	return nil
}

// fail marks the job failed and closes the meter. The reservation is
// deliberately left open: blocked funds stay blocked until an operator
// settles or cancels through the reservation API.
func (o *Orchestrator) fail(ctx context.Context, jobID, reason string) error {
	if err := o.jobs.SetFailure(ctx, jobID, reason); err != nil {
		return err
	}
	if err := o.usage.Close(ctx, jobID); err != nil && !errors.Is(err, meter.ErrMeterNotOpen) {
		o.logger.Printf("[Jobs] WARNING: failed to close meter for failed job %s: %v", jobID, err)
	}
	promJobsTotal.WithLabelValues(string(StatusFailed)).Inc()
	o.logger.Printf("[Jobs] Failed job %s: %s (reservation left open for reconciliation)", jobID, reason)
	return nil
}

func (o *Orchestrator) latestContext(ctx context.Context, jobID string) []byte {
	latest, err := o.checkpoints.LatestForJob(ctx, jobID)
	if err != nil {
		return nil
	}
	return latest.OrchestrationContext
}
