// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is the in-memory Repository for tests and
// single-process development runs.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]*Job)}
}

func (r *MemoryRepository) Create(ctx context.Context, j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[j.ID]; exists {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	saved := *j
	saved.CreatedAt = time.Now()
	saved.UpdatedAt = saved.CreatedAt
	r.jobs[j.ID] = &saved
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, jobID string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, exists := r.jobs[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}
	copied := *j
	return &copied, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, jobID string, from, to JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, exists := r.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if j.Status != from {
		if to == StatusRunning {
			return ErrAlreadyRunning
		}
		return fmt.Errorf("job %s is not in status %s", jobID, from)
	}
	j.Status = to
	j.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) SetProgress(ctx context.Context, jobID string, lastCompletedStage int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, exists := r.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	j.LastCompletedStage = lastCompletedStage
	j.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) SetFailure(ctx context.Context, jobID string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, exists := r.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if j.Status != StatusRunning {
		return fmt.Errorf("job %s is not running", jobID)
	}
	j.Status = StatusFailed
	j.FailureReason = reason
	j.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) RecoverRunning(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, j := range r.jobs {
		if j.Status == StatusRunning {
			j.Status = StatusInterrupted
			j.UpdatedAt = time.Now()
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *MemoryRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var jobs []*Job
	for _, j := range r.jobs {
		if j.AccountID == accountID {
			copied := *j
			jobs = append(jobs, &copied)
		}
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
