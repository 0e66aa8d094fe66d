// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is the in-memory Repository used for tests and
// single-process development runs.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]map[int]*Checkpoint
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]map[int]*Checkpoint)}
}

func (r *MemoryRepository) Save(ctx context.Context, cp *Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stages, exists := r.jobs[cp.JobID]
	if !exists {
		stages = make(map[int]*Checkpoint)
		r.jobs[cp.JobID] = stages
	}

	saved := *cp
	saved.CreatedAt = time.Now()
	stages[cp.StageIndex] = &saved
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, jobID string, stageIndex int) (*Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp, exists := r.jobs[jobID][stageIndex]
	if !exists {
		return nil, ErrCheckpointNotFound
	}
	copied := *cp
	return &copied, nil
}

func (r *MemoryRepository) ListForJob(ctx context.Context, jobID string) ([]*Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stages := r.jobs[jobID]
	checkpoints := make([]*Checkpoint, 0, len(stages))
	for _, cp := range stages {
		copied := *cp
		checkpoints = append(checkpoints, &copied)
	}
	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].StageIndex < checkpoints[j].StageIndex
	})
	return checkpoints, nil
}

func (r *MemoryRepository) LatestForJob(ctx context.Context, jobID string) (*Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *Checkpoint
	for _, cp := range r.jobs[jobID] {
		if latest == nil || cp.StageIndex > latest.StageIndex {
			latest = cp
		}
	}
	if latest == nil {
		return nil, ErrCheckpointNotFound
	}
	copied := *latest
	return &copied, nil
}

func (r *MemoryRepository) DeleteForJob(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.jobs, jobID)
	return nil
}
