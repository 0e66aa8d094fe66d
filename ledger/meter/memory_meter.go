// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package meter

import (
	"context"
	"sync"
)

type jobMeter struct {
	ceilingCents int64
	costCents    int64
	tokens       int64
	closed       bool
}

// MemoryMeter is the single-instance fallback used when Redis is not
// configured, and the workhorse for tests. State does not survive a
// restart; the orchestrator re-seeds it from checkpoints on resume.
type MemoryMeter struct {
	mu   sync.Mutex
	jobs map[string]*jobMeter
}

func NewMemoryMeter() *MemoryMeter {
	return &MemoryMeter{jobs: make(map[string]*jobMeter)}
}

func (m *MemoryMeter) Open(ctx context.Context, jobID string, ceilingCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[jobID]; exists {
		return nil
	}
	m.jobs[jobID] = &jobMeter{ceilingCents: ceilingCents}
	return nil
}

func (m *MemoryMeter) Seed(ctx context.Context, jobID string, usage Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jm, exists := m.jobs[jobID]
	if !exists {
		return ErrMeterNotOpen
	}
	if jm.costCents == 0 && jm.tokens == 0 {
		jm.costCents = usage.CostCents
		jm.tokens = usage.Tokens
	}
	return nil
}

func (m *MemoryMeter) Record(ctx context.Context, jobID string, stageIndex int, deltaCostCents, deltaTokens int64) (*Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jm, exists := m.jobs[jobID]
	if !exists {
		return nil, ErrMeterNotOpen
	}
	if jm.closed {
		return nil, ErrMeterClosed
	}

	jm.costCents += deltaCostCents
	jm.tokens += deltaTokens

	usage := &Usage{CostCents: jm.costCents, Tokens: jm.tokens}
	if jm.ceilingCents > 0 && jm.costCents > jm.ceilingCents {
		return usage, ErrLimitExceeded
	}
	return usage, nil
}

func (m *MemoryMeter) Totals(ctx context.Context, jobID string) (*Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jm, exists := m.jobs[jobID]
	if !exists {
		return nil, ErrMeterNotOpen
	}
	return &Usage{CostCents: jm.costCents, Tokens: jm.tokens}, nil
}

func (m *MemoryMeter) Close(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jm, exists := m.jobs[jobID]
	if !exists {
		return ErrMeterNotOpen
	}
	jm.closed = true
	return nil
}
