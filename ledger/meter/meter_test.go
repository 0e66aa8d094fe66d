// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package meter

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// meterFactories runs each test against both implementations.
func meterFactories(t *testing.T) map[string]Meter {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rm, err := NewRedisMeter(client)
	require.NoError(t, err)

	return map[string]Meter{
		"memory": NewMemoryMeter(),
		"redis":  rm,
	}
}

func TestMeter_RecordAccumulates(t *testing.T) {
	for name, m := range meterFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, m.Open(ctx, "job-1", 1000))

			usage, err := m.Record(ctx, "job-1", 0, 300, 1500)
			require.NoError(t, err)
			assert.Equal(t, int64(300), usage.CostCents)
			assert.Equal(t, int64(1500), usage.Tokens)

			usage, err = m.Record(ctx, "job-1", 1, 200, 700)
			require.NoError(t, err)
			assert.Equal(t, int64(500), usage.CostCents)
			assert.Equal(t, int64(2200), usage.Tokens)

			totals, err := m.Totals(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, int64(500), totals.CostCents)
		})
	}
}

func TestMeter_LimitExceeded(t *testing.T) {
	for name, m := range meterFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, m.Open(ctx, "job-1", 500))

			_, err := m.Record(ctx, "job-1", 0, 400, 100)
			require.NoError(t, err)

			// The breaching delta is still counted: the cost was incurred.
			usage, err := m.Record(ctx, "job-1", 1, 200, 100)
			assert.ErrorIs(t, err, ErrLimitExceeded)
			require.NotNil(t, usage)
			assert.Equal(t, int64(600), usage.CostCents)
		})
	}
}

func TestMeter_ExactCeilingIsAllowed(t *testing.T) {
	for name, m := range meterFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, m.Open(ctx, "job-1", 500))

			_, err := m.Record(ctx, "job-1", 0, 500, 0)
			assert.NoError(t, err)
		})
	}
}

func TestMeter_ClosedRejectsLateUsage(t *testing.T) {
	for name, m := range meterFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, m.Open(ctx, "job-1", 1000))
			_, err := m.Record(ctx, "job-1", 0, 100, 50)
			require.NoError(t, err)

			require.NoError(t, m.Close(ctx, "job-1"))

			_, err = m.Record(ctx, "job-1", 1, 100, 50)
			assert.ErrorIs(t, err, ErrMeterClosed)
		})
	}
}

func TestMeter_NotOpen(t *testing.T) {
	for name, m := range meterFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := m.Record(ctx, "ghost", 0, 10, 5)
			assert.ErrorIs(t, err, ErrMeterNotOpen)

			_, err = m.Totals(ctx, "ghost")
			assert.ErrorIs(t, err, ErrMeterNotOpen)
		})
	}
}

func TestMeter_ReopenKeepsOriginalCeiling(t *testing.T) {
	for name, m := range meterFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, m.Open(ctx, "job-1", 500))
			require.NoError(t, m.Open(ctx, "job-1", 999999))

			_, err := m.Record(ctx, "job-1", 0, 600, 0)
			assert.ErrorIs(t, err, ErrLimitExceeded)
		})
	}
}

func TestMeter_SeedOnlyAppliesWhenEmpty(t *testing.T) {
	for name, m := range meterFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, m.Open(ctx, "job-1", 10000))

			require.NoError(t, m.Seed(ctx, "job-1", Usage{CostCents: 250, Tokens: 900}))
			totals, err := m.Totals(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, int64(250), totals.CostCents)
			assert.Equal(t, int64(900), totals.Tokens)

			// Existing totals win over a second seed.
			require.NoError(t, m.Seed(ctx, "job-1", Usage{CostCents: 1, Tokens: 1}))
			totals, err = m.Totals(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, int64(250), totals.CostCents)
		})
	}
}

func TestMemoryMeter_ConcurrentRecords(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMeter()
	require.NoError(t, m.Open(ctx, "job-1", 0))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Record(ctx, "job-1", 0, 2, 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	totals, err := m.Totals(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), totals.CostCents)
	assert.Equal(t, int64(500), totals.Tokens)
}
