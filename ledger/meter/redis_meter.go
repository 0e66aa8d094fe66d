// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package meter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// recordScript applies a usage delta and checks the ceiling in a single
// atomic step, so concurrent stage reports for the same job cannot race
// past the limit.
//
// KEYS[1] = cost key, KEYS[2] = tokens key, KEYS[3] = ceiling key,
// KEYS[4] = closed key. ARGV[1] = cost delta, ARGV[2] = token delta.
// Returns {status, cost, tokens} where status is 0 (ok), -1 (limit
// exceeded), -2 (closed), -3 (not open).
var recordScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[4]) == 1 then
  return {-2, 0, 0}
end
local ceiling = redis.call('GET', KEYS[3])
if not ceiling then
  return {-3, 0, 0}
end
local cost = redis.call('INCRBY', KEYS[1], ARGV[1])
local tokens = redis.call('INCRBY', KEYS[2], ARGV[2])
if tonumber(ceiling) > 0 and cost > tonumber(ceiling) then
  return {-1, cost, tokens}
end
return {0, cost, tokens}
`)

// meterTTL bounds how long per-job meter state survives in Redis. Jobs
// run for hours, not weeks; expired state for an active job is restored
// via Seed on resume.
const meterTTL = 14 * 24 * time.Hour

// RedisMeter is the production Meter: per-job counters in Redis with a
// Lua check-and-add so the ceiling holds across service instances.
type RedisMeter struct {
	client *redis.Client
}

// NewRedisMeter verifies connectivity and returns a Redis-backed meter.
func NewRedisMeter(client *redis.Client) (*RedisMeter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisMeter{client: client}, nil
}

func meterKeys(jobID string) (cost, tokens, ceiling, closed string) {
	prefix := "meter:" + jobID
	return prefix + ":cost", prefix + ":tokens", prefix + ":ceiling", prefix + ":closed"
}

func (m *RedisMeter) Open(ctx context.Context, jobID string, ceilingCents int64) error {
	_, _, ceilingKey, _ := meterKeys(jobID)
	// SETNX keeps the original ceiling when a job is resumed.
	if err := m.client.SetNX(ctx, ceilingKey, ceilingCents, meterTTL).Err(); err != nil {
		return fmt.Errorf("failed to open meter for job %s: %w", jobID, err)
	}
	return nil
}

func (m *RedisMeter) Seed(ctx context.Context, jobID string, usage Usage) error {
	costKey, tokensKey, _, _ := meterKeys(jobID)
	if err := m.client.SetNX(ctx, costKey, usage.CostCents, meterTTL).Err(); err != nil {
		return fmt.Errorf("failed to seed meter for job %s: %w", jobID, err)
	}
	if err := m.client.SetNX(ctx, tokensKey, usage.Tokens, meterTTL).Err(); err != nil {
		return fmt.Errorf("failed to seed meter for job %s: %w", jobID, err)
	}
	return nil
}

func (m *RedisMeter) Record(ctx context.Context, jobID string, stageIndex int, deltaCostCents, deltaTokens int64) (*Usage, error) {
	costKey, tokensKey, ceilingKey, closedKey := meterKeys(jobID)

	raw, err := recordScript.Run(ctx, m.client,
		[]string{costKey, tokensKey, ceilingKey, closedKey},
		deltaCostCents, deltaTokens).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to record usage for job %s: %w", jobID, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return nil, fmt.Errorf("unexpected meter script reply for job %s: %v", jobID, raw)
	}
	status, _ := reply[0].(int64)
	cost, _ := reply[1].(int64)
	tokens, _ := reply[2].(int64)

	usage := &Usage{CostCents: cost, Tokens: tokens}
	switch status {
	case 0:
		return usage, nil
	case -1:
		return usage, ErrLimitExceeded
	case -2:
		return nil, ErrMeterClosed
	case -3:
		return nil, ErrMeterNotOpen
	default:
		return nil, fmt.Errorf("unexpected meter script status %d for job %s", status, jobID)
	}
}

func (m *RedisMeter) Totals(ctx context.Context, jobID string) (*Usage, error) {
	costKey, tokensKey, ceilingKey, _ := meterKeys(jobID)

	if exists, err := m.client.Exists(ctx, ceilingKey).Result(); err != nil {
		return nil, fmt.Errorf("failed to read meter for job %s: %w", jobID, err)
	} else if exists == 0 {
		return nil, ErrMeterNotOpen
	}

	cost, err := m.client.Get(ctx, costKey).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read meter for job %s: %w", jobID, err)
	}
	tokens, err := m.client.Get(ctx, tokensKey).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read meter for job %s: %w", jobID, err)
	}
	return &Usage{CostCents: cost, Tokens: tokens}, nil
}

func (m *RedisMeter) Close(ctx context.Context, jobID string) error {
	_, _, _, closedKey := meterKeys(jobID)
	if err := m.client.Set(ctx, closedKey, 1, meterTTL).Err(); err != nil {
		return fmt.Errorf("failed to close meter for job %s: %w", jobID, err)
	}
	return nil
}
