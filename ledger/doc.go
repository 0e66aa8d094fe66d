// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

/*
Package ledger wires the Veralex credit ledger and job orchestration
service: HTTP API, storage, usage metering and billing configuration.

# Overview

The service admits long-running document analysis jobs against prepaid
account balances. The money path is strict:

 1. Admission estimates the job's cost and blocks a pre-authorization
    hold on the account. Insufficient funds reject the job before any
    stage runs.
 2. Every stage reports its real cost to the usage meter, which
    enforces a hard ceiling as a backstop against runaway executions.
 3. Completion settles the hold atomically: real cost plus markup is
    charged, the remainder refunded. Abandonment releases the hold in
    full. Failed jobs leave the hold open for operator reconciliation.

Completed stages are checkpointed so interrupted jobs resume without
re-running, or re-billing, work that already happened.

# HTTP API

Job lifecycle:

	POST /api/v1/jobs                      Submit (202, runs in background)
	GET  /api/v1/jobs/{id}                 Status with live usage totals
	POST /api/v1/jobs/{id}/resume          Resume an interrupted job
	POST /api/v1/jobs/{id}/abandon         Release the reservation
	GET  /api/v1/jobs/{id}/checkpoints     Saved stage outputs

Accounts and reconciliation:

	POST /api/v1/accounts                          Create account
	GET  /api/v1/accounts/{id}/summary             Balance, blocked, available
	GET  /api/v1/accounts/{id}/transactions        Ledger history
	POST /api/v1/accounts/{id}/credit              Manual top-up
	GET  /api/v1/reservations/{job_id}             Inspect an open hold
	POST /api/v1/reservations/{job_id}/settle      Operator settlement
	POST /api/v1/reservations/{job_id}/cancel      Operator release

Operational:

	GET /health         Liveness and storage reachability
	GET /prometheus     Prometheus metrics

# Environment Variables

	PORT                      HTTP port (default 8080)
	DATABASE_URL              PostgreSQL connection string, or use
	DATABASE_HOST/PORT/NAME/USER/PASSWORD/SSLMODE separately
	REDIS_URL                 Redis for the distributed usage meter
	PRICING_FILE              YAML pricing table override
	SAFETY_MARGIN_BPS         Pre-auth margin, basis points (default 15000)
	MARKUP_BPS                Settlement markup (default 10000)
	USAGE_CEILING_BPS         Hard limit as multiple of estimate (default 30000)
	STAGE_TIMEOUT_SECONDS     Per-stage execution deadline (default 600)
	EXECUTOR_URL              Stage execution service base URL
	EXECUTOR_TOKEN            Bearer token for the executor
	API_JWT_SECRET            Enables API authentication when set

Without DATABASE_URL the service runs on in-memory storage; without
REDIS_URL usage metering is per-process. Both are development modes and
logged as such at startup.
*/
package ledger
