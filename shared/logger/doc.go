// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

/*
Package logger provides structured JSON logging for Veralex platform
components, correlated by account and job.

# Overview

The logger outputs single-line JSON to stdout so logs are directly
consumable by CloudWatch, ELK or any other aggregation system.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (ledger, executor, etc.)
  - Instance ID and container name (for distributed tracing)
  - Account ID (the billed party; the key for dispute investigations)
  - Job ID (for tracing one analysis run across stages)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("ledger")

Log messages with account and job context:

	log.Info("acct-123", "job-456", "Reservation settled", map[string]interface{}{
	    "charged_cents":  480,
	    "refunded_cents": 120,
	})

Log errors carrying the amount in dispute:

	log.ErrorWithAmount("acct-123", "job-456", "Settlement failed", 480, err, nil)

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("acct-123", "job-456", "Stage completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
