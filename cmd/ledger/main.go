// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the Veralex Ledger service.
//
// The Ledger is the billing and admission control plane for document
// analysis jobs. It:
// - Estimates job cost and blocks a pre-authorization hold before work starts
// - Meters real usage per stage against a hard spending ceiling
// - Settles completed jobs atomically with markup and refund
// - Checkpoints stage outputs so interrupted jobs resume without double billing
// - Exposes account balances, transactions and operator reconciliation
//
// Usage:
//
//	./ledger
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string
//	REDIS_URL - Redis URL for the distributed usage meter (optional)
//	PRICING_FILE - YAML pricing table override (optional)
//	EXECUTOR_URL - stage execution service base URL
//	API_JWT_SECRET - enables API authentication when set
package main

import (
	"veralex/platform/ledger"
)

func main() {
	ledger.Run()
}
