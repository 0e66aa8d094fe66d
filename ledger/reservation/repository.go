// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package reservation

import "context"

// Repository defines the ledger persistence contract. Block, Settle,
// Cancel and Credit each execute as a single serialized unit against the
// affected account (row lock in Postgres, per-account mutex in memory):
// no two of them may interleave on the same account.
type Repository interface {
	// Account operations
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)

	// Ledger mutations. Each is atomic with respect to the account row.
	Block(ctx context.Context, accountID, jobID string, amountCents int64) (*BlockResult, error)
	Settle(ctx context.Context, jobID string, realCostCents, markupBps int64) (*SettleResult, error)
	Cancel(ctx context.Context, jobID string) (*CancelResult, error)
	Credit(ctx context.Context, accountID string, amountCents int64, memo string) (*Transaction, error)

	// Reads
	GetOpenReservation(ctx context.Context, jobID string) (*Reservation, error)
	ListTransactions(ctx context.Context, accountID string, opts ListTransactionsOptions) ([]Transaction, int, error)

	// Utility
	Ping(ctx context.Context) error
}
