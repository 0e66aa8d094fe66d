// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

// Package reservation provides the account ledger for credit-metered
// analysis jobs: pre-authorization holds, atomic settlement with markup
// and refund, and an immutable transaction trail.
//
// All monetary values are integer cents. Markup and margin factors are
// basis points (10000 = 1.0x). No floating point touches money math.
package reservation

import "time"

// ReservationStatus represents the lifecycle state of a hold
type ReservationStatus string

const (
	StatusOpen      ReservationStatus = "open"
	StatusSettled   ReservationStatus = "settled"
	StatusCancelled ReservationStatus = "cancelled"
)

// TransactionKind distinguishes charges from credits
type TransactionKind string

const (
	KindDebit  TransactionKind = "debit"
	KindCredit TransactionKind = "credit"
)

// Account holds an owner's funds. BlockedCents is the sum of all open
// reservation amounts; AvailableCents is derived, never stored.
//
// Invariant: 0 <= BlockedCents <= BalanceCents at all times.
type Account struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	BalanceCents int64     `json:"balance_cents"`
	BlockedCents int64     `json:"blocked_cents"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AvailableCents returns the spendable portion of the balance.
func (a *Account) AvailableCents() int64 {
	return a.BalanceCents - a.BlockedCents
}

// Reservation is a hold placed on an account before a job starts.
// At most one open reservation exists per job (enforced by a partial
// unique index in Postgres and by the memory store).
type Reservation struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"account_id"`
	JobID       string            `json:"job_id"`
	AmountCents int64             `json:"amount_cents"`
	Status      ReservationStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	ClosedAt    *time.Time        `json:"closed_at,omitempty"`
}

// Transaction is an immutable audit record appended at settlement or
// manual credit. Never updated or deleted.
type Transaction struct {
	ID                string          `json:"id"`
	AccountID         string          `json:"account_id"`
	Kind              TransactionKind `json:"kind"`
	AmountCents       int64           `json:"amount_cents"`
	RealCostCents     int64           `json:"real_cost_cents"`
	MarkupBps         int64           `json:"markup_bps"`
	JobID             string          `json:"job_id,omitempty"`
	BalanceAfterCents int64           `json:"balance_after_cents"`
	Memo              string          `json:"memo,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// BlockResult is the outcome of a successful block operation.
type BlockResult struct {
	ReservationID       string `json:"reservation_id"`
	AmountCents         int64  `json:"amount_cents"`
	AvailableAfterCents int64  `json:"available_after_cents"`
}

// SettleResult is the outcome of a successful settlement.
//
// Overrun is set when the charged amount exceeded the original hold.
// The excess is still debited; callers are required to surface the flag
// rather than debit silently.
type SettleResult struct {
	TransactionID     string `json:"transaction_id"`
	AccountID         string `json:"account_id"`
	ReservedCents     int64  `json:"reserved_cents"`
	ChargedCents      int64  `json:"charged_cents"`
	RefundedCents     int64  `json:"refunded_cents"`
	BalanceAfterCents int64  `json:"balance_after_cents"`
	Overrun           bool   `json:"overrun"`
}

// CancelResult is the outcome of a successful cancellation.
type CancelResult struct {
	AccountID     string `json:"account_id"`
	ReleasedCents int64  `json:"released_cents"`
}

// ListTransactionsOptions filters the transaction listing.
type ListTransactionsOptions struct {
	Kind      TransactionKind `json:"kind,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	StartTime time.Time       `json:"start_time,omitempty"`
	EndTime   time.Time       `json:"end_time,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// ApplyMarkup computes the charged amount for a real provider cost,
// rounding half up in integer arithmetic.
func ApplyMarkup(realCostCents, markupBps int64) int64 {
	return (realCostCents*markupBps + 5000) / 10000
}
