// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package reservation

import (
	"context"
	"fmt"
	"log"
	"time"

	"veralex/platform/shared/logger"
)

// Alerter receives overrun notifications at settlement time.
type Alerter interface {
	Alert(ctx context.Context, event OverrunEvent) error
}

// OverrunEvent describes a settlement that charged more than the hold.
type OverrunEvent struct {
	JobID         string    `json:"job_id"`
	AccountID     string    `json:"account_id"`
	ReservedCents int64     `json:"reserved_cents"`
	ChargedCents  int64     `json:"charged_cents"`
	RealCostCents int64     `json:"real_cost_cents"`
	MarkupBps     int64     `json:"markup_bps"`
	Timestamp     time.Time `json:"timestamp"`
}

// LogAlerter logs overrun events to the standard logger.
type LogAlerter struct {
	logger *log.Logger
}

// NewLogAlerter creates a log-based alerter
func NewLogAlerter(logger *log.Logger) *LogAlerter {
	if logger == nil {
		logger = log.Default()
	}
	return &LogAlerter{logger: logger}
}

// Alert logs the overrun event
func (a *LogAlerter) Alert(ctx context.Context, event OverrunEvent) error {
	a.logger.Printf("[LEDGER OVERRUN] job=%s account=%s reserved=%d charged=%d real_cost=%d markup_bps=%d",
		event.JobID, event.AccountID, event.ReservedCents, event.ChargedCents,
		event.RealCostCents, event.MarkupBps)
	return nil
}

// Manager wraps the ledger store with validation, logging and overrun
// alerting. All funds movement for jobs goes through it; nothing else
// writes account balances. Every successful mutation is written to the
// structured audit log keyed by account and job.
type Manager struct {
	repo    Repository
	alerter Alerter
	logger  *log.Logger
	audit   *logger.Logger
}

// NewManager creates a reservation manager
func NewManager(repo Repository) *Manager {
	return &Manager{
		repo:    repo,
		alerter: NewLogAlerter(nil),
		logger:  log.Default(),
		audit:   logger.New("ledger"),
	}
}

// NewManagerWithOptions creates a manager with a custom alerter and logger
func NewManagerWithOptions(repo Repository, alerter Alerter, opLogger *log.Logger) *Manager {
	if opLogger == nil {
		opLogger = log.Default()
	}
	if alerter == nil {
		alerter = NewLogAlerter(opLogger)
	}
	return &Manager{
		repo:    repo,
		alerter: alerter,
		logger:  opLogger,
		audit:   logger.New("ledger"),
	}
}

// Block reserves amountCents on the account for jobID.
func (m *Manager) Block(ctx context.Context, accountID, jobID string, amountCents int64) (*BlockResult, error) {
	result, err := m.repo.Block(ctx, accountID, jobID, amountCents)
	if err != nil {
		if IsInsufficientFunds(err) {
			m.logger.Printf("[Ledger] Block rejected: job=%s %v", jobID, err)
			return nil, err
		}
		m.logger.Printf("[Ledger] Block failed: job=%s account=%s amount=%d: %v", jobID, accountID, amountCents, err)
		return nil, err
	}

	m.audit.Info(accountID, jobID, "reservation blocked", map[string]interface{}{
		"reservation_id":        result.ReservationID,
		"amount_cents":          result.AmountCents,
		"available_after_cents": result.AvailableAfterCents,
	})
	return result, nil
}

// Settle converts the job's open reservation into a charge against real
// cost with markup. The overrun flag in the result is additionally sent
// to the alerter; it must never be swallowed by callers.
func (m *Manager) Settle(ctx context.Context, jobID string, realCostCents, markupBps int64) (*SettleResult, error) {
	result, err := m.repo.Settle(ctx, jobID, realCostCents, markupBps)
	if err != nil {
		if err == ErrNoOpenReservation {
			// Likely a double settlement; never treated as success.
			m.logger.Printf("[Ledger] ERROR: settle with no open reservation: job=%s", jobID)
			return nil, err
		}
		m.logger.Printf("[Ledger] Settle failed: job=%s real_cost=%d markup_bps=%d: %v",
			jobID, realCostCents, markupBps, err)
		return nil, err
	}

	m.audit.Info(result.AccountID, jobID, "reservation settled", map[string]interface{}{
		"transaction_id":      result.TransactionID,
		"real_cost_cents":     realCostCents,
		"markup_bps":          markupBps,
		"charged_cents":       result.ChargedCents,
		"refunded_cents":      result.RefundedCents,
		"balance_after_cents": result.BalanceAfterCents,
		"overrun":             result.Overrun,
	})

	if result.Overrun {
		event := OverrunEvent{
			JobID:         jobID,
			AccountID:     result.AccountID,
			ReservedCents: result.ReservedCents,
			ChargedCents:  result.ChargedCents,
			RealCostCents: realCostCents,
			MarkupBps:     markupBps,
			Timestamp:     time.Now().UTC(),
		}
		if err := m.alerter.Alert(ctx, event); err != nil {
			m.logger.Printf("[Ledger] Failed to send overrun alert: %v", err)
		}
	}

	return result, nil
}

// Cancel releases the job's open reservation without charging.
func (m *Manager) Cancel(ctx context.Context, jobID string) (*CancelResult, error) {
	result, err := m.repo.Cancel(ctx, jobID)
	if err != nil {
		if err == ErrNoOpenReservation {
			m.logger.Printf("[Ledger] ERROR: cancel with no open reservation: job=%s", jobID)
			return nil, err
		}
		m.logger.Printf("[Ledger] Cancel failed: job=%s: %v", jobID, err)
		return nil, err
	}

	m.audit.Info(result.AccountID, jobID, "reservation cancelled", map[string]interface{}{
		"released_cents": result.ReleasedCents,
	})
	return result, nil
}

// Credit adds funds to an account outside any job.
func (m *Manager) Credit(ctx context.Context, accountID string, amountCents int64, memo string) (*Transaction, error) {
	txn, err := m.repo.Credit(ctx, accountID, amountCents, memo)
	if err != nil {
		m.logger.Printf("[Ledger] Credit failed: account=%s amount=%d: %v", accountID, amountCents, err)
		return nil, err
	}

	m.audit.Info(accountID, txn.JobID, "account credited", map[string]interface{}{
		"transaction_id":      txn.ID,
		"amount_cents":        amountCents,
		"balance_after_cents": txn.BalanceAfterCents,
	})
	return txn, nil
}

// AccountSummary returns balance, blocked and available for an account.
func (m *Manager) AccountSummary(ctx context.Context, accountID string) (*Account, error) {
	return m.repo.GetAccount(ctx, accountID)
}

// OpenReservation returns the open reservation for a job, if any.
func (m *Manager) OpenReservation(ctx context.Context, jobID string) (*Reservation, error) {
	return m.repo.GetOpenReservation(ctx, jobID)
}

// ListTransactions lists an account's transactions.
func (m *Manager) ListTransactions(ctx context.Context, accountID string, opts ListTransactionsOptions) ([]Transaction, int, error) {
	return m.repo.ListTransactions(ctx, accountID, opts)
}

// IsHealthy checks if the backing store is reachable.
func (m *Manager) IsHealthy(ctx context.Context) bool {
	return m.repo.Ping(ctx) == nil
}

// CreateAccount registers a new account with an opening balance.
func (m *Manager) CreateAccount(ctx context.Context, id, name string, openingBalanceCents int64) (*Account, error) {
	if openingBalanceCents < 0 {
		return nil, ErrInvalidAmount
	}
	account := &Account{
		ID:           id,
		Name:         name,
		BalanceCents: openingBalanceCents,
	}
	if err := m.repo.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}
