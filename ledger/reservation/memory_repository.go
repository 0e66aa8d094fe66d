// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository implements Repository in process memory. Used for
// development and tests. Serialization is scoped per account, matching
// the row-lock behavior of the Postgres implementation.
type MemoryRepository struct {
	mu           sync.RWMutex
	accounts     map[string]*Account
	accountLocks map[string]*sync.Mutex
	reservations map[string]*Reservation // by reservation ID
	openByJob    map[string]string       // job ID -> open reservation ID
	transactions []Transaction
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:     make(map[string]*Account),
		accountLocks: make(map[string]*sync.Mutex),
		reservations: make(map[string]*Reservation),
		openByJob:    make(map[string]string),
	}
}

func (r *MemoryRepository) CreateAccount(ctx context.Context, account *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[account.ID]; exists {
		return ErrAccountExists
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	account.UpdatedAt = account.CreatedAt

	cp := *account
	r.accounts[account.ID] = &cp
	r.accountLocks[account.ID] = &sync.Mutex{}
	return nil
}

func (r *MemoryRepository) GetAccount(ctx context.Context, id string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *account
	return &cp, nil
}

// lockFor returns the per-account mutex, locked. Callers must Unlock it.
func (r *MemoryRepository) lockFor(accountID string) (*sync.Mutex, *Account, error) {
	r.mu.RLock()
	lock, ok := r.accountLocks[accountID]
	account := r.accounts[accountID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, ErrAccountNotFound
	}
	lock.Lock()
	return lock, account, nil
}

func (r *MemoryRepository) Block(ctx context.Context, accountID, jobID string, amountCents int64) (*BlockResult, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	lock, account, err := r.lockFor(accountID)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, open := r.openByJob[jobID]; open {
		return nil, ErrDuplicateReservation
	}

	available := account.AvailableCents()
	if available < amountCents {
		return nil, &InsufficientFundsError{
			AccountID:      accountID,
			RequestedCents: amountCents,
			AvailableCents: available,
		}
	}

	now := time.Now().UTC()
	account.BlockedCents += amountCents
	account.UpdatedAt = now

	res := &Reservation{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		JobID:       jobID,
		AmountCents: amountCents,
		Status:      StatusOpen,
		CreatedAt:   now,
	}
	r.reservations[res.ID] = res
	r.openByJob[jobID] = res.ID

	return &BlockResult{
		ReservationID:       res.ID,
		AmountCents:         amountCents,
		AvailableAfterCents: account.AvailableCents(),
	}, nil
}

func (r *MemoryRepository) Settle(ctx context.Context, jobID string, realCostCents, markupBps int64) (*SettleResult, error) {
	if realCostCents < 0 {
		return nil, ErrInvalidAmount
	}
	if markupBps <= 0 {
		return nil, ErrInvalidMarkup
	}

	r.mu.RLock()
	resID, open := r.openByJob[jobID]
	var accountID string
	if open {
		accountID = r.reservations[resID].AccountID
	}
	r.mu.RUnlock()
	if !open {
		return nil, ErrNoOpenReservation
	}

	lock, account, err := r.lockFor(accountID)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the lock: a concurrent settle or cancel may have won.
	resID, open = r.openByJob[jobID]
	if !open {
		return nil, ErrNoOpenReservation
	}
	res := r.reservations[resID]

	charged := ApplyMarkup(realCostCents, markupBps)
	refunded := res.AmountCents - charged
	if refunded < 0 {
		refunded = 0
	}

	balanceAfter := account.BalanceCents - charged
	if balanceAfter < 0 {
		balanceAfter = 0
	}

	now := time.Now().UTC()
	account.BalanceCents = balanceAfter
	account.BlockedCents -= res.AmountCents
	account.UpdatedAt = now

	res.Status = StatusSettled
	res.ClosedAt = &now
	delete(r.openByJob, jobID)

	txn := Transaction{
		ID:                uuid.New().String(),
		AccountID:         account.ID,
		Kind:              KindDebit,
		AmountCents:       charged,
		RealCostCents:     realCostCents,
		MarkupBps:         markupBps,
		JobID:             jobID,
		BalanceAfterCents: balanceAfter,
		CreatedAt:         now,
	}
	r.transactions = append(r.transactions, txn)

	return &SettleResult{
		TransactionID:     txn.ID,
		AccountID:         account.ID,
		ReservedCents:     res.AmountCents,
		ChargedCents:      charged,
		RefundedCents:     refunded,
		BalanceAfterCents: balanceAfter,
		Overrun:           charged > res.AmountCents,
	}, nil
}

func (r *MemoryRepository) Cancel(ctx context.Context, jobID string) (*CancelResult, error) {
	r.mu.RLock()
	resID, open := r.openByJob[jobID]
	var accountID string
	if open {
		accountID = r.reservations[resID].AccountID
	}
	r.mu.RUnlock()
	if !open {
		return nil, ErrNoOpenReservation
	}

	lock, account, err := r.lockFor(accountID)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	resID, open = r.openByJob[jobID]
	if !open {
		return nil, ErrNoOpenReservation
	}
	res := r.reservations[resID]

	now := time.Now().UTC()
	account.BlockedCents -= res.AmountCents
	account.UpdatedAt = now
	res.Status = StatusCancelled
	res.ClosedAt = &now
	delete(r.openByJob, jobID)

	return &CancelResult{AccountID: res.AccountID, ReleasedCents: res.AmountCents}, nil
}

func (r *MemoryRepository) Credit(ctx context.Context, accountID string, amountCents int64, memo string) (*Transaction, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	lock, account, err := r.lockFor(accountID)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	account.BalanceCents += amountCents
	account.UpdatedAt = now

	txn := Transaction{
		ID:                uuid.New().String(),
		AccountID:         accountID,
		Kind:              KindCredit,
		AmountCents:       amountCents,
		BalanceAfterCents: account.BalanceCents,
		Memo:              memo,
		CreatedAt:         now,
	}
	r.transactions = append(r.transactions, txn)

	cp := txn
	return &cp, nil
}

func (r *MemoryRepository) GetOpenReservation(ctx context.Context, jobID string) (*Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resID, open := r.openByJob[jobID]
	if !open {
		return nil, ErrNoOpenReservation
	}
	cp := *r.reservations[resID]
	return &cp, nil
}

func (r *MemoryRepository) ListTransactions(ctx context.Context, accountID string, opts ListTransactionsOptions) ([]Transaction, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Transaction
	for _, txn := range r.transactions {
		if txn.AccountID != accountID {
			continue
		}
		if opts.Kind != "" && txn.Kind != opts.Kind {
			continue
		}
		if opts.JobID != "" && txn.JobID != opts.JobID {
			continue
		}
		if !opts.StartTime.IsZero() && txn.CreatedAt.Before(opts.StartTime) {
			continue
		}
		if !opts.EndTime.IsZero() && !txn.CreatedAt.Before(opts.EndTime) {
			continue
		}
		matched = append(matched, txn)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Transaction{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return matched[offset:end], total, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}
