// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package reservation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository implements Repository using PostgreSQL. Ledger
// mutations run inside a transaction holding SELECT ... FOR UPDATE on the
// account row, so concurrent block/settle/cancel calls for the same
// account serialize at the database.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateAccount creates a new account
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *Account) error {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	account.UpdatedAt = account.CreatedAt

	query := `
		INSERT INTO accounts (id, name, balance_cents, blocked_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		account.ID, account.Name, account.BalanceCents, account.BlockedCents,
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// GetAccount retrieves an account by ID
func (r *PostgresRepository) GetAccount(ctx context.Context, id string) (*Account, error) {
	query := `
		SELECT id, name, balance_cents, blocked_cents, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	var account Account
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&account.ID, &account.Name, &account.BalanceCents, &account.BlockedCents,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

// lockAccount reads the account row under FOR UPDATE inside tx.
func lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (*Account, error) {
	query := `
		SELECT id, name, balance_cents, blocked_cents, created_at, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`

	var account Account
	err := tx.QueryRowContext(ctx, query, accountID).Scan(
		&account.ID, &account.Name, &account.BalanceCents, &account.BlockedCents,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	return &account, nil
}

// Block places a hold of amountCents for jobID on the account. Exactly
// one of two concurrent blocks that together exceed availability can
// succeed; the loser sees InsufficientFundsError.
func (r *PostgresRepository) Block(ctx context.Context, accountID, jobID string, amountCents int64) (*BlockResult, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	var openCount int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE job_id = $1 AND status = 'open'`,
		jobID,
	).Scan(&openCount)
	if err != nil {
		return nil, fmt.Errorf("failed to check open reservations: %w", err)
	}
	if openCount > 0 {
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
	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET blocked_cents = blocked_cents + $2, updated_at = $3 WHERE id = $1`,
		accountID, amountCents, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update blocked funds: %w", err)
	}

	reservationID := uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (id, account_id, job_id, amount_cents, status, created_at)
		VALUES ($1, $2, $3, $4, 'open', $5)
	`, reservationID, accountID, jobID, amountCents, now)
	if err != nil {
		// The partial unique index on (job_id) WHERE status='open' backstops
		// the count check above against concurrent inserts.
		if strings.Contains(err.Error(), "duplicate key") {
			return nil, ErrDuplicateReservation
		}
		return nil, fmt.Errorf("failed to insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit block: %w", err)
	}

	return &BlockResult{
		ReservationID:       reservationID,
		AmountCents:         amountCents,
		AvailableAfterCents: available - amountCents,
	}, nil
}

// Settle converts the job's open reservation into a charge. The balance
// is debited by charged = realCost x markup, floored at zero; the unused
// portion of the hold is released; a debit transaction is appended. A
// second settle for the same job returns ErrNoOpenReservation.
func (r *PostgresRepository) Settle(ctx context.Context, jobID string, realCostCents, markupBps int64) (*SettleResult, error) {
	if realCostCents < 0 {
		return nil, ErrInvalidAmount
	}
	if markupBps <= 0 {
		return nil, ErrInvalidMarkup
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := lockOpenReservation(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}

	account, err := lockAccount(ctx, tx, res.AccountID)
	if err != nil {
		return nil, err
	}

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
	_, err = tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance_cents = $2, blocked_cents = blocked_cents - $3, updated_at = $4
		WHERE id = $1
	`, account.ID, balanceAfter, res.AmountCents, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update account on settle: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE reservations SET status = 'settled', closed_at = $2 WHERE id = $1`,
		res.ID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to close reservation: %w", err)
	}

	txnID := uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, kind, amount_cents, real_cost_cents, markup_bps, job_id, balance_after_cents, memo, created_at)
		VALUES ($1, $2, 'debit', $3, $4, $5, $6, $7, '', $8)
	`, txnID, account.ID, charged, realCostCents, markupBps, jobID, balanceAfter, now)
	if err != nil {
		return nil, fmt.Errorf("failed to append transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settle: %w", err)
	}

	return &SettleResult{
		TransactionID:     txnID,
		AccountID:         account.ID,
		ReservedCents:     res.AmountCents,
		ChargedCents:      charged,
		RefundedCents:     refunded,
		BalanceAfterCents: balanceAfter,
		Overrun:           charged > res.AmountCents,
	}, nil
}

// Cancel releases the job's open reservation without charging. No
// transaction is recorded. Idempotent in the same sense as Settle.
func (r *PostgresRepository) Cancel(ctx context.Context, jobID string) (*CancelResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := lockOpenReservation(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}

	if _, err := lockAccount(ctx, tx, res.AccountID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET blocked_cents = blocked_cents - $2, updated_at = $3 WHERE id = $1`,
		res.AccountID, res.AmountCents, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to release blocked funds: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE reservations SET status = 'cancelled', closed_at = $2 WHERE id = $1`,
		res.ID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancel: %w", err)
	}

	return &CancelResult{AccountID: res.AccountID, ReleasedCents: res.AmountCents}, nil
}

// Credit adds funds to the account and appends a credit transaction.
func (r *PostgresRepository) Credit(ctx context.Context, accountID string, amountCents int64, memo string) (*Transaction, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	balanceAfter := account.BalanceCents + amountCents

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = $2, updated_at = $3 WHERE id = $1`,
		accountID, balanceAfter, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to credit account: %w", err)
	}

	txn := &Transaction{
		ID:                uuid.New().String(),
		AccountID:         accountID,
		Kind:              KindCredit,
		AmountCents:       amountCents,
		BalanceAfterCents: balanceAfter,
		Memo:              memo,
		CreatedAt:         now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, kind, amount_cents, real_cost_cents, markup_bps, job_id, balance_after_cents, memo, created_at)
		VALUES ($1, $2, 'credit', $3, 0, 0, '', $4, $5, $6)
	`, txn.ID, accountID, amountCents, balanceAfter, memo, now)
	if err != nil {
		return nil, fmt.Errorf("failed to append credit transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit credit: %w", err)
	}

	return txn, nil
}

// GetOpenReservation returns the open reservation for a job, if any.
func (r *PostgresRepository) GetOpenReservation(ctx context.Context, jobID string) (*Reservation, error) {
	query := `
		SELECT id, account_id, job_id, amount_cents, status, created_at, closed_at
		FROM reservations
		WHERE job_id = $1 AND status = 'open'
	`

	var res Reservation
	var closedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, jobID).Scan(
		&res.ID, &res.AccountID, &res.JobID, &res.AmountCents, &res.Status,
		&res.CreatedAt, &closedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNoOpenReservation
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open reservation: %w", err)
	}
	if closedAt.Valid {
		res.ClosedAt = &closedAt.Time
	}

	return &res, nil
}

func lockOpenReservation(ctx context.Context, tx *sql.Tx, jobID string) (*Reservation, error) {
	query := `
		SELECT id, account_id, job_id, amount_cents, status, created_at
		FROM reservations
		WHERE job_id = $1 AND status = 'open'
		FOR UPDATE
	`

	var res Reservation
	err := tx.QueryRowContext(ctx, query, jobID).Scan(
		&res.ID, &res.AccountID, &res.JobID, &res.AmountCents, &res.Status, &res.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNoOpenReservation
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock reservation: %w", err)
	}

	return &res, nil
}

// ListTransactions lists an account's transactions with filtering and pagination
func (r *PostgresRepository) ListTransactions(ctx context.Context, accountID string, opts ListTransactionsOptions) ([]Transaction, int, error) {
	conditions := []string{"account_id = $1"}
	args := []interface{}{accountID}
	argIndex := 2

	if opts.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIndex))
		args = append(args, opts.Kind)
		argIndex++
	}
	if opts.JobID != "" {
		conditions = append(conditions, fmt.Sprintf("job_id = $%d", argIndex))
		args = append(args, opts.JobID)
		argIndex++
	}
	if !opts.StartTime.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, opts.StartTime)
		argIndex++
	}
	if !opts.EndTime.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, opts.EndTime)
		argIndex++
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT id, account_id, kind, amount_cents, real_cost_cents, markup_bps, job_id, balance_after_cents, memo, created_at
		FROM transactions
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argIndex, argIndex+1)

	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		var txn Transaction
		if err := rows.Scan(
			&txn.ID, &txn.AccountID, &txn.Kind, &txn.AmountCents, &txn.RealCostCents,
			&txn.MarkupBps, &txn.JobID, &txn.BalanceAfterCents, &txn.Memo, &txn.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}

	return txns, total, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
