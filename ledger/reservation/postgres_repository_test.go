// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package reservation

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accountRows(balance, blocked int64) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "name", "balance_cents", "blocked_cents", "created_at", "updated_at"}).
		AddRow("acct-1", "Test Client", balance, blocked, now, now)
}

func TestPostgresBlock_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("acct-1").
		WillReturnRows(accountRows(1000, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM reservations")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET blocked_cents")).
		WithArgs("acct-1", int64(400), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservations")).
		WithArgs(sqlmock.AnyArg(), "acct-1", "job-1", int64(400), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.Block(context.Background(), "acct-1", "job-1", 400)
	require.NoError(t, err)
	assert.Equal(t, int64(600), result.AvailableAfterCents)
	assert.NotEmpty(t, result.ReservationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBlock_InsufficientFundsRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("acct-1").
		WillReturnRows(accountRows(1000, 800))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM reservations")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	_, err = repo.Block(context.Background(), "acct-1", "job-1", 400)
	require.Error(t, err)
	assert.True(t, IsInsufficientFunds(err))

	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(200), insufficient.AvailableCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBlock_DuplicateOpenReservation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("acct-1").
		WillReturnRows(accountRows(1000, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM reservations")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err = repo.Block(context.Background(), "acct-1", "job-1", 400)
	assert.ErrorIs(t, err, ErrDuplicateReservation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSettle_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM reservations")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "job_id", "amount_cents", "status", "created_at"}).
			AddRow("res-1", "acct-1", "job-1", int64(600), "open", now))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("acct-1").
		WillReturnRows(accountRows(1000, 600))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts")).
		WithArgs("acct-1", int64(520), int64(600), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET status = 'settled'")).
		WithArgs("res-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WithArgs(sqlmock.AnyArg(), "acct-1", int64(480), int64(400), int64(12000), "job-1", int64(520), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.Settle(context.Background(), "job-1", 400, 12000)
	require.NoError(t, err)
	assert.Equal(t, int64(480), result.ChargedCents)
	assert.Equal(t, int64(120), result.RefundedCents)
	assert.Equal(t, int64(520), result.BalanceAfterCents)
	assert.False(t, result.Overrun)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSettle_NoOpenReservation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM reservations")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "job_id", "amount_cents", "status", "created_at"}))
	mock.ExpectRollback()

	_, err = repo.Settle(context.Background(), "job-1", 400, 12000)
	assert.ErrorIs(t, err, ErrNoOpenReservation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSettle_RejectsInvalidInputs(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	_, err = repo.Settle(context.Background(), "job-1", -1, 10000)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = repo.Settle(context.Background(), "job-1", 100, 0)
	assert.ErrorIs(t, err, ErrInvalidMarkup)
}

func TestPostgresCancel_ReleasesHold(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM reservations")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "job_id", "amount_cents", "status", "created_at"}).
			AddRow("res-1", "acct-1", "job-1", int64(600), "open", now))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("acct-1").
		WillReturnRows(accountRows(1000, 600))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET blocked_cents")).
		WithArgs("acct-1", int64(600), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET status = 'cancelled'")).
		WithArgs("res-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.Cancel(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), result.ReleasedCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetAccount_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "balance_cents", "blocked_cents", "created_at", "updated_at"}))

	_, err = repo.GetAccount(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
