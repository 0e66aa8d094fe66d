// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package reservation

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound is returned when an account does not exist
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when creating an account that already exists
	ErrAccountExists = errors.New("account already exists")

	// ErrInvalidAmount is returned for zero or negative amounts
	ErrInvalidAmount = errors.New("amount must be greater than 0")

	// ErrInvalidMarkup is returned for a non-positive markup factor
	ErrInvalidMarkup = errors.New("markup must be greater than 0 basis points")

	// ErrNoOpenReservation is returned when settle or cancel finds no open
	// reservation for the job. This indicates a double-settlement bug or a
	// race and must be logged loudly by callers, never treated as success.
	ErrNoOpenReservation = errors.New("no open reservation for job")

	// ErrDuplicateReservation is returned when blocking a job that already
	// holds an open reservation
	ErrDuplicateReservation = errors.New("job already has an open reservation")
)

// InsufficientFundsError is an admission-time rejection. The caller can
// recover by reducing scope or waiting for a credit.
type InsufficientFundsError struct {
	AccountID      string
	RequestedCents int64
	AvailableCents int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s requested %d cents, available %d cents",
		e.AccountID, e.RequestedCents, e.AvailableCents)
}

// IsInsufficientFunds reports whether err is an InsufficientFundsError.
func IsInsufficientFunds(err error) bool {
	var target *InsufficientFundsError
	return errors.As(err, &target)
}
