// Package services holds the transaction simulator's business logic: the
// validator, the executor, the processor that sequences them, and the read
// side used by the HTTP layer. This file centralizes the service-level error
// values so callers can match them with errors.Is.
//
// Translation into HTTP status codes happens in the handler layer.
package services

import "errors"

var (
	// ErrTransactionNotFound indicates that no transaction record has the id.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateTransaction is returned by a Store when a record with the
	// same id already exists.
	ErrDuplicateTransaction = errors.New("transaction already recorded")

	// ErrNoBalance is returned by Store.GetBalance when the holder has no row
	// for the token.
	ErrNoBalance = errors.New("no balance record")

	// ErrInsufficientBalance is returned by Store.Debit when the guarded
	// decrement would overdraw the holder.
	ErrInsufficientBalance = errors.New("insufficient token balance for transfer")

	// ErrAlreadyVoted is returned when a voter already has a vote on the petition.
	ErrAlreadyVoted = errors.New("already voted on this proposal")
)
