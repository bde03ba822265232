package services

import (
	"context"

	"github.com/tbourn/go-txsim/internal/domain"
)

// Store is the relational store the validator, executor and processor work
// against. Implementations translate their own "not found" and uniqueness
// errors into ErrNoBalance, ErrTransactionNotFound, ErrDuplicateTransaction,
// ErrInsufficientBalance and ErrAlreadyVoted.
type Store interface {
	// GetBalance returns the holder's amount of tokenID or ErrNoBalance.
	GetBalance(ctx context.Context, userID, tokenID string) (float64, error)
	// Credit atomically adds amount, creating the balance row if needed.
	Credit(ctx context.Context, userID, tokenID string, amount float64) error
	// Debit atomically subtracts amount, failing with ErrInsufficientBalance
	// rather than going negative.
	Debit(ctx context.Context, userID, tokenID string, amount float64) error

	CreateTransaction(ctx context.Context, rec *domain.TransactionRecord) error
	GetTransaction(ctx context.Context, id string) (*domain.TransactionRecord, error)
	UpdateTransactionStatus(ctx context.Context, id string, status domain.TxStatus, result *string, errMsg string) error
	// ResetTransaction moves a failed record back to pending.
	ResetTransaction(ctx context.Context, id string) error

	CreateTransfer(ctx context.Context, t *domain.TokenTransfer) error
	CreateClaim(ctx context.Context, c *domain.TokenClaim) error
	CreatePetition(ctx context.Context, p *domain.Petition) error
	HasVoted(ctx context.Context, petitionID, voterID string) (bool, error)
	CreateVote(ctx context.Context, v *domain.PetitionVote) error
}

// Transactor is implemented by stores that can run several writes inside one
// database transaction. fn receives a Store bound to that transaction; a
// non-nil return rolls everything back.
type Transactor interface {
	InTx(ctx context.Context, fn func(Store) error) error
}
