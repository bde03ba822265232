// Package handlers implements the JSON endpoints of the simulator.
//
// Handlers are transport-thin: they decode requests, call the transaction
// processor or the ledger query service, and translate outcomes into HTTP
// status codes. Business rules live in the services package.
package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-txsim/internal/domain"
)

// TransactionService is the write side consumed by the handlers.
type TransactionService interface {
	// Submit validates and executes tx; the outcome is always a result.
	Submit(ctx context.Context, tx *domain.Transaction) domain.ExecutionResult
	// Validate is a dry run with no writes.
	Validate(ctx context.Context, tx *domain.Transaction) domain.ValidationResult
}

// LedgerService is the read side consumed by the handlers.
type LedgerService interface {
	Get(ctx context.Context, id string) (*domain.TransactionRecord, error)
	ListPage(ctx context.Context, sender string, page, pageSize int) ([]domain.TransactionRecord, int64, error)
	Stats(ctx context.Context, sender string) (int64, *time.Time, error)
	Balances(ctx context.Context, userID string) ([]domain.TokenBalance, error)
}

// IdempotencyStore remembers which transaction an Idempotency-Key produced.
type IdempotencyStore interface {
	Save(ctx context.Context, principal, key, transactionID string, status int) error
}

// Handlers groups the HTTP endpoints. idem may be nil, in which case
// Idempotency-Key headers are validated but never stored.
type Handlers struct {
	txSvc     TransactionService
	ledgerSvc LedgerService
	idem      IdempotencyStore
}

// New constructs Handlers bound to the given services.
func New(txSvc TransactionService, ledgerSvc LedgerService, idem IdempotencyStore) *Handlers {
	return &Handlers{txSvc: txSvc, ledgerSvc: ledgerSvc, idem: idem}
}
