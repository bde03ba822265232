// Package services – LedgerService
//
// LedgerService is the read side of the simulator: it looks up transaction
// records, pages through a sender's history and lists balances. It never
// writes.
package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-txsim/internal/domain"
)

// LedgerRepo defines the repository contract required by LedgerService.
type LedgerRepo interface {
	// GetTransaction fetches one record by id.
	GetTransaction(ctx context.Context, db *gorm.DB, id string) (*domain.TransactionRecord, error)

	// CountTransactions returns how many records sender has (all when empty).
	CountTransactions(ctx context.Context, db *gorm.DB, sender string) (int64, error)

	// ListTransactionsPage returns a page of records, newest first.
	ListTransactionsPage(ctx context.Context, db *gorm.DB, sender string, offset, limit int) ([]domain.TransactionRecord, error)

	// TransactionsStats returns the row count and latest UpdatedAt for sender.
	TransactionsStats(ctx context.Context, db *gorm.DB, sender string) (int64, *time.Time, error)

	// ListBalances returns every token balance of userID.
	ListBalances(ctx context.Context, db *gorm.DB, userID string) ([]domain.TokenBalance, error)
}

// LedgerService answers queries over the transaction log and balances.
type LedgerService struct {
	DB   *gorm.DB
	Repo LedgerRepo
}

// NewLedgerService constructs a LedgerService.
func NewLedgerService(db *gorm.DB, r LedgerRepo) *LedgerService {
	return &LedgerService{DB: db, Repo: r}
}

// Get returns the record with id or ErrTransactionNotFound.
func (s *LedgerService) Get(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	ctx, span := otel.Tracer("services/LedgerService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("tx.id", id)),
	)
	defer span.End()

	rec, err := s.Repo.GetTransaction(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	return rec, err
}

// ListPage returns a page of records for sender (all senders when empty) and
// the total. Invalid page/pageSize fall back to 1 and 20.
func (s *LedgerService) ListPage(ctx context.Context, sender string, page, pageSize int) ([]domain.TransactionRecord, int64, error) {
	ctx, span := otel.Tracer("services/LedgerService").Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("tx.sender", sender),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountTransactions(ctx, s.DB, sender)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.TransactionRecord{}, 0, nil
	}

	items, err := s.Repo.ListTransactionsPage(ctx, s.DB, sender, offset, pageSize)
	return items, total, err
}

// Stats returns the count and last modification time used for list ETags.
func (s *LedgerService) Stats(ctx context.Context, sender string) (int64, *time.Time, error) {
	return s.Repo.TransactionsStats(ctx, s.DB, sender)
}

// Balances lists every token balance held by userID.
func (s *LedgerService) Balances(ctx context.Context, userID string) ([]domain.TokenBalance, error) {
	ctx, span := otel.Tracer("services/LedgerService").Start(ctx, "Balances",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	out, err := s.Repo.ListBalances(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.TokenBalance{}
	}
	return out, nil
}
