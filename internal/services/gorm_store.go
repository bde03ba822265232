package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-txsim/internal/domain"
	"github.com/tbourn/go-txsim/internal/repo"
)

// GormStore adapts the repo package to Store and Transactor.
type GormStore struct {
	DB *gorm.DB
}

var (
	_ Store      = GormStore{}
	_ Transactor = GormStore{}
)

// NewGormStore wraps db.
func NewGormStore(db *gorm.DB) GormStore { return GormStore{DB: db} }

func (s GormStore) GetBalance(ctx context.Context, userID, tokenID string) (float64, error) {
	b, err := repo.GetBalance(ctx, s.DB, userID, tokenID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, ErrNoBalance
	}
	if err != nil {
		return 0, err
	}
	return b.Amount, nil
}

func (s GormStore) Credit(ctx context.Context, userID, tokenID string, amount float64) error {
	return repo.CreditBalance(ctx, s.DB, userID, tokenID, amount)
}

func (s GormStore) Debit(ctx context.Context, userID, tokenID string, amount float64) error {
	err := repo.DebitBalance(ctx, s.DB, userID, tokenID, amount)
	if errors.Is(err, repo.ErrInsufficientFunds) {
		return ErrInsufficientBalance
	}
	return err
}

func (s GormStore) CreateTransaction(ctx context.Context, rec *domain.TransactionRecord) error {
	err := repo.CreateTransaction(ctx, s.DB, rec)
	if errors.Is(err, repo.ErrDuplicate) {
		return ErrDuplicateTransaction
	}
	return err
}

func (s GormStore) GetTransaction(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	rec, err := repo.GetTransaction(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	return rec, err
}

func (s GormStore) UpdateTransactionStatus(ctx context.Context, id string, status domain.TxStatus, result *string, errMsg string) error {
	err := repo.UpdateTransactionStatus(ctx, s.DB, id, status, result, errMsg)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrTransactionNotFound
	}
	return err
}

func (s GormStore) ResetTransaction(ctx context.Context, id string) error {
	err := repo.ResetTransaction(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrTransactionNotFound
	}
	return err
}

func (s GormStore) CreateTransfer(ctx context.Context, t *domain.TokenTransfer) error {
	return repo.CreateTransfer(ctx, s.DB, t)
}

func (s GormStore) CreateClaim(ctx context.Context, c *domain.TokenClaim) error {
	return repo.CreateClaim(ctx, s.DB, c)
}

func (s GormStore) CreatePetition(ctx context.Context, p *domain.Petition) error {
	return repo.CreatePetition(ctx, s.DB, p)
}

func (s GormStore) HasVoted(ctx context.Context, petitionID, voterID string) (bool, error) {
	return repo.HasVoted(ctx, s.DB, petitionID, voterID)
}

func (s GormStore) CreateVote(ctx context.Context, v *domain.PetitionVote) error {
	err := repo.CreateVote(ctx, s.DB, v)
	if errors.Is(err, repo.ErrDuplicate) {
		return ErrAlreadyVoted
	}
	return err
}

// InTx runs fn inside a GORM transaction.
func (s GormStore) InTx(ctx context.Context, fn func(Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(GormStore{DB: tx})
	})
}
