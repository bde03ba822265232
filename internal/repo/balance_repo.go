// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file holds the token balance queries.
//
// Balances are only ever changed through CreditBalance and DebitBalance so
// that every write is a single atomic statement; read-modify-write in Go code
// would let two concurrent transfers overdraw the same holder.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-txsim/internal/domain"
)

// GetBalance returns the (userID, tokenID) row or ErrNotFound.
func GetBalance(ctx context.Context, db *gorm.DB, userID, tokenID string) (*domain.TokenBalance, error) {
	var b domain.TokenBalance
	err := db.WithContext(ctx).
		Where("user_id = ? AND token_id = ?", userID, tokenID).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBalances returns every token held by userID ordered by token id.
func ListBalances(ctx context.Context, db *gorm.DB, userID string) ([]domain.TokenBalance, error) {
	var out []domain.TokenBalance
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("token_id asc").
		Find(&out).Error
	return out, err
}

// CreditBalance adds amount to the holder's balance, creating the row when
// absent. Implemented as an INSERT ... ON CONFLICT DO UPDATE so it works the
// same on SQLite and Postgres.
func CreditBalance(ctx context.Context, db *gorm.DB, userID, tokenID string, amount float64) error {
	now := time.Now().UTC()
	row := &domain.TokenBalance{
		UserID:    userID,
		TokenID:   tokenID,
		Amount:    amount,
		UpdatedAt: now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "token_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"amount":     gorm.Expr("token_balances.amount + excluded.amount"),
			"updated_at": now,
		}),
	}).Create(row).Error
}

// DebitBalance subtracts amount from the holder's balance. The decrement is
// guarded by amount >= ? in the same statement; when no row matches it
// returns ErrInsufficientFunds (this also covers a missing row).
func DebitBalance(ctx context.Context, db *gorm.DB, userID, tokenID string, amount float64) error {
	res := db.WithContext(ctx).
		Model(&domain.TokenBalance{}).
		Where("user_id = ? AND token_id = ? AND amount >= ?", userID, tokenID, amount).
		Updates(map[string]any{
			"amount":     gorm.Expr("amount - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientFunds
	}
	return nil
}
