// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// TransactionRecord model, the append-only audit log of every attempted
// transaction.
//
// All functions are context-aware and accept a *gorm.DB handle, so they can
// be used inside db.Transaction callbacks. They follow the "thin repository"
// approach: no business rules, only persistence and query composition.
//
// Error semantics:
//   - A missing record yields ErrNotFound (alias of gorm.ErrRecordNotFound).
//   - Inserting an id that already exists yields ErrDuplicate.
//   - Other DB errors are propagated as-is.
package repo

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-txsim/internal/domain"
)

// CreateTransaction inserts rec. CreatedAt/UpdatedAt default to now (UTC) and
// Status defaults to pending. A duplicate id returns ErrDuplicate.
func CreateTransaction(ctx context.Context, db *gorm.DB, rec *domain.TransactionRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = domain.StatusPending
	}
	return mapDuplicate(db.WithContext(ctx).Create(rec).Error)
}

// GetTransaction fetches a record by id or returns ErrNotFound.
func GetTransaction(ctx context.Context, db *gorm.DB, id string) (*domain.TransactionRecord, error) {
	var rec domain.TransactionRecord
	if err := db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateTransactionStatus sets status, result and error text on the record.
// A nil result clears the column. Returns ErrNotFound when no row matched.
func UpdateTransactionStatus(ctx context.Context, db *gorm.DB, id string, status domain.TxStatus, result *string, errMsg string) error {
	res := db.WithContext(ctx).
		Model(&domain.TransactionRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"result":     result,
			"error":      errMsg,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetTransaction moves a failed record back to pending so it can be
// executed again. Records in any other state are left untouched and
// ErrNotFound is returned.
func ResetTransaction(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.TransactionRecord{}).
		Where("id = ? AND status = ?", id, domain.StatusFailed).
		Updates(map[string]any{
			"status":     domain.StatusPending,
			"result":     nil,
			"error":      "",
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// bySender scopes a query to one sender; an empty sender matches all rows.
func bySender(sender string) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if s := strings.TrimSpace(sender); s != "" {
			return q.Where("sender = ?", s)
		}
		return q
	}
}

// CountTransactions returns how many records sender has (all when empty).
func CountTransactions(ctx context.Context, db *gorm.DB, sender string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.TransactionRecord{}).
		Scopes(bySender(sender)).
		Count(&total).Error
	return total, err
}

// ListTransactionsPage returns a page of records, newest first. Use
// CountTransactions for the total.
func ListTransactionsPage(ctx context.Context, db *gorm.DB, sender string, offset, limit int) ([]domain.TransactionRecord, error) {
	var out []domain.TransactionRecord
	err := db.WithContext(ctx).
		Scopes(bySender(sender)).
		Order("created_at desc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
