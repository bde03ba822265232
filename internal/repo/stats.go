// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-txsim/internal/domain"
)

// TransactionsStats returns the number of records for sender (all senders when
// empty) and the greatest UpdatedAt among them. maxUpdatedAt is nil when there
// are no rows.
func TransactionsStats(ctx context.Context, db *gorm.DB, sender string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.TransactionRecord{}).Scopes(bySender(sender))

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Order+Limit rather than MAX(): SQLite returns MAX over datetimes as TEXT.
	var row struct {
		UpdatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.TransactionRecord{}).Scopes(bySender(sender)).
		Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
