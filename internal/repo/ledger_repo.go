package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-txsim/internal/domain"
)

// CreateTransfer inserts a completed TokenTransfer with a fresh UUID.
func CreateTransfer(ctx context.Context, db *gorm.DB, t *domain.TokenTransfer) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = string(domain.StatusCompleted)
	}
	t.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(t).Error
}

// CreateClaim inserts a completed TokenClaim with a fresh UUID.
func CreateClaim(ctx context.Context, db *gorm.DB, c *domain.TokenClaim) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = string(domain.StatusCompleted)
	}
	c.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(c).Error
}
