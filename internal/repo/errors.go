package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound so callers can match either.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique-constraint violation (transaction id,
// vote per petition/voter, idempotency key).
var ErrDuplicate = errors.New("duplicate")

// ErrInsufficientFunds is returned by DebitBalance when the guarded decrement
// matches no row, i.e. the holder has less than the requested amount.
var ErrInsufficientFunds = errors.New("insufficient funds")

// IsDuplicate reports whether err is a unique-constraint violation. The pure-Go
// SQLite driver and pgx both surface these as plain text, so the message is
// inspected as well as gorm.ErrDuplicatedKey.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value") ||
		strings.Contains(low, "sqlstate 23505")
}

// mapDuplicate converts unique violations to ErrDuplicate and passes every
// other error through.
func mapDuplicate(err error) error {
	if IsDuplicate(err) {
		return ErrDuplicate
	}
	return err
}
