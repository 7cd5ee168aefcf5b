package repositories

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"farmmarket/internal/apperrors"
)

// TxManager runs a function inside a database transaction.
type TxManager interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// GORMTxManager is a GORM implementation of TxManager.
type GORMTxManager struct {
	db *gorm.DB
}

// NewGORMTxManager creates a new instance of GORMTxManager.
func NewGORMTxManager(db *gorm.DB) *GORMTxManager {
	return &GORMTxManager{db: db}
}

// WithTx commits when fn returns nil and rolls back otherwise. Application errors pass through
// untouched; storage failures that may succeed on retry come back as apperrors.KindTransient.
func (m *GORMTxManager) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := m.db.WithContext(ctx).Transaction(fn)
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if IsTransient(err) {
		return apperrors.Wrap(apperrors.KindTransient, "tx", err, "transaction aborted, safe to retry")
	}
	return fmt.Errorf("transaction failed: %w", err)
}

// postgres: serialization_failure, deadlock_detected, lock_not_available
var transientPgCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

// IsTransient reports whether err is a storage failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCodes[pgErr.Code]
	}
	if pgconn.Timeout(err) {
		return true
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// readWithRetry runs an idempotent read, retrying it once on a transient failure.
func readWithRetry(ctx context.Context, read func() error) error {
	err := read()
	if err == nil || !IsTransient(err) || ctx.Err() != nil {
		return err
	}
	return read()
}
