package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type contextKey string

const txKey contextKey = "gorm_tx"

// PostgreSQL error codes that mean "run the whole transaction again".
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// TransactionManager manages database transactions via context injection.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

type transactionManager struct {
	db      *gorm.DB
	retries int
}

// NewTransactionManager returns a manager that retries fn up to retries extra times
// when the database aborts the transaction with a serialization failure or deadlock.
func NewTransactionManager(db *gorm.DB, retries int) TransactionManager {
	if retries < 0 {
		retries = 0
	}
	return &transactionManager{db: db, retries: retries}
}

func (t *transactionManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	// Nested calls join the outer transaction.
	if _, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt <= t.retries; attempt++ {
		err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			txCtx := context.WithValue(ctx, txKey, tx)
			return fn(txCtx)
		})
		if err == nil || !IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// IsRetryable reports whether err is a transient transaction conflict.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

// GetDB extracts the transaction DB from context if present, otherwise returns root DB.
func GetDB(ctx context.Context, rootDB *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return rootDB.WithContext(ctx)
}
