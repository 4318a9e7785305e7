// Package txn manages database transactions. Writes run inside one
// transaction per top-level request; a caller-supplied transaction is reused
// and never committed by the engine.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrAlreadyFinished is returned when committing or rolling back twice.
var ErrAlreadyFinished = errors.New("transaction already finished")

// Transaction wraps a database transaction.
type Transaction struct {
	tx         *sql.Tx
	committed  atomic.Bool
	rolledBack atomic.Bool
}

// Manager begins transactions against a database handle.
type Manager struct {
	db *sql.DB
}

// NewManager creates a transaction manager.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Begin starts a new transaction.
func (m *Manager) Begin(ctx context.Context) (*Transaction, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: tx}, nil
}

// Commit commits the transaction. Only the owner of the outermost
// transaction may call this.
func (t *Transaction) Commit() error {
	if t.committed.Load() || t.rolledBack.Load() {
		return ErrAlreadyFinished
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.committed.Store(true)
	return nil
}

// Rollback rolls back the transaction. Rolling back twice is a no-op.
func (t *Transaction) Rollback() error {
	if t.committed.Load() {
		return ErrAlreadyFinished
	}
	if t.rolledBack.Load() {
		return nil
	}
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	t.rolledBack.Store(true)
	return nil
}

// Finished reports whether the transaction has been committed or rolled back.
func (t *Transaction) Finished() bool {
	return t.committed.Load() || t.rolledBack.Load()
}

// ExecContext executes a statement inside the transaction.
func (t *Transaction) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// QueryContext executes a query inside the transaction.
func (t *Transaction) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a single-row query inside the transaction.
func (t *Transaction) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

type contextKey struct{}

// WithContext embeds the transaction in a context for read-after-write
// consistency on nested reads.
func WithContext(ctx context.Context, t *Transaction) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext retrieves a transaction embedded in the context.
func FromContext(ctx context.Context) (*Transaction, bool) {
	t, ok := ctx.Value(contextKey{}).(*Transaction)
	return t, ok
}
