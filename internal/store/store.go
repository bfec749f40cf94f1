// Package store provides persistence for the notification engine's
// entities on top of database/sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// querier abstracts *sql.DB and *sql.Tx for shared query logic.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store provides access to the engine's persisted entities.
type Store struct {
	db *sql.DB
	q  querier
}

// New creates a new store.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// Begin starts a transaction. The returned Tx exposes the same query
// methods as Store; state transitions that must be atomic (batch release,
// window lifecycle) run inside one.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{Store: Store{db: s.db, q: tx}, tx: tx}, nil
}

// Tx wraps a database transaction with the same methods as Store.
type Tx struct {
	Store
	tx *sql.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction. Safe to defer after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
