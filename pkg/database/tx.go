package database

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoScope is returned when a database operation runs without a user scope in context.
var ErrNoScope = errors.New("no database scope in context")

// Transactor runs a function inside a database transaction.
type Transactor interface {
	// WithinTx begins a transaction on the context's scope, runs fn with a
	// context carrying the transaction, and commits if fn returns nil.
	// Nested calls join the outer transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txManager struct{}

var _ Transactor = (*txManager)(nil)

// NewTransactor returns a Transactor that uses the UserScope found in context.
func NewTransactor() Transactor {
	return &txManager{}
}

func (m *txManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	scope, ok := GetUserScope(ctx)
	if !ok {
		return ErrNoScope
	}
	if scope.inTx {
		return fn(ctx)
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txCtx := SetUserScope(ctx, &UserScope{Conn: tx, UserID: scope.UserID, inTx: true})
	if err := fn(txCtx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
