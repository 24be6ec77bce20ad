package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx shared by pooled connections, transactions
// and pgxmock, so repositories run unchanged inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UserScope wraps a connection with user context and ensures cleanup.
// The connection has app.current_user_id set for RLS policy evaluation.
type UserScope struct {
	Conn   Querier
	UserID uuid.UUID

	inTx    bool
	release func()
}

// NewUserScope wraps an existing querier. Close is a no-op for scopes built
// this way; the caller owns the connection.
func NewUserScope(conn Querier, userID uuid.UUID) *UserScope {
	return &UserScope{Conn: conn, UserID: userID}
}

// InTx reports whether the scope's connection is a transaction.
func (s *UserScope) InTx() bool {
	return s.inTx
}

// Close resets user context and releases the connection to the pool.
// This MUST be called to prevent user context from leaking to the next request.
func (s *UserScope) Close() {
	if s == nil || s.release == nil {
		return
	}
	s.release()
	s.release = nil
}

// WithUser acquires a connection and sets the user context for RLS.
// The returned UserScope MUST be closed with defer scope.Close().
func (db *DB) WithUser(ctx context.Context, userID uuid.UUID) (*UserScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_user_id', $1, false)", userID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &UserScope{
		Conn:   conn,
		UserID: userID,
		release: func() {
			_, _ = conn.Exec(context.Background(), "RESET app.current_user_id")
			conn.Release()
		},
	}, nil
}

// WithoutUser acquires a connection without user context.
// Use this for maintenance that needs full access (health checks, migrations checks).
// The returned UserScope MUST be closed with defer scope.Close().
func (db *DB) WithoutUser(ctx context.Context) (*UserScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &UserScope{Conn: conn, release: conn.Release}, nil
}
