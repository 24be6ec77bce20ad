package database

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTx_Commit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	userID := uuid.New()
	ctx := SetUserScope(context.Background(), NewUserScope(mock, userID))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE onboarding_profiles`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = NewTransactor().WithinTx(ctx, func(txCtx context.Context) error {
		scope, ok := GetUserScope(txCtx)
		require.True(t, ok)
		assert.True(t, scope.InTx())
		assert.Equal(t, userID, scope.UserID)
		_, err := scope.Conn.Exec(txCtx, "UPDATE onboarding_profiles SET is_current = false")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_RollbackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := SetUserScope(context.Background(), NewUserScope(mock, uuid.New()))

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = NewTransactor().WithinTx(ctx, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_NestedJoinsOuter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := SetUserScope(context.Background(), NewUserScope(mock, uuid.New()))

	// Only one BEGIN/COMMIT pair even though WithinTx is entered twice.
	mock.ExpectBegin()
	mock.ExpectCommit()

	tm := NewTransactor()
	inner := false
	err = tm.WithinTx(ctx, func(txCtx context.Context) error {
		return tm.WithinTx(txCtx, func(context.Context) error {
			inner = true
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, inner)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_BeginFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := SetUserScope(context.Background(), NewUserScope(mock, uuid.New()))
	mock.ExpectBegin().WillReturnError(errors.New("connection reset"))

	called := false
	err = NewTransactor().WithinTx(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin transaction")
	assert.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_NoScope(t *testing.T) {
	err := NewTransactor().WithinTx(context.Background(), func(context.Context) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrNoScope)
}

func TestGetUserScope_Missing(t *testing.T) {
	scope, ok := GetUserScope(context.Background())
	assert.False(t, ok)
	assert.Nil(t, scope)
}

func TestUserScope_CloseWithoutRelease(t *testing.T) {
	var nilScope *UserScope
	assert.NotPanics(t, func() { nilScope.Close() })
	assert.NotPanics(t, func() { NewUserScope(nil, uuid.New()).Close() })
}
