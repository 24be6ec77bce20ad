package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-onboard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-onboard/pkg/database"
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
)

func newMockContext(t *testing.T) (context.Context, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return database.SetUserScope(context.Background(), database.NewUserScope(mock, uuid.New())), mock
}

var profileCols = []string{
	"id", "user_id", "session_id", "industry", "capital_amount",
	"invention_patent_count", "utility_patent_count", "certification_count",
	"esg_certification_count", "esg_certification", "is_current", "created_at", "updated_at",
}

func TestRepositories_RequireScope(t *testing.T) {
	ctx := context.Background()

	_, err := NewSessionRepository().Get(ctx, uuid.New())
	assert.ErrorIs(t, err, database.ErrNoScope)

	_, err = NewProfileRepository().GetCurrent(ctx, uuid.New())
	assert.ErrorIs(t, err, database.ErrNoScope)

	_, err = NewProductRepository().ListByProfile(ctx, uuid.New())
	assert.ErrorIs(t, err, database.ErrNoScope)

	err = NewTurnRepository().Append(ctx, &models.Turn{Role: models.ChatRoleUser})
	assert.ErrorIs(t, err, database.ErrNoScope)
}

func TestSessionRepository_Get_NotFound(t *testing.T) {
	ctx, mock := newMockContext(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM onboarding_sessions WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "status", "created_at", "updated_at", "completed_at"}))

	_, err := NewSessionRepository().Get(ctx, id)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_GetForUpdate_LocksRow(t *testing.T) {
	ctx, mock := newMockContext(t)
	id, userID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT .* FROM onboarding_sessions WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "status", "created_at", "updated_at", "completed_at"}).
			AddRow(id, userID, "COMPLETED", now, now, &now))

	s, err := NewSessionRepository().GetForUpdate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, userID, s.UserID)
	assert.True(t, s.IsCompleted())
	require.NotNil(t, s.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_UpdateStatus_NotFound(t *testing.T) {
	ctx, mock := newMockContext(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE onboarding_sessions`).
		WithArgs(id, models.SessionStatusCompleted).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewSessionRepository().UpdateStatus(ctx, id, models.SessionStatusCompleted)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_AbandonActive(t *testing.T) {
	ctx, mock := newMockContext(t)
	userID, keep := uuid.New(), uuid.New()

	mock.ExpectExec(`UPDATE onboarding_sessions\s+SET status = 'ABANDONED'`).
		WithArgs(userID, keep).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := NewSessionRepository().AbandonActive(ctx, userID, keep)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepository_GetCurrent_ScansNullableFields(t *testing.T) {
	ctx, mock := newMockContext(t)
	userID, id, sessionID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()
	industry := "電子業"
	capital := int64(50000000)

	mock.ExpectQuery(`FROM onboarding_profiles WHERE user_id = \$1 AND is_current`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(profileCols).
			AddRow(id, userID, sessionID, &industry, &capital, nil, nil, nil, nil, nil, true, now, now))

	p, err := NewProfileRepository().GetCurrent(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, p.Industry)
	assert.Equal(t, "電子業", *p.Industry)
	require.NotNil(t, p.CapitalAmount)
	assert.Equal(t, int64(50000000), *p.CapitalAmount)
	assert.Nil(t, p.InventionPatentCount)
	assert.Nil(t, p.ESGCertifications)
	assert.True(t, p.IsCurrent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepository_ClearCurrent(t *testing.T) {
	ctx, mock := newMockContext(t)
	userID := uuid.New()

	mock.ExpectExec(`UPDATE onboarding_profiles SET is_current = false`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := NewProfileRepository().ClearCurrent(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepository_UpdateFields(t *testing.T) {
	ctx, mock := newMockContext(t)
	industry := "食品業"
	count := 3
	p := &models.Profile{ID: uuid.New(), Industry: &industry, InventionPatentCount: &count}
	updatedAt := time.Now()

	mock.ExpectQuery(`UPDATE onboarding_profiles`).
		WithArgs(p.ID, p.Industry, p.CapitalAmount, p.InventionPatentCount, p.UtilityPatentCount,
			p.CertificationCount, p.ESGCertificationCount, p.ESGCertifications).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(updatedAt))

	require.NoError(t, NewProfileRepository().UpdateFields(ctx, p))
	assert.Equal(t, updatedAt, p.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_Create_RequiresName(t *testing.T) {
	ctx, mock := newMockContext(t)

	err := NewProductRepository().Create(ctx, &models.Product{ProfileID: uuid.New(), ExternalID: "PROD001"})
	assert.ErrorIs(t, err, apperrors.ErrProductNameRequired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_Create(t *testing.T) {
	ctx, mock := newMockContext(t)
	p := &models.Product{ProfileID: uuid.New(), ExternalID: "PROD001", Name: "智能感測器", Price: "1000"}

	mock.ExpectExec(`INSERT INTO onboarding_products`).
		WithArgs(pgxmock.AnyArg(), p.ProfileID, "PROD001", "智能感測器", "1000", "", "", "",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewProductRepository().Create(ctx, p))
	assert.NotEqual(t, uuid.Nil, p.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_GetByExternalID_NotFound(t *testing.T) {
	ctx, mock := newMockContext(t)
	profileID := uuid.New()

	mock.ExpectQuery(`FROM onboarding_products\s+WHERE profile_id = \$1 AND external_id = \$2`).
		WithArgs(profileID, "PROD404").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := NewProductRepository().GetByExternalID(ctx, profileID, "PROD404")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_CopyToProfile(t *testing.T) {
	ctx, mock := newMockContext(t)
	src, dst := uuid.New(), uuid.New()

	mock.ExpectExec(`INSERT INTO onboarding_products .* SELECT gen_random_uuid\(\)`).
		WithArgs(src, dst).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := NewProductRepository().CopyToProfile(ctx, src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTurnRepository_Append_RejectsInvalidRole(t *testing.T) {
	ctx, mock := newMockContext(t)

	err := NewTurnRepository().Append(ctx, &models.Turn{SessionID: uuid.New(), Role: "system", Content: "x"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTurnRepository_Append_AssignsSeq(t *testing.T) {
	ctx, mock := newMockContext(t)
	turn := &models.Turn{SessionID: uuid.New(), Role: models.ChatRoleUser, Content: "電子業"}
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO onboarding_turns`).
		WithArgs(pgxmock.AnyArg(), turn.SessionID, models.ChatRoleUser, "電子業").
		WillReturnRows(pgxmock.NewRows([]string{"seq", "created_at"}).AddRow(3, now))

	require.NoError(t, NewTurnRepository().Append(ctx, turn))
	assert.Equal(t, 3, turn.Seq)
	assert.Equal(t, now, turn.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTurnRepository_ListRecent_ChronologicalOrder(t *testing.T) {
	ctx, mock := newMockContext(t)
	sessionID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`ORDER BY seq DESC\s+LIMIT \$2`).
		WithArgs(sessionID, 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "session_id", "seq", "role", "content", "created_at"}).
			AddRow(uuid.New(), sessionID, 4, "assistant", "second", now).
			AddRow(uuid.New(), sessionID, 3, "user", "first", now))

	turns, err := NewTurnRepository().ListRecent(ctx, sessionID, 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, 3, turns[0].Seq)
	assert.Equal(t, models.ChatRoleUser, turns[0].Role)
	assert.Equal(t, "second", turns[1].Content)
	require.NoError(t, mock.ExpectationsWereMet())
}
