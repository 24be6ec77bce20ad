package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-onboard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-onboard/pkg/database"
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
)

// SessionRepository provides data access for conversation sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *models.ConversationSession) error
	Get(ctx context.Context, id uuid.UUID) (*models.ConversationSession, error)
	// GetForUpdate locks the session row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.ConversationSession, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.ConversationSession, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error
	// AbandonActive marks every other ACTIVE session of the user as ABANDONED.
	AbandonActive(ctx context.Context, userID, exceptID uuid.UUID) (int64, error)
}

type sessionRepository struct{}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository() SessionRepository {
	return &sessionRepository{}
}

var _ SessionRepository = (*sessionRepository)(nil)

const sessionColumns = `id, user_id, status, created_at, updated_at, completed_at`

func (r *sessionRepository) Create(ctx context.Context, session *models.ConversationSession) error {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.Status == "" {
		session.Status = models.SessionStatusActive
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	query := `
		INSERT INTO onboarding_sessions (id, user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := scope.Conn.Exec(ctx, query,
		session.ID, session.UserID, session.Status, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (*models.ConversationSession, error) {
	return r.get(ctx, id, false)
}

func (r *sessionRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.ConversationSession, error) {
	return r.get(ctx, id, true)
}

func (r *sessionRepository) get(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.ConversationSession, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `SELECT ` + sessionColumns + ` FROM onboarding_sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	s, err := scanSession(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *sessionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.ConversationSession, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT ` + sessionColumns + `
		FROM onboarding_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := scope.Conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*models.ConversationSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

func (r *sessionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	query := `
		UPDATE onboarding_sessions
		SET status = $2,
		    completed_at = CASE WHEN $2 = 'COMPLETED' THEN NOW() ELSE completed_at END
		WHERE id = $1`

	tag, err := scope.Conn.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *sessionRepository) AbandonActive(ctx context.Context, userID, exceptID uuid.UUID) (int64, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return 0, database.ErrNoScope
	}

	query := `
		UPDATE onboarding_sessions
		SET status = 'ABANDONED'
		WHERE user_id = $1 AND status = 'ACTIVE' AND id <> $2`

	tag, err := scope.Conn.Exec(ctx, query, userID, exceptID)
	if err != nil {
		return 0, fmt.Errorf("failed to abandon sessions: %w", err)
	}

	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*models.ConversationSession, error) {
	var s models.ConversationSession
	err := row.Scan(&s.ID, &s.UserID, &s.Status, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
