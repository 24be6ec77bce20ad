package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-onboard/pkg/database"
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
)

// TurnRepository provides data access for the append-only session transcript.
type TurnRepository interface {
	// Append stores a turn and assigns the next sequence number in its session.
	Append(ctx context.Context, turn *models.Turn) error
	// ListBySession returns every turn in sequence order.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Turn, error)
	// ListRecent returns the last limit turns, still in sequence order.
	ListRecent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.Turn, error)
	Count(ctx context.Context, sessionID uuid.UUID) (int, error)
}

type turnRepository struct{}

// NewTurnRepository creates a new TurnRepository.
func NewTurnRepository() TurnRepository {
	return &turnRepository{}
}

var _ TurnRepository = (*turnRepository)(nil)

func (r *turnRepository) Append(ctx context.Context, turn *models.Turn) error {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	if !models.IsValidChatRole(turn.Role) {
		return fmt.Errorf("invalid chat role %q", turn.Role)
	}
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}

	query := `
		INSERT INTO onboarding_turns (id, session_id, seq, role, content)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4
		FROM onboarding_turns
		WHERE session_id = $2
		RETURNING seq, created_at`

	err := scope.Conn.QueryRow(ctx, query, turn.ID, turn.SessionID, turn.Role, turn.Content).
		Scan(&turn.Seq, &turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}

	return nil
}

func (r *turnRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Turn, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT id, session_id, seq, role, content, created_at
		FROM onboarding_turns
		WHERE session_id = $1
		ORDER BY seq`

	return r.query(ctx, scope, query, sessionID)
}

func (r *turnRepository) ListRecent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.Turn, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, session_id, seq, role, content, created_at
		FROM onboarding_turns
		WHERE session_id = $1
		ORDER BY seq DESC
		LIMIT $2`

	turns, err := r.query(ctx, scope, query, sessionID, limit)
	if err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (r *turnRepository) Count(ctx context.Context, sessionID uuid.UUID) (int, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return 0, database.ErrNoScope
	}

	var count int
	err := scope.Conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM onboarding_turns WHERE session_id = $1`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return count, nil
}

func (r *turnRepository) query(ctx context.Context, scope *database.UserScope, query string, args ...any) ([]*models.Turn, error) {
	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	turns := make([]*models.Turn, 0)
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Seq, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	return turns, nil
}
