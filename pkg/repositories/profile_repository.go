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

// ProfileRepository provides data access for company profiles.
// Products are loaded separately through ProductRepository.
type ProfileRepository interface {
	Create(ctx context.Context, profile *models.Profile) error
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*models.Profile, error)
	// GetBySessionForUpdate locks the profile row until the surrounding transaction ends.
	GetBySessionForUpdate(ctx context.Context, sessionID uuid.UUID) (*models.Profile, error)
	GetCurrent(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	CountCurrent(ctx context.Context, userID uuid.UUID) (int, error)
	// ClearCurrent unsets is_current on every profile of the user.
	ClearCurrent(ctx context.Context, userID uuid.UUID) (int64, error)
	// UpdateFields writes the scalar fields of profile as they are.
	UpdateFields(ctx context.Context, profile *models.Profile) error
}

type profileRepository struct{}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository() ProfileRepository {
	return &profileRepository{}
}

var _ ProfileRepository = (*profileRepository)(nil)

const profileColumns = `id, user_id, session_id, industry, capital_amount,
		invention_patent_count, utility_patent_count, certification_count,
		esg_certification_count, esg_certification, is_current, created_at, updated_at`

func (r *profileRepository) Create(ctx context.Context, profile *models.Profile) error {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	now := time.Now()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	query := `
		INSERT INTO onboarding_profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := scope.Conn.Exec(ctx, query,
		profile.ID, profile.UserID, profile.SessionID,
		profile.Industry, profile.CapitalAmount,
		profile.InventionPatentCount, profile.UtilityPatentCount, profile.CertificationCount,
		profile.ESGCertificationCount, profile.ESGCertifications,
		profile.IsCurrent, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	return nil
}

func (r *profileRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*models.Profile, error) {
	return r.getOne(ctx, `WHERE session_id = $1`, sessionID)
}

func (r *profileRepository) GetBySessionForUpdate(ctx context.Context, sessionID uuid.UUID) (*models.Profile, error) {
	return r.getOne(ctx, `WHERE session_id = $1 FOR UPDATE`, sessionID)
}

func (r *profileRepository) GetCurrent(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	return r.getOne(ctx, `WHERE user_id = $1 AND is_current`, userID)
}

func (r *profileRepository) getOne(ctx context.Context, where string, arg any) (*models.Profile, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `SELECT ` + profileColumns + ` FROM onboarding_profiles ` + where

	p, err := scanProfile(scope.Conn.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

func (r *profileRepository) CountCurrent(ctx context.Context, userID uuid.UUID) (int, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return 0, database.ErrNoScope
	}

	var count int
	err := scope.Conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM onboarding_profiles WHERE user_id = $1 AND is_current`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count current profiles: %w", err)
	}
	return count, nil
}

func (r *profileRepository) ClearCurrent(ctx context.Context, userID uuid.UUID) (int64, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return 0, database.ErrNoScope
	}

	tag, err := scope.Conn.Exec(ctx,
		`UPDATE onboarding_profiles SET is_current = false WHERE user_id = $1 AND is_current`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear current profile: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *profileRepository) UpdateFields(ctx context.Context, profile *models.Profile) error {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	query := `
		UPDATE onboarding_profiles
		SET industry = $2,
		    capital_amount = $3,
		    invention_patent_count = $4,
		    utility_patent_count = $5,
		    certification_count = $6,
		    esg_certification_count = $7,
		    esg_certification = $8
		WHERE id = $1
		RETURNING updated_at`

	err := scope.Conn.QueryRow(ctx, query,
		profile.ID,
		profile.Industry, profile.CapitalAmount,
		profile.InventionPatentCount, profile.UtilityPatentCount, profile.CertificationCount,
		profile.ESGCertificationCount, profile.ESGCertifications,
	).Scan(&profile.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update profile: %w", err)
	}

	return nil
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(
		&p.ID, &p.UserID, &p.SessionID,
		&p.Industry, &p.CapitalAmount,
		&p.InventionPatentCount, &p.UtilityPatentCount, &p.CertificationCount,
		&p.ESGCertificationCount, &p.ESGCertifications,
		&p.IsCurrent, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
