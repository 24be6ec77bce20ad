package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-onboard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-onboard/pkg/database"
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
	"github.com/ekaya-inc/ekaya-onboard/pkg/repositories"
)

// SessionService owns conversation sessions and the one-current-profile
// rule: every user has at most one profile with is_current set.
type SessionService interface {
	// StartNewSession supersedes the user's current profile with a fresh
	// session whose profile carries the previous values and products forward.
	StartNewSession(ctx context.Context, userID uuid.UUID) (*models.ConversationSession, *models.Profile, error)
	// ResolveSession returns the requested session, or with a nil id resumes
	// the current active session and otherwise starts a new one.
	ResolveSession(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID) (*models.ConversationSession, *models.Profile, error)
	GetSession(ctx context.Context, userID, sessionID uuid.UUID) (*models.ConversationSession, error)
	ListSessions(ctx context.Context, userID uuid.UUID) ([]*models.ConversationSession, error)
	GetHistory(ctx context.Context, userID, sessionID uuid.UUID) ([]*models.Turn, error)
	// GetCurrentProfile returns the current profile with its products.
	GetCurrentProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	// GetProfile returns the profile of a session the user owns, with products.
	GetProfile(ctx context.Context, userID, sessionID uuid.UUID) (*models.Profile, error)
}

type sessionService struct {
	sessionRepo repositories.SessionRepository
	profileRepo repositories.ProfileRepository
	productRepo repositories.ProductRepository
	turnRepo    repositories.TurnRepository
	tx          database.Transactor
	logger      *zap.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(
	sessionRepo repositories.SessionRepository,
	profileRepo repositories.ProfileRepository,
	productRepo repositories.ProductRepository,
	turnRepo repositories.TurnRepository,
	tx database.Transactor,
	logger *zap.Logger,
) SessionService {
	return &sessionService{
		sessionRepo: sessionRepo,
		profileRepo: profileRepo,
		productRepo: productRepo,
		turnRepo:    turnRepo,
		tx:          tx,
		logger:      logger.Named("sessions"),
	}
}

var _ SessionService = (*sessionService)(nil)

func (s *sessionService) StartNewSession(ctx context.Context, userID uuid.UUID) (*models.ConversationSession, *models.Profile, error) {
	var (
		session *models.ConversationSession
		profile *models.Profile
		copied  int64
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		previous, err := s.profileRepo.GetCurrent(ctx, userID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("failed to load current profile: %w", err)
		}

		if _, err := s.profileRepo.ClearCurrent(ctx, userID); err != nil {
			return err
		}

		session = &models.ConversationSession{UserID: userID, Status: models.SessionStatusActive}
		if err := s.sessionRepo.Create(ctx, session); err != nil {
			return err
		}

		profile = &models.Profile{UserID: userID, SessionID: session.ID, IsCurrent: true}
		if previous != nil {
			profile.CopyScalarsFrom(previous)
		}
		if err := s.profileRepo.Create(ctx, profile); err != nil {
			return err
		}

		if previous != nil {
			if copied, err = s.productRepo.CopyToProfile(ctx, previous.ID, profile.ID); err != nil {
				return err
			}
		}

		if _, err := s.sessionRepo.AbandonActive(ctx, userID, session.ID); err != nil {
			return err
		}

		count, err := s.profileRepo.CountCurrent(ctx, userID)
		if err != nil {
			return err
		}
		if count != 1 {
			return fmt.Errorf("%w: user %s has %d current profiles after session start",
				apperrors.ErrInvariantViolation, userID, count)
		}

		products, err := s.productRepo.ListByProfile(ctx, profile.ID)
		if err != nil {
			return err
		}
		profile.Products = products
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvariantViolation) {
			s.logger.Error("Current profile invariant violated",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
		return nil, nil, fmt.Errorf("failed to start session: %w", err)
	}

	s.logger.Info("Session started",
		zap.String("user_id", userID.String()),
		zap.String("session_id", session.ID.String()),
		zap.Int64("products_copied", copied))
	return session, profile, nil
}

func (s *sessionService) ResolveSession(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID) (*models.ConversationSession, *models.Profile, error) {
	if sessionID != nil {
		session, err := s.GetSession(ctx, userID, *sessionID)
		if err != nil {
			return nil, nil, err
		}
		profile, err := s.profileRepo.GetBySession(ctx, session.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load profile: %w", err)
		}
		return session, profile, nil
	}

	current, err := s.profileRepo.GetCurrent(ctx, userID)
	switch {
	case err == nil:
		session, err := s.sessionRepo.Get(ctx, current.SessionID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load session: %w", err)
		}
		if session.Status == models.SessionStatusActive {
			return session, current, nil
		}
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, nil, fmt.Errorf("failed to load current profile: %w", err)
	}

	return s.StartNewSession(ctx, userID)
}

func (s *sessionService) GetSession(ctx context.Context, userID, sessionID uuid.UUID) (*models.ConversationSession, error) {
	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// Another user's session is reported exactly like a missing one.
	if session.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return session, nil
}

func (s *sessionService) ListSessions(ctx context.Context, userID uuid.UUID) ([]*models.ConversationSession, error) {
	return s.sessionRepo.ListByUser(ctx, userID)
}

func (s *sessionService) GetHistory(ctx context.Context, userID, sessionID uuid.UUID) ([]*models.Turn, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.turnRepo.ListBySession(ctx, sessionID)
}

func (s *sessionService) GetCurrentProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	profile, err := s.profileRepo.GetCurrent(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.withProducts(ctx, profile)
}

func (s *sessionService) GetProfile(ctx context.Context, userID, sessionID uuid.UUID) (*models.Profile, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	profile, err := s.profileRepo.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.withProducts(ctx, profile)
}

func (s *sessionService) withProducts(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	products, err := s.productRepo.ListByProfile(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	profile.Products = products
	return profile, nil
}
