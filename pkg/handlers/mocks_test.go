package handlers

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-onboard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-onboard/pkg/auth"
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
	"github.com/ekaya-inc/ekaya-onboard/pkg/services"
)

// mockChatbotService records the last call and returns canned results.
type mockChatbotService struct {
	result   *models.TurnResult
	progress *models.Progress
	err      error

	lastUserID    uuid.UUID
	lastSessionID *uuid.UUID
	lastMessage   string
	lastUpload    *services.FileUpload
}

func (m *mockChatbotService) ProcessTurn(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID, message string) (*models.TurnResult, error) {
	m.lastUserID, m.lastSessionID, m.lastMessage = userID, sessionID, message
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockChatbotService) ProcessFile(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID, upload *services.FileUpload) (*models.TurnResult, error) {
	m.lastUserID, m.lastSessionID, m.lastUpload = userID, sessionID, upload
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockChatbotService) GetProgress(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID) (*models.Progress, error) {
	m.lastUserID, m.lastSessionID = userID, sessionID
	if m.err != nil {
		return nil, m.err
	}
	return m.progress, nil
}

// mockSessionService serves sessions from in-memory fields.
type mockSessionService struct {
	session  *models.ConversationSession
	profile  *models.Profile
	sessions []*models.ConversationSession
	turns    []*models.Turn
	err      error

	lastUserID uuid.UUID
}

func (m *mockSessionService) StartNewSession(ctx context.Context, userID uuid.UUID) (*models.ConversationSession, *models.Profile, error) {
	m.lastUserID = userID
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.session, m.profile, nil
}

func (m *mockSessionService) ResolveSession(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID) (*models.ConversationSession, *models.Profile, error) {
	return m.StartNewSession(ctx, userID)
}

func (m *mockSessionService) GetSession(ctx context.Context, userID, sessionID uuid.UUID) (*models.ConversationSession, error) {
	m.lastUserID = userID
	if m.err != nil {
		return nil, m.err
	}
	return m.session, nil
}

func (m *mockSessionService) ListSessions(ctx context.Context, userID uuid.UUID) ([]*models.ConversationSession, error) {
	m.lastUserID = userID
	if m.err != nil {
		return nil, m.err
	}
	return m.sessions, nil
}

func (m *mockSessionService) GetHistory(ctx context.Context, userID, sessionID uuid.UUID) ([]*models.Turn, error) {
	m.lastUserID = userID
	if m.err != nil {
		return nil, m.err
	}
	return m.turns, nil
}

func (m *mockSessionService) GetCurrentProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	m.lastUserID = userID
	if m.err != nil {
		return nil, m.err
	}
	if m.profile == nil {
		return nil, apperrors.ErrNotFound
	}
	return m.profile, nil
}

func (m *mockSessionService) GetProfile(ctx context.Context, userID, sessionID uuid.UUID) (*models.Profile, error) {
	return m.GetCurrentProfile(ctx, userID)
}

// mockExportService returns a fixed document.
type mockExportService struct {
	doc        *services.ExportDocument
	err        error
	lastFormat services.ExportFormat
}

func (m *mockExportService) ExportCurrent(ctx context.Context, userID uuid.UUID, format services.ExportFormat) (*services.ExportDocument, error) {
	m.lastFormat = format
	if m.err != nil {
		return nil, m.err
	}
	return m.doc, nil
}

// mockAuthService is a mock AuthService for route-level tests.
type mockAuthService struct {
	claims *auth.Claims
	token  string
	err    error
}

func (m *mockAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	if m.err != nil {
		return nil, "", m.err
	}
	return m.claims, m.token, nil
}

func (m *mockAuthService) RequireUserID(claims *auth.Claims) (uuid.UUID, error) {
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, auth.ErrInvalidUserID
	}
	return id, nil
}

// withUser returns a request carrying claims for userID, as the auth
// middleware would leave it.
func withUser(r *http.Request, userID uuid.UUID) *http.Request {
	claims := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()}}
	return r.WithContext(auth.WithClaims(r.Context(), claims))
}

var (
	_ services.ChatbotService = (*mockChatbotService)(nil)
	_ services.SessionService = (*mockSessionService)(nil)
	_ services.ExportService  = (*mockExportService)(nil)
	_ auth.AuthService        = (*mockAuthService)(nil)
)
