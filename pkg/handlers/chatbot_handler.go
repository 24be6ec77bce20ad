package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-onboard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-onboard/pkg/auth"
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
	"github.com/ekaya-inc/ekaya-onboard/pkg/services"
)

// multipartOverhead is allowed on top of the file limit for form boundaries
// and the session_id field.
const multipartOverhead = 1 << 20

// UserMiddleware wraps authenticated handlers with per-user request setup.
type UserMiddleware func(http.HandlerFunc) http.HandlerFunc

// ============================================================================
// Request/Response Types
// ============================================================================

// SendMessageRequest for POST /api/chatbot/message
type SendMessageRequest struct {
	SessionID *string `json:"session_id,omitempty"`
	Message   string  `json:"message"`
}

// StartSessionResponse for POST /api/chatbot/sessions
type StartSessionResponse struct {
	Session *models.ConversationSession `json:"session"`
	Profile *models.Profile             `json:"profile"`
	Message string                      `json:"message"`
}

// SessionListResponse for GET /api/chatbot/sessions
type SessionListResponse struct {
	Sessions []*models.ConversationSession `json:"sessions"`
	Total    int                           `json:"total"`
}

// MessageListResponse for GET /api/chatbot/sessions/{sid}/messages
type MessageListResponse struct {
	SessionID uuid.UUID      `json:"session_id"`
	Messages  []*models.Turn `json:"messages"`
}

// ============================================================================
// Handler
// ============================================================================

// ChatbotHandler serves the onboarding conversation API.
type ChatbotHandler struct {
	chatbotService services.ChatbotService
	sessionService services.SessionService
	exportService  services.ExportService
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewChatbotHandler creates a new chatbot handler.
func NewChatbotHandler(
	chatbotService services.ChatbotService,
	sessionService services.SessionService,
	exportService services.ExportService,
	maxUploadBytes int64,
	logger *zap.Logger,
) *ChatbotHandler {
	return &ChatbotHandler{
		chatbotService: chatbotService,
		sessionService: sessionService,
		exportService:  exportService,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes registers the chatbot handler's routes on the given mux.
func (h *ChatbotHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, userMiddleware UserMiddleware) {
	base := "/api/chatbot"

	mux.HandleFunc("POST "+base+"/sessions", authMiddleware.RequireAuth(userMiddleware(h.StartSession)))
	mux.HandleFunc("GET "+base+"/sessions", authMiddleware.RequireAuth(userMiddleware(h.ListSessions)))
	mux.HandleFunc("GET "+base+"/sessions/{sid}/messages", authMiddleware.RequireAuth(userMiddleware(h.ListMessages)))
	mux.HandleFunc("POST "+base+"/message", authMiddleware.RequireAuth(userMiddleware(h.SendMessage)))
	mux.HandleFunc("POST "+base+"/upload", authMiddleware.RequireAuth(userMiddleware(h.Upload)))
	mux.HandleFunc("GET "+base+"/progress", authMiddleware.RequireAuth(userMiddleware(h.Progress)))
	mux.HandleFunc("GET "+base+"/profile", authMiddleware.RequireAuth(userMiddleware(h.Profile)))
	mux.HandleFunc("GET "+base+"/export", authMiddleware.RequireAuth(userMiddleware(h.Export)))
}

// StartSession handles POST /api/chatbot/sessions
func (h *ChatbotHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	session, profile, err := h.sessionService.StartNewSession(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "start_session_failed", zap.String("user_id", userID.String()))
		return
	}

	response := StartSessionResponse{
		Session: session,
		Profile: profile,
		Message: services.WelcomeMessage(),
	}
	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListSessions handles GET /api/chatbot/sessions
func (h *ChatbotHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	sessions, err := h.sessionService.ListSessions(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "list_sessions_failed", zap.String("user_id", userID.String()))
		return
	}
	if sessions == nil {
		sessions = []*models.ConversationSession{}
	}

	response := SessionListResponse{Sessions: sessions, Total: len(sessions)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListMessages handles GET /api/chatbot/sessions/{sid}/messages
func (h *ChatbotHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := ParseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	turns, err := h.sessionService.GetHistory(r.Context(), userID, sessionID)
	if err != nil {
		h.writeServiceError(w, err, "list_messages_failed", zap.String("session_id", sessionID.String()))
		return
	}
	if turns == nil {
		turns = []*models.Turn{}
	}

	response := MessageListResponse{SessionID: sessionID, Messages: turns}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// SendMessage handles POST /api/chatbot/message
func (h *ChatbotHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeError(w, http.StatusBadRequest, "message_required", "message is required")
		return
	}

	var raw string
	if req.SessionID != nil {
		raw = *req.SessionID
	}
	sessionID, ok := h.optionalSessionID(w, raw)
	if !ok {
		return
	}

	result, err := h.chatbotService.ProcessTurn(r.Context(), userID, sessionID, req.Message)
	if err != nil {
		h.writeServiceError(w, err, "process_message_failed", zap.String("user_id", userID.String()))
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Upload handles POST /api/chatbot/upload
func (h *ChatbotHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUploadBytes + multipartOverhead); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", apperrors.ErrFileTooLarge.Error())
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file_required", "file is required")
		return
	}
	defer file.Close()

	sessionID, ok := h.optionalSessionID(w, r.FormValue("session_id"))
	if !ok {
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read uploaded file", zap.String("filename", header.Filename), zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "invalid_file", "Failed to read uploaded file")
		return
	}

	upload := &services.FileUpload{
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
	}
	result, err := h.chatbotService.ProcessFile(r.Context(), userID, sessionID, upload)
	if err != nil {
		h.writeServiceError(w, err, "process_file_failed",
			zap.String("user_id", userID.String()),
			zap.String("filename", header.Filename))
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Progress handles GET /api/chatbot/progress
func (h *ChatbotHandler) Progress(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := h.optionalSessionID(w, r.URL.Query().Get("session_id"))
	if !ok {
		return
	}

	progress, err := h.chatbotService.GetProgress(r.Context(), userID, sessionID)
	if err != nil {
		h.writeServiceError(w, err, "get_progress_failed", zap.String("user_id", userID.String()))
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: progress}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Profile handles GET /api/chatbot/profile
func (h *ChatbotHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	profile, err := h.sessionService.GetCurrentProfile(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "get_profile_failed", zap.String("user_id", userID.String()))
		return
	}
	if profile.Products == nil {
		profile.Products = []*models.Product{}
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: profile}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Export handles GET /api/chatbot/export
func (h *ChatbotHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	format, err := services.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeServiceError(w, err, "export_failed")
		return
	}

	doc, err := h.exportService.ExportCurrent(r.Context(), userID, format)
	if err != nil {
		h.writeServiceError(w, err, "export_failed",
			zap.String("user_id", userID.String()),
			zap.String("format", string(format)))
		return
	}

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc.Body); err != nil {
		h.logger.Error("Failed to write export", zap.Error(err))
	}
}

// ============================================================================
// Helpers
// ============================================================================

func (h *ChatbotHandler) requireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := auth.GetUserUUIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return uuid.Nil, false
	}
	return userID, true
}

// optionalSessionID parses an optional session id; empty means "current".
func (h *ChatbotHandler) optionalSessionID(w http.ResponseWriter, raw string) (*uuid.UUID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_session_id", "Invalid session ID format")
		return nil, false
	}
	return &id, true
}

func (h *ChatbotHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

// writeServiceError maps domain errors to HTTP statuses. Unmapped errors are
// logged and reported as 500 with the fallback code.
func (h *ChatbotHandler) writeServiceError(w http.ResponseWriter, err error, fallbackCode string, fields ...zap.Field) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrSessionCompleted):
		h.writeError(w, http.StatusConflict, "session_completed", err.Error())
	case errors.Is(err, apperrors.ErrSessionAbandoned):
		h.writeError(w, http.StatusConflict, "session_abandoned", err.Error())
	case errors.Is(err, apperrors.ErrFileTooLarge):
		h.writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", err.Error())
	case errors.Is(err, apperrors.ErrUnsupportedFileType):
		h.writeError(w, http.StatusBadRequest, "unsupported_file_type", err.Error())
	case errors.Is(err, apperrors.ErrNoTextExtracted):
		h.writeError(w, http.StatusBadRequest, "no_text_extracted", err.Error())
	case errors.Is(err, apperrors.ErrUnsupportedExportFormat):
		h.writeError(w, http.StatusBadRequest, "unsupported_format", err.Error())
	case errors.Is(err, apperrors.ErrProductNameRequired):
		h.writeError(w, http.StatusBadRequest, "product_name_required", err.Error())
	default:
		h.logger.Error("Chatbot request failed", append(fields, zap.Error(err))...)
		h.writeError(w, http.StatusInternalServerError, fallbackCode, "Internal server error")
	}
}
