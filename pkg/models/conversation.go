package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Session Status
// ============================================================================

// SessionStatus is the lifecycle status of a conversation session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusAbandoned SessionStatus = "ABANDONED"
)

// ============================================================================
// Chat Roles
// ============================================================================

// ChatRole tags a transcript turn.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// IsValidChatRole checks if the given role is valid for a stored turn.
func IsValidChatRole(r ChatRole) bool {
	return r == ChatRoleUser || r == ChatRoleAssistant
}

// ============================================================================
// Session and Turns
// ============================================================================

// ConversationSession owns one profile and an append-only transcript.
type ConversationSession struct {
	ID          uuid.UUID     `json:"id"`
	UserID      uuid.UUID     `json:"user_id"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// IsCompleted reports whether the session reached its terminal state.
func (s *ConversationSession) IsCompleted() bool {
	return s.Status == SessionStatusCompleted
}

// IsAbandoned reports whether a newer session has replaced this one.
func (s *ConversationSession) IsAbandoned() bool {
	return s.Status == SessionStatusAbandoned
}

// Turn is one transcript entry. Seq orders turns within a session.
type Turn struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Seq       int       `json:"seq"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ============================================================================
// Conversation phase and progress
// ============================================================================

// ConversationPhase is derived from stored data on every turn; it is never persisted.
type ConversationPhase string

const (
	PhaseAwaitingFirstTurn  ConversationPhase = "awaiting_first_turn"
	PhaseCollectingFields   ConversationPhase = "collecting_fields"
	PhaseCollectingProducts ConversationPhase = "collecting_products"
	PhaseCompleted          ConversationPhase = "completed"
)

// Progress summarises how much of a profile has been collected.
type Progress struct {
	CompanyInfoComplete bool              `json:"company_info_complete"`
	FieldsCompleted     int               `json:"fields_completed"`
	TotalFields         int               `json:"total_fields"`
	ProductsCount       int               `json:"products_count"`
	NextField           FieldKey          `json:"next_field,omitempty"`
	Phase               ConversationPhase `json:"phase"`
}

// TurnResult is the outcome of processing one inbound message.
type TurnResult struct {
	SessionID    uuid.UUID `json:"session_id"`
	ResponseText string    `json:"response"`
	Completed    bool      `json:"completed"`
	Progress     Progress  `json:"progress"`
}
