// Package llm provides the function-calling oracle used to extract company
// profile data from free-form conversation: OpenAI-compatible and Anthropic
// clients, error classification, a circuit breaker and request rate limiting.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles in an oracle transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one transcript entry sent to the oracle.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall is one tool invocation returned by the oracle. Arguments is the
// raw JSON object the model produced; callers validate it.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolRequest is a single function-calling round trip.
type ToolRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
}

// ToolResponse carries the model's free-text commentary (possibly empty) and
// its tool invocations in the order the model emitted them.
type ToolResponse struct {
	Text      string
	ToolCalls []ToolCall
	Model     string
}

// ToolCaller is a function-calling oracle. Implementations return *Error for
// provider failures so callers can decide on retry.
type ToolCaller interface {
	CallTools(ctx context.Context, req *ToolRequest) (*ToolResponse, error)
	GetModel() string
}
