package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// MockToolCaller is a configurable ToolCaller for tests.
// Set CallToolsFunc to control behavior.
type MockToolCaller struct {
	// CallToolsFunc is called when CallTools is invoked.
	// If nil, returns an empty response and nil error.
	CallToolsFunc func(ctx context.Context, req *ToolRequest) (*ToolResponse, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	mu       sync.Mutex
	calls    int
	requests []*ToolRequest
}

var _ ToolCaller = (*MockToolCaller)(nil)

// NewMockToolCaller creates a new mock with sensible defaults.
func NewMockToolCaller() *MockToolCaller {
	return &MockToolCaller{Model: "mock-model"}
}

// CallTools implements ToolCaller.
func (m *MockToolCaller) CallTools(ctx context.Context, req *ToolRequest) (*ToolResponse, error) {
	m.mu.Lock()
	m.calls++
	m.requests = append(m.requests, req)
	fn := m.CallToolsFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &ToolResponse{Model: m.Model}, nil
}

// GetModel implements ToolCaller.
func (m *MockToolCaller) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// Calls returns how many times CallTools was invoked.
func (m *MockToolCaller) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastRequest returns the most recent request, or nil.
func (m *MockToolCaller) LastRequest() *ToolRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// NewMockToolCall builds a ToolCall whose arguments are args marshalled to JSON.
func NewMockToolCall(name string, args any) ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return ToolCall{ID: "call_" + name, Name: name, Arguments: raw}
}

// RespondWith returns a CallToolsFunc that always answers text and calls.
func RespondWith(text string, calls ...ToolCall) func(context.Context, *ToolRequest) (*ToolResponse, error) {
	return func(context.Context, *ToolRequest) (*ToolResponse, error) {
		return &ToolResponse{Text: text, ToolCalls: calls, Model: "mock-model"}, nil
	}
}
