package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAnthropicClient(t *testing.T, status int, body string, captured *map[string]any) *AnthropicClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		if captured != nil {
			raw, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(raw, captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	client, err := NewAnthropicClient(&Config{
		Endpoint: server.URL + "/v1",
		Model:    "claude-test",
		APIKey:   "test-key",
	}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestAnthropicClient_CallTools_ToolUse(t *testing.T) {
	var captured map[string]any
	client := newTestAnthropicClient(t, http.StatusOK, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"stop_reason": "tool_use",
		"content": [
			{"type": "text", "text": "已為您記錄。"},
			{"type": "tool_use", "id": "toolu_1", "name": "update_company_data",
			 "input": {"industry": "電子業", "invention_patent_count": 10}}
		],
		"usage": {"input_tokens": 100, "output_tokens": 20}
	}`, &captured)

	resp, err := client.CallTools(context.Background(), &ToolRequest{
		SystemPrompt: "你是資料收集助理",
		Messages: []Message{
			{Role: RoleAssistant, Content: "您好"},
			{Role: RoleUser, Content: "電子業"},
			{Role: RoleUser, Content: "發明專利10件"},
		},
		Tools: CompanyProfileTools(),
	})
	require.NoError(t, err)

	assert.Equal(t, "已為您記錄。", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "update_company_data", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"industry":"電子業","invention_patent_count":10}`, string(resp.ToolCalls[0].Arguments))

	assert.Equal(t, "你是資料收集助理", captured["system"])
	msgs, ok := captured["messages"].([]any)
	require.True(t, ok)
	// Leading assistant greeting dropped, two user turns joined.
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])

	tools, ok := captured["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 3)
}

func TestAnthropicClient_CallTools_OverloadedIsRetryable(t *testing.T) {
	client := newTestAnthropicClient(t, 529,
		`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, nil)

	_, err := client.CallTools(context.Background(), &ToolRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "claude-test", ClassifyError(err).Model)
}

func TestAnthropicClient_CallTools_RequiresUserMessage(t *testing.T) {
	client := newTestAnthropicClient(t, http.StatusOK, `{}`, nil)

	_, err := client.CallTools(context.Background(), &ToolRequest{
		Messages: []Message{{Role: RoleAssistant, Content: "您好"}},
	})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeResponse, GetErrorType(err))
}

func TestAnthropicMessages_Alternation(t *testing.T) {
	msgs := anthropicMessages([]Message{
		{Role: RoleAssistant, Content: "greeting"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
		{Role: RoleAssistant, Content: "c"},
		{Role: RoleUser, Content: "d"},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	require.NotNil(t, msgs[1].Content[0].Text)
	assert.Equal(t, "b\n\nc", *msgs[1].Content[0].Text)
	assert.Equal(t, "user", string(msgs[2].Role))
}

func TestNewAnthropicClient_RequiresKey(t *testing.T) {
	_, err := NewAnthropicClient(&Config{Model: "claude-test"}, zap.NewNop())
	assert.Error(t, err)
}
