package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-onboard/pkg/logging"
)

// Config holds configuration for creating an oracle client.
type Config struct {
	Endpoint  string // Base URL, e.g., "https://api.openai.com/v1"
	Model     string // Model name, e.g., "gpt-4o-mini"
	APIKey    string // Optional for local OpenAI-compatible endpoints
	MaxTokens int    // Completion budget per call; 0 leaves the provider default
}

// Client calls OpenAI-compatible chat completion endpoints with tools.
type Client struct {
	client    *openai.Client
	endpoint  string
	model     string
	maxTokens int
	logger    *zap.Logger
}

var _ ToolCaller = (*Client)(nil)

// NewClient creates a new OpenAI-compatible oracle client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	clientConfig.HTTPClient = newHTTPClient()

	return &Client{
		client:    openai.NewClientWithConfig(clientConfig),
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("oracle"),
	}, nil
}

// CallTools performs one non-streaming chat completion with tools attached.
// Tool results are never fed back: the engine applies the calls itself.
func (c *Client) CallTools(ctx context.Context, req *ToolRequest) (*ToolResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	c.logger.Debug("Oracle request",
		zap.String("model", c.model),
		zap.Int("message_count", len(messages)),
		zap.Int("tool_count", len(req.Tools)))

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       buildOpenAITools(req.Tools),
		Temperature: 0.2,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		c.logger.Warn("Oracle request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, c.parseError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, NewErrorWithContext(ErrorTypeResponse, "no choices in response", false, nil, c.model, c.endpoint, 0)
	}

	msg := resp.Choices[0].Message
	out := &ToolResponse{Model: resp.Model}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: rawArguments(tc.Function.Arguments),
		})
	}

	content := msg.Content
	// Some self-hosted models emit tool calls as tagged text instead of
	// native tool_calls.
	if len(out.ToolCalls) == 0 && content != "" {
		if calls := parseTextToolCalls(content); len(calls) > 0 {
			out.ToolCalls = calls
			content = toolCallTagPattern.ReplaceAllString(content, "")
		}
	}
	out.Text = strings.TrimSpace(thinkTagPattern.ReplaceAllString(content, ""))

	c.logger.Info("Oracle request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Int("tool_calls", len(out.ToolCalls)),
		zap.Duration("elapsed", time.Since(start)))

	return out, nil
}

// GetModel returns the configured model name.
func (c *Client) GetModel() string {
	return c.model
}

// GetEndpoint returns the configured endpoint.
func (c *Client) GetEndpoint() string {
	return c.endpoint
}

// parseError classifies the SDK error and attaches model and endpoint.
func (c *Client) parseError(err error) error {
	classified := ClassifyError(err)
	return NewErrorWithContext(classified.Type, classified.Message, classified.Retryable,
		err, c.model, c.endpoint, classified.StatusCode)
}

// buildOpenAITools converts tool definitions to the OpenAI format.
func buildOpenAITools(tools []ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.Tool, len(tools))
	for i, def := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		}
	}
	return result
}

// rawArguments normalises an empty argument string to an empty object.
func rawArguments(args string) json.RawMessage {
	if strings.TrimSpace(args) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(args)
}

type textToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

var toolCallTagPattern = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)

// parseTextToolCalls reads <tool_call>{"name": ..., "arguments": {...}}</tool_call>
// blocks. Blocks that do not hold a named call are skipped.
func parseTextToolCalls(content string) []ToolCall {
	var calls []ToolCall
	for i, m := range toolCallTagPattern.FindAllStringSubmatch(content, -1) {
		call, err := decodeJSONObject[textToolCall](m[1])
		if err != nil || call.Name == "" {
			continue
		}
		args := call.Arguments
		// Arguments sometimes arrive as a JSON-encoded string.
		var encoded string
		if json.Unmarshal(args, &encoded) == nil {
			args = json.RawMessage(encoded)
		}
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		calls = append(calls, ToolCall{
			ID:        fmt.Sprintf("text_call_%d", i),
			Name:      call.Name,
			Arguments: args,
		})
	}
	return calls
}
