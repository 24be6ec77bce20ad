package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-onboard/pkg/logging"
)

// defaultAnthropicMaxTokens is used when no completion budget is configured;
// the Messages API requires one.
const defaultAnthropicMaxTokens = 1024

// AnthropicClient calls the Anthropic Messages API with tool use.
type AnthropicClient struct {
	client    *anthropic.Client
	endpoint  string
	model     string
	maxTokens int
	logger    *zap.Logger
}

var _ ToolCaller = (*AnthropicClient)(nil)

// NewAnthropicClient creates an Anthropic oracle client. Endpoint is optional
// and overrides the SDK's default base URL.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	opts := []anthropic.ClientOption{anthropic.WithHTTPClient(newHTTPClient())}
	if cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(cfg.Endpoint, "/")))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(cfg.APIKey, opts...),
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		maxTokens: maxTokens,
		logger:    logger.Named("oracle"),
	}, nil
}

// CallTools sends one Messages API request with tools attached.
func (c *AnthropicClient) CallTools(ctx context.Context, req *ToolRequest) (*ToolResponse, error) {
	messages := anthropicMessages(req.Messages)
	if len(messages) == 0 {
		return nil, NewError(ErrorTypeResponse, "no user message to send", false, nil)
	}

	tools := make([]anthropic.ToolDefinition, len(req.Tools))
	for i, def := range req.Tools {
		tools[i] = anthropic.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Parameters,
		}
	}

	c.logger.Debug("Oracle request",
		zap.String("model", c.model),
		zap.Int("message_count", len(messages)),
		zap.Int("tool_count", len(tools)))

	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		System:    req.SystemPrompt,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		c.logger.Warn("Oracle request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		classified := ClassifyError(err)
		return nil, NewErrorWithContext(classified.Type, classified.Message, classified.Retryable,
			err, c.model, c.endpoint, classified.StatusCode)
	}

	out := &ToolResponse{Model: string(resp.Model)}
	var text []string
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				text = append(text, *block.Text)
			}
		case anthropic.MessagesContentTypeToolUse:
			if block.MessageContentToolUse == nil {
				continue
			}
			args := block.MessageContentToolUse.Input
			if len(args) == 0 {
				args = rawArguments("")
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.MessageContentToolUse.ID,
				Name:      block.MessageContentToolUse.Name,
				Arguments: args,
			})
		}
	}
	out.Text = strings.TrimSpace(strings.Join(text, "\n"))

	c.logger.Info("Oracle request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Int("tool_calls", len(out.ToolCalls)),
		zap.Duration("elapsed", time.Since(start)))

	return out, nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

// anthropicMessages adapts a transcript to the Messages API, which requires
// the first message to come from the user and roles to alternate. Leading
// assistant turns are dropped and consecutive same-role turns are joined.
func anthropicMessages(in []Message) []anthropic.Message {
	var out []anthropic.Message
	var role anthropic.ChatRole
	var parts []string

	flush := func() {
		if len(parts) == 0 {
			return
		}
		text := strings.Join(parts, "\n\n")
		out = append(out, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{{Type: anthropic.MessagesContentTypeText, Text: &text}},
		})
		parts = nil
	}

	for _, m := range in {
		r := anthropic.RoleUser
		if m.Role == RoleAssistant {
			r = anthropic.RoleAssistant
		}
		if len(out) == 0 && len(parts) == 0 && r == anthropic.RoleAssistant {
			continue
		}
		if len(parts) > 0 && r != role {
			flush()
		}
		role = r
		parts = append(parts, m.Content)
	}
	flush()
	return out
}
