package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-onboard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-onboard/pkg/config"
	"github.com/ekaya-inc/ekaya-onboard/pkg/llm"
	"github.com/ekaya-inc/ekaya-onboard/pkg/logging"
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
	"github.com/ekaya-inc/ekaya-onboard/pkg/prompts"
	"github.com/ekaya-inc/ekaya-onboard/pkg/retry"
)

// OracleInput is everything one oracle extraction sees.
type OracleInput struct {
	SessionID     uuid.UUID
	Profile       *models.Profile
	ProductsCount int
	// History holds earlier turns, oldest first. Only the trailing window
	// is sent.
	History []*models.Turn
	Message string
}

// OracleResult is the oracle's commentary plus the typed actions to apply.
type OracleResult struct {
	Text    string
	Actions []models.OracleAction
	Model   string
}

// OracleExtractor runs multi-field extraction through the function-calling
// oracle. Any error means nothing may be applied for the turn.
type OracleExtractor interface {
	Extract(ctx context.Context, in *OracleInput) (*OracleResult, error)
}

type oracleExtractor struct {
	caller        llm.ToolCaller
	breaker       *llm.CircuitBreaker
	retryConfig   *retry.Config
	timeout       time.Duration
	historyWindow int
	tools         []llm.ToolDefinition
	logger        *zap.Logger
}

// NewOracleExtractor creates an OracleExtractor. The caller is constructed by
// the process and injected; the extractor never builds its own client.
func NewOracleExtractor(
	caller llm.ToolCaller,
	breaker *llm.CircuitBreaker,
	cfg config.OracleConfig,
	historyWindow int,
	logger *zap.Logger,
) OracleExtractor {
	if breaker == nil {
		breaker = llm.NewCircuitBreaker(llm.CircuitBreakerConfig{
			Threshold:  cfg.CircuitThreshold,
			ResetAfter: cfg.CircuitResetAfter,
		})
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &oracleExtractor{
		caller:  caller,
		breaker: breaker,
		retryConfig: &retry.Config{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		timeout:       timeout,
		historyWindow: historyWindow,
		tools:         llm.CompanyProfileTools(),
		logger:        logger.Named("oracle-extractor"),
	}
}

var _ OracleExtractor = (*oracleExtractor)(nil)

func (e *oracleExtractor) Extract(ctx context.Context, in *OracleInput) (*OracleResult, error) {
	allowed, err := e.breaker.Allow()
	if !allowed {
		e.logger.Warn("Circuit breaker prevented oracle call",
			zap.String("session_id", in.SessionID.String()),
			zap.String("circuit_state", e.breaker.State().String()),
			zap.Int("consecutive_failures", e.breaker.ConsecutiveFailures()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", apperrors.ErrOracleUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx = llm.WithSessionID(ctx, in.SessionID)

	req := e.buildRequest(in)
	start := time.Now()

	resp, err := retry.DoIfRetryableWithResult(ctx, e.retryConfig, func() (*llm.ToolResponse, error) {
		resp, callErr := e.caller.CallTools(ctx, req)
		if callErr != nil {
			classified := llm.ClassifyError(callErr)
			e.logger.Warn("Oracle call failed",
				zap.String("session_id", in.SessionID.String()),
				zap.String("error_type", string(classified.Type)),
				zap.Bool("retryable", classified.Retryable),
				zap.String("error", logging.SanitizeError(callErr)))
			return nil, classified
		}
		return resp, nil
	})
	if err != nil {
		e.breaker.RecordFailure()
		e.logger.Error("Oracle extraction failed",
			zap.String("session_id", in.SessionID.String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("circuit_state", e.breaker.State().String()),
			zap.Int("consecutive_failures", e.breaker.ConsecutiveFailures()),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("%w: %w", apperrors.ErrOracleUnavailable, err)
	}
	e.breaker.RecordSuccess()

	actions, err := DecodeToolCalls(resp.ToolCalls, e.logger)
	if err != nil {
		e.logger.Warn("Rejected oracle tool calls",
			zap.String("session_id", in.SessionID.String()),
			zap.Int("tool_calls", len(resp.ToolCalls)),
			zap.Error(err))
		return nil, err
	}

	e.logger.Debug("Oracle extraction completed",
		zap.String("session_id", in.SessionID.String()),
		zap.String("model", resp.Model),
		zap.Int("actions", len(actions)),
		zap.Duration("elapsed", time.Since(start)))

	return &OracleResult{Text: resp.Text, Actions: actions, Model: resp.Model}, nil
}

// buildRequest assembles the system instruction with the known-field
// summary, the trailing history window and the new message.
func (e *oracleExtractor) buildRequest(in *OracleInput) *llm.ToolRequest {
	history := in.History
	if e.historyWindow > 0 && len(history) > e.historyWindow {
		history = history[len(history)-e.historyWindow:]
	}

	messages := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == models.ChatRoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: in.Message})

	return &llm.ToolRequest{
		SystemPrompt: prompts.BuildCompanyProfilePrompt(profileContext(in.Profile, in.ProductsCount)),
		Messages:     messages,
		Tools:        e.tools,
	}
}
