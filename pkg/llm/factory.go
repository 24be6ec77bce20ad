package llm

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-onboard/pkg/config"
)

// ErrOracleDisabled is returned when no oracle provider is configured.
var ErrOracleDisabled = errors.New("oracle provider not configured")

// NewToolCaller builds the configured provider client wrapped in the
// request rate limiter.
func NewToolCaller(cfg config.OracleConfig, logger *zap.Logger) (ToolCaller, error) {
	clientCfg := &Config{
		Endpoint:  cfg.BaseURL,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
	}

	var (
		caller ToolCaller
		err    error
	)
	switch cfg.Provider {
	case "":
		return nil, ErrOracleDisabled
	case config.ProviderOpenAI:
		caller, err = NewClient(clientCfg, logger)
	case config.ProviderAnthropic:
		caller, err = NewAnthropicClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s oracle client: %w", cfg.Provider, err)
	}

	burst := int(math.Ceil(cfg.RequestsPerSecond))
	logger.Info("Oracle configured",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Float64("requests_per_second", cfg.RequestsPerSecond))

	return NewRateLimitedCaller(caller, cfg.RequestsPerSecond, burst), nil
}
