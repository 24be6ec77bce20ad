package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-onboard/pkg/config"
	"github.com/ekaya-inc/ekaya-onboard/pkg/logging"
	"github.com/ekaya-inc/ekaya-onboard/pkg/prompts"
)

// ErrVisionUnavailable is returned when the configured provider cannot read
// images.
var ErrVisionUnavailable = errors.New("image reading needs an openai oracle provider")

// ImageReader transcribes uploaded images with an OpenAI-compatible vision
// model. It satisfies extract.ImageReader.
type ImageReader struct {
	client  *Client
	timeout time.Duration
}

// NewImageReader builds an ImageReader from the oracle configuration. Only
// the openai provider is supported.
func NewImageReader(cfg config.OracleConfig, logger *zap.Logger) (*ImageReader, error) {
	if cfg.Provider != config.ProviderOpenAI {
		return nil, ErrVisionUnavailable
	}
	client, err := NewClient(&Config{
		Endpoint:  cfg.BaseURL,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
	}, logger.Named("vision"))
	if err != nil {
		return nil, fmt.Errorf("create vision client: %w", err)
	}
	return &ImageReader{client: client, timeout: cfg.Timeout}, nil
}

// ReadImage sends the image inline as a data URL and returns the model's
// transcription.
func (r *ImageReader) ReadImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.client.readImage(ctx, data, mimeType)
}

func (c *Client) readImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)

	c.logger.Debug("Vision request",
		zap.String("model", c.model),
		zap.String("mime_type", mimeType),
		zap.Int("size", len(data)))

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompts.ImageTranscriptionPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		c.logger.Warn("Vision request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		return "", c.parseError(err)
	}
	if len(resp.Choices) == 0 {
		return "", NewErrorWithContext(ErrorTypeResponse, "no choices in response", false, nil, c.model, c.endpoint, 0)
	}

	c.logger.Info("Vision request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
