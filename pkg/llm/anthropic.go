package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicClient provides structured extraction through the Anthropic
// Messages API. Anthropic has no embedding endpoint, so this implements
// ExtractionClient only; embeddings always go through the OpenAI-compatible
// Client.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

// NewAnthropicClient creates an Anthropic-backed extraction client.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required for anthropic")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(cfg.APIKey,
			anthropic.WithHTTPClient(&http.Client{Timeout: cfg.httpTimeout()})),
		model:  cfg.Model,
		logger: logger.Named("llm-anthropic"),
	}, nil
}

var _ ExtractionClient = (*AnthropicClient)(nil)

// GenerateResponse generates a chat completion response.
func (c *AnthropicClient) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
) (string, error) {
	temp := float32(temperature)

	c.logger.Debug("extraction request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)))

	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      systemMessage,
		MaxTokens:   8192,
		Temperature: &temp,
		Messages: []anthropic.Message{
			anthropic.NewUserTextMessage(prompt),
		},
	})
	if err != nil {
		c.logger.Error("extraction request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", classifyAnthropicError(err)
	}

	if len(resp.Content) == 0 {
		return "", NewError(ErrorTypeSchema, "no content in response", false, nil)
	}

	c.logger.Info("extraction request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return resp.Content[0].GetText(), nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

// GetEndpoint returns the Anthropic API identifier.
func (c *AnthropicClient) GetEndpoint() string {
	return "https://api.anthropic.com"
}

// classifyAnthropicError maps Anthropic API errors onto the shared Error
// taxonomy. Overloaded and rate-limited responses are retryable.
func classifyAnthropicError(err error) *Error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsAuthenticationErr():
			return NewError(ErrorTypeAuth, "authentication failed", false, err)
		case apiErr.IsRateLimitErr(), apiErr.IsOverloadedErr():
			return NewError(ErrorTypeUnknown, "rate limited", true, err)
		case apiErr.IsApiErr():
			return NewError(ErrorTypeEndpoint, "server error", true, err)
		case apiErr.IsInvalidRequestErr():
			return NewError(ErrorTypeSchema, "invalid request", false, err)
		}
	}
	return ClassifyError(err)
}
