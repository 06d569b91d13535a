package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fabrica-inc/ingest-engine/pkg/apperrors"
)

// supportedMimeTypes lists what the parsing service accepts. Anything else
// fails immediately without retry.
var supportedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/tiff":      true,
	"text/plain":      true,
}

// Client calls a remote OCR/parsing service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Config holds settings for the OCR client.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// NewClient creates a new OCR client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("ocr"),
	}, nil
}

var _ Parser = (*Client)(nil)

// Parse sends the document bytes to the parsing service and decodes the
// page-scoped response.
func (c *Client) Parse(ctx context.Context, content io.Reader, mimeType string) (*ParseResult, error) {
	if !supportedMimeTypes[mimeType] {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedMime, mimeType)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/parse", content)
	if err != nil {
		return nil, fmt.Errorf("build parse request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("parse request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("parse request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("parse request returned %d: %s", resp.StatusCode, string(body))
	}

	var result ParseResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode parse response: %w", err)
	}

	if len(result.Pages) == 0 {
		return nil, fmt.Errorf("parse response contained no pages")
	}

	c.logger.Info("document parsed",
		zap.Int("pages", len(result.Pages)),
		zap.Duration("elapsed", time.Since(start)))

	return &result, nil
}
