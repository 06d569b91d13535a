// Package llm wraps the external AI capabilities the pipeline consumes:
// structured extraction (chat completion) and chunk embeddings. Both are
// opaque remote calls; the pipeline never embeds judgment about their output
// beyond schema validation.
package llm

import (
	"context"
)

// ExtractionClient is the structured-extraction capability. Implementations
// exist for OpenAI-compatible endpoints and for Anthropic; tests use the
// mock. The response is raw model text - callers parse it with
// ParseJSONResponse.
type ExtractionClient interface {
	// GenerateResponse generates a chat completion response.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// EmbeddingClient computes fixed-dimension embedding vectors for chunk text.
type EmbeddingClient interface {
	// CreateEmbeddings generates embeddings for multiple inputs in order.
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)
}
