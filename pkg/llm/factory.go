package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// Provider identifiers accepted by the factory.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewExtractionClient creates the structured-extraction client for the
// configured provider. "openai" covers any OpenAI-compatible endpoint.
func NewExtractionClient(provider string, cfg *Config, logger *zap.Logger) (ExtractionClient, error) {
	switch provider {
	case ProviderOpenAI:
		return NewClient(cfg, logger)
	case ProviderAnthropic:
		return NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown AI provider %q", provider)
	}
}

// NewEmbeddingClient creates the embedding client. Embeddings always go
// through an OpenAI-compatible endpoint regardless of the extraction
// provider, since Anthropic exposes no embedding API.
func NewEmbeddingClient(cfg *Config, logger *zap.Logger) (EmbeddingClient, error) {
	return NewClient(cfg, logger)
}
