package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ingest-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values. Secrets (passwords, API
// keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// ContentStore holds file storage settings.
	ContentStore ContentStoreConfig `yaml:"content_store"`

	// OCR holds the parsing capability endpoint settings.
	OCR OCRConfig `yaml:"ocr"`

	// AI holds the structured-extraction and embedding endpoint settings.
	AI AIConfig `yaml:"ai"`

	// Pipeline holds tunables for the ingestion pipeline.
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ingest"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ingest_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// ContentStoreConfig holds content-addressed file storage settings.
type ContentStoreConfig struct {
	Root string `yaml:"root" env:"CONTENT_STORE_ROOT" env-default:"./data/blobs"`
}

// OCRConfig holds settings for the external OCR/parsing capability.
type OCRConfig struct {
	BaseURL        string        `yaml:"base_url" env:"OCR_BASE_URL" env-default:"http://localhost:8900"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"OCR_REQUEST_TIMEOUT" env-default:"90s"`
}

// AIConfig holds settings for the structured-extraction and embedding
// capabilities. Provider selects the backend: "openai" covers any
// OpenAI-compatible endpoint (vLLM, Ollama, OpenAI itself), "anthropic"
// uses the Anthropic Messages API.
type AIConfig struct {
	Provider       string        `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"`
	BaseURL        string        `yaml:"base_url" env:"AI_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model          string        `yaml:"model" env:"AI_MODEL" env-default:"gpt-4o-mini"`
	APIKey         string        `yaml:"-" env:"AI_API_KEY"` // Secret - not in YAML
	EmbeddingModel string        `yaml:"embedding_model" env:"AI_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"AI_REQUEST_TIMEOUT" env-default:"120s"`
}

// PipelineConfig holds the ingestion pipeline tunables. Thresholds and
// backoff parameters are deliberately configuration, not constants.
type PipelineConfig struct {
	// Workers is the size of the bounded worker pool consuming document jobs.
	Workers int `yaml:"workers" env:"PIPELINE_WORKERS" env-default:"4"`

	// MaxAttempts caps retries of a stage before the document fails.
	MaxAttempts int `yaml:"max_attempts" env:"PIPELINE_MAX_ATTEMPTS" env-default:"5"`

	// RetryBaseDelay is the initial backoff delay between stage attempts.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" env:"PIPELINE_RETRY_BASE_DELAY" env-default:"2s"`

	// RetryMaxDelay caps the exponential backoff.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay" env:"PIPELINE_RETRY_MAX_DELAY" env-default:"60s"`

	// RetryMultiplier is the exponential backoff factor.
	RetryMultiplier float64 `yaml:"retry_multiplier" env:"PIPELINE_RETRY_MULTIPLIER" env-default:"2.0"`

	// RetryJitter is the +/- fraction of jitter applied to each delay.
	RetryJitter float64 `yaml:"retry_jitter" env:"PIPELINE_RETRY_JITTER" env-default:"0.1"`

	// ChunkMaxChars bounds chunk length within a page.
	ChunkMaxChars int `yaml:"chunk_max_chars" env:"PIPELINE_CHUNK_MAX_CHARS" env-default:"2000"`

	// EmbeddingDimensions is the fixed embedding vector size stored per chunk.
	EmbeddingDimensions int `yaml:"embedding_dimensions" env:"PIPELINE_EMBEDDING_DIMENSIONS" env-default:"1536"`

	// ClarificationThreshold routes items below this confidence to human review.
	ClarificationThreshold float64 `yaml:"clarification_threshold" env:"PIPELINE_CLARIFICATION_THRESHOLD" env-default:"0.6"`

	// ResolverHighThreshold binds an entity and learns an alias at or above this similarity.
	ResolverHighThreshold float64 `yaml:"resolver_high_threshold" env:"PIPELINE_RESOLVER_HIGH_THRESHOLD" env-default:"0.85"`

	// ResolverLowThreshold leaves the reference unresolved below this similarity.
	ResolverLowThreshold float64 `yaml:"resolver_low_threshold" env:"PIPELINE_RESOLVER_LOW_THRESHOLD" env-default:"0.5"`

	// PricePlausibleMultiple is the allowed multiple of historical median price.
	PricePlausibleMultiple float64 `yaml:"price_plausible_multiple" env:"PIPELINE_PRICE_PLAUSIBLE_MULTIPLE" env-default:"5.0"`

	// DatePlausibleWindow bounds how far an occurrence date may sit from now.
	DatePlausibleWindow time.Duration `yaml:"date_plausible_window" env:"PIPELINE_DATE_PLAUSIBLE_WINDOW" env-default:"8760h"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks pipeline tunables for internally consistent values.
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be >= 1, got %d", p.Workers)
	}
	if p.ClarificationThreshold < 0 || p.ClarificationThreshold > 1 {
		return fmt.Errorf("pipeline.clarification_threshold must be in [0,1], got %g", p.ClarificationThreshold)
	}
	if p.ResolverLowThreshold > p.ResolverHighThreshold {
		return fmt.Errorf("pipeline.resolver_low_threshold %g exceeds resolver_high_threshold %g",
			p.ResolverLowThreshold, p.ResolverHighThreshold)
	}
	if p.ResolverHighThreshold > 1 || p.ResolverLowThreshold < 0 {
		return fmt.Errorf("resolver thresholds must be in [0,1]")
	}
	if p.RetryMultiplier < 1 {
		return fmt.Errorf("pipeline.retry_multiplier must be >= 1, got %g", p.RetryMultiplier)
	}
	switch c.AI.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("ai.provider must be \"openai\" or \"anthropic\", got %q", c.AI.Provider)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
