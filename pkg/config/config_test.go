package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env: "local",
		AI:  AIConfig{Provider: "openai"},
		Pipeline: PipelineConfig{
			Workers:                4,
			MaxAttempts:            5,
			RetryBaseDelay:         2 * time.Second,
			RetryMaxDelay:          time.Minute,
			RetryMultiplier:        2.0,
			RetryJitter:            0.1,
			ChunkMaxChars:          2000,
			EmbeddingDimensions:    1536,
			ClarificationThreshold: 0.6,
			ResolverHighThreshold:  0.85,
			ResolverLowThreshold:   0.5,
			PricePlausibleMultiple: 5.0,
			DatePlausibleWindow:    8760 * time.Hour,
		},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Pipeline.Workers = 0 },
			wantErr: "workers",
		},
		{
			name:    "clarification threshold above 1",
			mutate:  func(c *Config) { c.Pipeline.ClarificationThreshold = 1.5 },
			wantErr: "clarification_threshold",
		},
		{
			name: "inverted resolver bands",
			mutate: func(c *Config) {
				c.Pipeline.ResolverLowThreshold = 0.9
				c.Pipeline.ResolverHighThreshold = 0.5
			},
			wantErr: "resolver_low_threshold",
		},
		{
			name:    "multiplier below one",
			mutate:  func(c *Config) { c.Pipeline.RetryMultiplier = 0.5 },
			wantErr: "retry_multiplier",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.AI.Provider = "palm" },
			wantErr: "ai.provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "ingest",
		Password: "hunter2",
		Database: "ingest_engine",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=ingest password=hunter2 dbname=ingest_engine sslmode=require",
		db.ConnectionString())
}
