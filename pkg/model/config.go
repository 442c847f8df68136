package model

import (
	"log/slog"
	"time"
)

// Config holds model client configuration.
type Config struct {
	Provider    string  // default provider when a model name has no prefix, e.g. "anthropic"
	Model       string  // default model, e.g. "anthropic/claude-sonnet-4-5"
	APIKey      string  // empty means the provider's environment variable
	MaxTokens   int     // default max tokens per response (4096)
	Temperature float64 // sampling temperature (0.7)
	Retry       RetryConfig
	Logger      *slog.Logger
}

// RetryConfig controls retries of transient provider failures.
type RetryConfig struct {
	MaxRetries     int           // Max retry attempts (default: 3)
	InitialBackoff time.Duration // Initial backoff (default: 1s)
	MaxBackoff     time.Duration // Max backoff cap (default: 30s)
	BackoffFactor  float64       // Multiplier per retry (default: 2.0)
	JitterFraction float64       // Random jitter as fraction of backoff (default: 0.1)
}

// DefaultRetryConfig returns the retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		JitterFraction: 0.1,
	}
}

func (c *Config) setDefaults() {
	if c.Provider == "" {
		c.Provider = "anthropic"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.Retry == (RetryConfig{}) {
		c.Retry = DefaultRetryConfig()
	}
}
