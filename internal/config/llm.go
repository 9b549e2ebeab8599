package config

import "time"

// LLMConfig configures the model provider and the tier-to-model mapping.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai-compatible, anthropic
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`

	// Tier model names. Stages reference tiers, not raw model names, so a
	// provider swap is a three-line config change.
	FastModel     string `yaml:"fast_model"`
	BalancedModel string `yaml:"balanced_model"`
	PowerfulModel string `yaml:"powerful_model"`

	// Retry policy for transient failures (429/5xx/overloaded).
	MaxAttempts    int    `yaml:"max_attempts"`
	InitialBackoff string `yaml:"initial_backoff"`

	// MaxConcurrentCalls bounds simultaneous API calls across all jobs.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`
}

// DefaultLLMConfig returns sensible defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:           "anthropic",
		BaseURL:            "https://api.anthropic.com/v1",
		Timeout:            "120s",
		FastModel:          "claude-3-5-haiku-20241022",
		BalancedModel:      "claude-sonnet-4-20250514",
		PowerfulModel:      "claude-opus-4-20250514",
		MaxAttempts:        4,
		InitialBackoff:     "1s",
		MaxConcurrentCalls: 5,
	}
}

// TimeoutDuration parses Timeout with a safe fallback.
func (c LLMConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// InitialBackoffDuration parses InitialBackoff with a safe fallback.
func (c LLMConfig) InitialBackoffDuration() time.Duration {
	d, err := time.ParseDuration(c.InitialBackoff)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// ModelForTier maps a tier name to a concrete model.
func (c LLMConfig) ModelForTier(tier string) string {
	switch tier {
	case "fast":
		return c.FastModel
	case "powerful":
		return c.PowerfulModel
	default:
		return c.BalancedModel
	}
}
