package config

import (
	"fmt"
	"time"
)

// DeployConfig configures the preview deployment collaborator and the
// auto-fix loop.
type DeployConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"`

	// MaxFixAttempts bounds the parse-fix-redeploy loop per job.
	MaxFixAttempts int `yaml:"max_fix_attempts"`

	// ESLintConfigFiles are included as fix candidates whenever an ESLint
	// error is present, since config errors carry no source location.
	ESLintConfigFiles []string `yaml:"eslint_config_files,omitempty"`
}

// DefaultDeployConfig returns sensible defaults.
func DefaultDeployConfig() DeployConfig {
	return DeployConfig{
		BaseURL:        "http://localhost:4000",
		Timeout:        "180s",
		MaxFixAttempts: 2,
		ESLintConfigFiles: []string{
			".eslintrc.json",
			"eslint.config.mjs",
		},
	}
}

// TimeoutDuration parses Timeout with a safe fallback.
func (c DeployConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 180 * time.Second
	}
	return d
}

// Validate rejects unusable deploy configuration.
func (c DeployConfig) Validate() error {
	if c.MaxFixAttempts < 0 {
		return fmt.Errorf("max_fix_attempts must be >= 0, got %d", c.MaxFixAttempts)
	}
	return nil
}
