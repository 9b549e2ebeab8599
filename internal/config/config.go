// Package config defines the appforge configuration surface.
// Config is loaded from .appforge/config.yaml in the workspace; every field
// has a working default so a missing file means "defaults everywhere".
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Deploy   DeployConfig   `yaml:"deploy"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Workspace is the directory containing .appforge/. Not serialized;
	// set by the loader.
	Workspace string `yaml:"-"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		LLM:      DefaultLLMConfig(),
		Pipeline: DefaultPipelineConfig(),
		Deploy:   DefaultDeployConfig(),
		Logging:  DefaultLoggingConfig(),
	}
}

// Load reads .appforge/config.yaml under the given workspace, applying
// defaults for anything unset. A missing file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := Default()
	cfg.Workspace = workspace

	path := filepath.Join(workspace, ".appforge", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets API keys come from the environment so they never
// have to live in the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("APPFORGE_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("APPFORGE_DEPLOY_TOKEN"); v != "" {
		cfg.Deploy.Token = v
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}
	if err := c.Deploy.Validate(); err != nil {
		return fmt.Errorf("deploy config: %w", err)
	}
	return nil
}

// Save writes the config back to .appforge/config.yaml.
func (c *Config) Save() error {
	dir := filepath.Join(c.Workspace, ".appforge")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644)
}

// LoggingConfig controls the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories,omitempty"`
	Level      string          `yaml:"level"`
}

// DefaultLoggingConfig returns production defaults (logging off).
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		DebugMode: false,
		Level:     "info",
	}
}
