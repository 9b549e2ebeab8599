package config

import "fmt"

// StageConfig configures one LLM-backed stage of the generation pipeline.
type StageConfig struct {
	Tier          string  `yaml:"tier"` // fast, balanced, powerful
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
	FallbackModel string  `yaml:"fallback_model,omitempty"`
}

// PipelineConfig configures the five-stage generation pipeline and the
// fuzzy patch applier. The matching thresholds are empirically tuned; they
// live here rather than as constants so they can be adjusted per workspace.
type PipelineConfig struct {
	ContextGathering StageConfig `yaml:"context_gathering"`
	IntentParsing    StageConfig `yaml:"intent_parsing"`
	PatchPlanning    StageConfig `yaml:"patch_planning"`
	CodeGeneration   StageConfig `yaml:"code_generation"`
	Validation       StageConfig `yaml:"validation"`

	// SkipContextGathering disables stage 0 entirely.
	SkipContextGathering bool `yaml:"skip_context_gathering"`

	// ContextMatchThreshold is the fraction of a hunk's context lines that
	// must match at the anchored position for the hunk to be applied.
	ContextMatchThreshold float64 `yaml:"context_match_threshold"`

	// MinContextForSearch is the minimum number of context lines a hunk
	// needs before the global fuzzy search is attempted.
	MinContextForSearch int `yaml:"min_context_for_search"`

	// MaxHunkLines is the guidance given to the planning stage: prefer
	// several small hunks over one large one, since fuzzy matching degrades
	// with hunk size.
	MaxHunkLines int `yaml:"max_hunk_lines"`
}

// DefaultPipelineConfig returns the tuned defaults observed in production.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ContextGathering: StageConfig{Tier: "fast", MaxTokens: 2048, Temperature: 0.1},
		IntentParsing:    StageConfig{Tier: "balanced", MaxTokens: 4096, Temperature: 0.2},
		PatchPlanning:    StageConfig{Tier: "powerful", MaxTokens: 8192, Temperature: 0.2},
		CodeGeneration:   StageConfig{Tier: "powerful", MaxTokens: 16384, Temperature: 0.3},
		Validation:       StageConfig{Tier: "balanced", MaxTokens: 8192, Temperature: 0.1},

		ContextMatchThreshold: 0.7,
		MinContextForSearch:   2,
		MaxHunkLines:          10,
	}
}

// Validate rejects configurations the applier cannot work with.
func (c PipelineConfig) Validate() error {
	if c.ContextMatchThreshold <= 0 || c.ContextMatchThreshold > 1 {
		return fmt.Errorf("context_match_threshold must be in (0,1], got %v", c.ContextMatchThreshold)
	}
	if c.MinContextForSearch < 1 {
		return fmt.Errorf("min_context_for_search must be >= 1, got %d", c.MinContextForSearch)
	}
	if c.MaxHunkLines < 1 {
		return fmt.Errorf("max_hunk_lines must be >= 1, got %d", c.MaxHunkLines)
	}
	return nil
}
