package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"appforge/internal/config"
	"appforge/internal/deploy"
	"appforge/internal/job"
	"appforge/internal/llm"
	"appforge/internal/pipeline"
	"appforge/internal/project"
	"appforge/internal/session"
)

// engine bundles the wired collaborators behind the CLI commands.
type engine struct {
	cfg      *config.Config
	store    *job.Store
	worker   *job.Worker
	orch     *pipeline.Orchestrator
	template []project.File
}

// buildEngine loads config from the workspace and wires the LLM router,
// pipeline, deployment fixer, job store and worker.
func buildEngine() (*engine, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client, err := buildClient(cfg.LLM)
	if err != nil {
		return nil, err
	}
	limited := llm.NewLimiter(client, cfg.LLM.MaxConcurrentCalls)
	router := llm.NewRouter(limited, llm.RouterConfig{
		MaxAttempts:    cfg.LLM.MaxAttempts,
		InitialBackoff: cfg.LLM.InitialBackoffDuration(),
	})

	orch := pipeline.New(router, cfg.LLM, cfg.Pipeline, &execRunner{dir: workspace})
	fixer := deploy.NewFixer(deploy.NewHTTPClient(cfg.Deploy), orch, cfg.Deploy)

	store, err := job.NewStore(filepath.Join(workspace, ".appforge", "jobs.db"))
	if err != nil {
		return nil, err
	}

	template, err := loadTemplate()
	if err != nil {
		store.Close()
		return nil, err
	}

	worker := job.NewWorker(store, orch, fixer, template)
	worker.AttachSessions(session.NewStore())

	return &engine{
		cfg:      cfg,
		store:    store,
		worker:   worker,
		orch:     orch,
		template: template,
	}, nil
}

func (e *engine) close() {
	if err := e.store.Close(); err != nil {
		logger.Warn("close job store", zap.Error(err))
	}
}

func buildClient(cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "anthropic", "":
		ac := llm.DefaultAnthropicConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			ac.BaseURL = cfg.BaseURL
		}
		ac.Timeout = cfg.TimeoutDuration()
		return llm.NewAnthropicClientWithConfig(ac), nil
	case "openai", "openai-compatible":
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.TimeoutDuration(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// loadTemplate reads the starter tree from the workspace template
// directory, falling back to the built-in minimal starter.
func loadTemplate() ([]project.File, error) {
	dir := filepath.Join(workspace, ".appforge", "template")
	files, err := project.ReadTree(dir)
	if err != nil || len(files) == 0 {
		return job.DefaultTemplate(), nil
	}
	return files, nil
}

// execRunner executes whitelisted read-only inspection commands for the
// context-gathering stage. The pipeline enforces the whitelist; the
// runner just pins the working directory.
type execRunner struct {
	dir string
}

func (r *execRunner) Run(ctx context.Context, command string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = r.dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		// grep exits 1 on no matches; the empty output is the answer.
		if out.Len() > 0 {
			return out.String(), nil
		}
		return "", err
	}
	return out.String(), nil
}
