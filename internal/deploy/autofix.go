package deploy

import (
	"context"
	"fmt"

	"appforge/internal/config"
	"appforge/internal/logging"
	"appforge/internal/pipeline"
	"appforge/internal/project"
)

// timeout retries do not consume fix attempts but are bounded so a dead
// service cannot spin the loop forever.
const maxTimeoutRetries = 2

// Outcome is the final state of a deploy-and-fix cycle. Files always
// carries the latest file set, including fixes applied before a failure,
// so callers persist progress even when the build never went green.
type Outcome struct {
	Result      *Result
	Files       []project.File
	FixAttempts int
	FixedFiles  []string
}

// Succeeded reports whether the final deployment was servable.
func (o *Outcome) Succeeded() bool {
	return o.Result != nil && o.Result.Succeeded()
}

// Fixer deploys a file set and, when the build fails with recognizable
// errors, asks the pipeline for targeted fixes and redeploys. The loop
// is bounded by DeployConfig.MaxFixAttempts.
type Fixer struct {
	client Client
	orch   *pipeline.Orchestrator
	cfg    config.DeployConfig
}

// NewFixer wires a Fixer.
func NewFixer(client Client, orch *pipeline.Orchestrator, cfg config.DeployConfig) *Fixer {
	return &Fixer{client: client, orch: orch, cfg: cfg}
}

// Deploy runs the deploy-and-fix cycle. update selects UpdatePreview for
// the first request; redeploys after a fix always update. A transport
// error is returned only when it is not a retryable timeout; a build
// failure is not an error, it is an Outcome whose Result says so.
func (f *Fixer) Deploy(ctx context.Context, appID string, files []project.File, update bool) (*Outcome, error) {
	outcome := &Outcome{Files: files}
	timeouts := 0

	for {
		res, err := f.send(ctx, appID, outcome.Files, update)
		if err != nil {
			if IsTimeout(err) && timeouts < maxTimeoutRetries {
				timeouts++
				logging.Deploy("deploy %s timed out, retrying verbatim (%d/%d)", appID, timeouts, maxTimeoutRetries)
				continue
			}
			return nil, fmt.Errorf("deploy %s: %w", appID, err)
		}
		update = true
		outcome.Result = res

		if res.Succeeded() {
			return outcome, nil
		}
		if outcome.FixAttempts >= f.cfg.MaxFixAttempts {
			logging.Deploy("deploy %s: fix attempts exhausted (%d), keeping last file set", appID, outcome.FixAttempts)
			return outcome, nil
		}

		errs := OnlyErrors(ParseBuildLogs(res.DeploymentLogs + "\n" + res.DeploymentError))
		if len(errs) == 0 {
			logging.Deploy("deploy %s: build failed with no parseable errors, abandoning auto-fix", appID)
			return outcome, nil
		}
		names := ErrorFiles(errs, project.Names(outcome.Files), f.cfg.ESLintConfigFiles)
		if len(names) == 0 {
			logging.Deploy("deploy %s: errors map to no known files, abandoning auto-fix", appID)
			return outcome, nil
		}
		logging.Deploy("deploy %s failed: %d errors across %d files, fix attempt %d/%d",
			appID, len(errs), len(names), outcome.FixAttempts+1, f.cfg.MaxFixAttempts)

		fixed, err := f.fix(ctx, errs, names, outcome.Files)
		if err != nil {
			logging.Deploy("deploy %s: fix attempt failed: %v", appID, err)
			return outcome, nil
		}
		outcome.FixAttempts++
		if len(fixed.ChangedFiles) == 0 {
			logging.Deploy("deploy %s: fix produced no changes, abandoning auto-fix", appID)
			return outcome, nil
		}
		outcome.Files = fixed.Files
		outcome.FixedFiles = append(outcome.FixedFiles, fixed.ChangedFiles...)
	}
}

func (f *Fixer) send(ctx context.Context, appID string, files []project.File, update bool) (*Result, error) {
	if update {
		return f.client.UpdatePreview(ctx, appID, files)
	}
	return f.client.CreatePreview(ctx, appID, files)
}

func (f *Fixer) fix(ctx context.Context, errs []DeploymentError, names []string, files []project.File) (*pipeline.FollowUpResult, error) {
	plan, err := f.orch.PlanFixes(ctx, Summarize(errs), files, names)
	if err != nil {
		return nil, err
	}
	intent := &pipeline.Intent{
		Feature:      "fix build errors",
		NeedsChanges: true,
		StorageMode:  "local-storage",
		TargetFiles:  names,
	}
	return f.orch.ApplyFixes(ctx, intent, plan, files)
}
