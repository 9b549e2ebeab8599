package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"appforge/internal/deploy"
	"appforge/internal/diff"
	"appforge/internal/logging"
	"appforge/internal/pipeline"
	"appforge/internal/project"
	"appforge/internal/session"
)

// Worker executes generation jobs: it claims a job, runs the pipeline,
// deploys through the auto-fix loop, and records the terminal state.
type Worker struct {
	store    *Store
	orch     *pipeline.Orchestrator
	fixer    *deploy.Fixer
	template []project.File
	sessions *session.Store
}

// NewWorker wires a worker. template is the starter file set used for
// initial generation when the app has no files yet.
func NewWorker(store *Store, orch *pipeline.Orchestrator, fixer *deploy.Fixer, template []project.File) *Worker {
	return &Worker{store: store, orch: orch, fixer: fixer, template: template}
}

// AttachSessions mirrors each app's live file set and prompt history
// into the given session store.
func (w *Worker) AttachSessions(s *session.Store) {
	w.sessions = s
}

// Process claims and executes one job. A job already in a terminal
// state is skipped without error: completed and failed jobs are never
// re-executed. A processing job is re-claimed and restarted, which is
// safe because every side effect is an idempotent upsert.
func (w *Worker) Process(ctx context.Context, id string) error {
	j, err := w.store.ClaimJob(id)
	if errors.Is(err, ErrTerminal) {
		logging.Job("job %s already terminal, skipping", id)
		return nil
	}
	if err != nil {
		return err
	}

	if err := w.execute(ctx, j); err != nil {
		logging.Job("job %s failed: %v", j.ID, err)
		if ferr := w.store.FailJob(j.ID, err.Error()); ferr != nil && !errors.Is(ferr, ErrTerminal) {
			logging.Job("record failure for job %s: %v", j.ID, ferr)
		}
		return err
	}
	return nil
}

func (w *Worker) execute(ctx context.Context, j *Job) error {
	current, err := w.store.GetAppFiles(j.AppID)
	if err != nil {
		return err
	}
	if w.sessions != nil {
		w.sessions.Record(j.AppID, j.ID, j.Prompt)
	}

	var files []project.File
	var diffs []diff.FileDiff

	if j.IsFollowUp {
		if len(current) == 0 {
			return fmt.Errorf("follow-up job for app %s with no stored files", j.AppID)
		}
		res, rerr := w.orch.GenerateFollowUp(ctx, j.Prompt, current, j.UseDiffBased)
		if rerr != nil {
			return rerr
		}
		if res.NoChanges {
			logging.Job("job %s: no code changes needed", j.ID)
			return w.store.CompleteJob(j.ID, previousPreview(w.store, j.AppID))
		}
		files = res.Files
		diffs = res.Diffs
	} else {
		base := current
		if len(base) == 0 {
			base = w.template
		}
		res, rerr := w.orch.GenerateInitial(ctx, j.Prompt, base)
		if rerr != nil {
			return rerr
		}
		files = res.Files
	}

	outcome, derr := w.fixer.Deploy(ctx, j.AppID, files, j.IsFollowUp)
	if derr != nil {
		// Transport failure: keep the generated files so a retry or a
		// follow-up starts from them.
		if serr := w.store.SaveAppFiles(j.AppID, files); serr != nil {
			logging.Job("persist files for app %s: %v", j.AppID, serr)
		}
		return derr
	}

	// Persist the final file set, including auto-fix changes, whether or
	// not the build went green.
	if err := w.store.SaveAppFiles(j.AppID, outcome.Files); err != nil {
		return err
	}
	if w.sessions != nil {
		w.sessions.Put(j.AppID, outcome.Files)
	}

	if !outcome.Succeeded() {
		msg := "deployment failed"
		if outcome.Result != nil && outcome.Result.DeploymentError != "" {
			msg = outcome.Result.DeploymentError
		}
		return fmt.Errorf("%s after %d fix attempts", msg, outcome.FixAttempts)
	}

	// Rollback history is recorded only for edits that reached a live
	// preview; a failed build keeps its files but writes no patch record.
	for _, d := range diffs {
		if err := w.store.SavePatch(j.ID, d.Filename, d.UnifiedDiff); err != nil {
			return err
		}
	}
	return w.store.CompleteJob(j.ID, outcome.Result.PreviewURL)
}

// previousPreview returns the app's most recent completed preview URL,
// or empty when there is none.
func previousPreview(s *Store, appID string) string {
	jobs, err := s.ListJobs(appID, 20)
	if err != nil {
		return ""
	}
	for _, j := range jobs {
		if j.Status == StatusCompleted && j.PreviewURL != "" {
			return j.PreviewURL
		}
	}
	return ""
}

// Run polls for pending jobs and executes them with bounded
// concurrency until the context is cancelled.
func (w *Worker) Run(ctx context.Context, concurrency int, poll time.Duration) error {
	if concurrency < 1 {
		concurrency = 1
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}

	g := &errgroup.Group{}
	g.SetLimit(concurrency)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	logging.Job("worker running: concurrency=%d poll=%v", concurrency, poll)
	for {
		select {
		case <-ctx.Done():
			err := g.Wait()
			if err != nil {
				logging.Job("worker drained with error: %v", err)
			}
			return ctx.Err()
		case <-ticker.C:
			next, err := w.store.NextPending()
			if err != nil {
				logging.Job("poll pending jobs: %v", err)
				continue
			}
			if next == nil {
				continue
			}
			// Claim synchronously so the next poll does not dispatch the
			// same job twice.
			j, err := w.store.ClaimJob(next.ID)
			if err != nil {
				if !errors.Is(err, ErrTerminal) {
					logging.Job("claim job %s: %v", next.ID, err)
				}
				continue
			}
			claimed := j
			g.Go(func() error {
				if err := w.execute(ctx, claimed); err != nil {
					logging.Job("job %s failed: %v", claimed.ID, err)
					if ferr := w.store.FailJob(claimed.ID, err.Error()); ferr != nil && !errors.Is(ferr, ErrTerminal) {
						logging.Job("record failure for job %s: %v", claimed.ID, ferr)
					}
				}
				return nil
			})
		}
	}
}
