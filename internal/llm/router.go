package llm

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"appforge/internal/logging"
)

// retryState is the router's explicit decision state, threaded through the
// retry loop rather than captured in a closure, so model selection stays
// pure and testable.
type retryState struct {
	primaryModel  string
	fallbackModel string
	attemptsUsed  int
	maxAttempts   int
}

// modelForAttempt selects the model for the next attempt. The penultimate
// attempt (and anything after) switches to the fallback model instead of
// continuing to hammer an overloaded primary.
func (s retryState) modelForAttempt() string {
	if s.fallbackModel == "" || s.fallbackModel == s.primaryModel {
		return s.primaryModel
	}
	attempt := s.attemptsUsed + 1
	if s.maxAttempts > 1 && attempt >= s.maxAttempts-1 {
		return s.fallbackModel
	}
	return s.primaryModel
}

// Router wraps a Client with retries, exponential backoff with jitter, and
// per-stage fallback-model escalation for transient failures.
type Router struct {
	client         Client
	maxAttempts    int
	initialBackoff time.Duration

	// rng supplies jitter; override in tests for determinism.
	rng *rand.Rand
}

// RouterConfig configures the retry policy.
type RouterConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
}

// DefaultRouterConfig returns the production retry policy.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MaxAttempts:    4,
		InitialBackoff: time.Second,
	}
}

// NewRouter creates a router around a client.
func NewRouter(client Client, config RouterConfig) *Router {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = time.Second
	}
	return &Router{
		client:         client,
		maxAttempts:    config.MaxAttempts,
		initialBackoff: config.InitialBackoff,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Call invokes the model for a stage, retrying transient failures. The
// request's Model field is treated as the primary; fallbackModel (may be
// empty) is used from the penultimate attempt onward. Non-transient errors
// return immediately.
func (r *Router) Call(ctx context.Context, req Request, fallbackModel string) (string, error) {
	state := retryState{
		primaryModel:  req.Model,
		fallbackModel: fallbackModel,
		maxAttempts:   r.maxAttempts,
	}

	var lastErr error
	for state.attemptsUsed < state.maxAttempts {
		attemptReq := req
		attemptReq.Model = state.modelForAttempt()

		if state.attemptsUsed > 0 {
			backoff := r.backoffFor(state.attemptsUsed)
			logging.APIDebug("stage %s: retry %d/%d with model %s after %v",
				req.Stage, state.attemptsUsed+1, state.maxAttempts, attemptReq.Model, backoff)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := r.client.Complete(ctx, attemptReq)
		state.attemptsUsed++

		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			logging.Get(logging.CategoryAPI).Error("stage %s: non-retryable error from %s: %v",
				req.Stage, attemptReq.Model, err)
			return "", fmt.Errorf("stage %s failed: %w", req.Stage, err)
		}

		logging.Get(logging.CategoryAPI).Warn("stage %s: transient error from %s (attempt %d/%d): %v",
			req.Stage, attemptReq.Model, state.attemptsUsed, state.maxAttempts, err)
	}

	return "", fmt.Errorf("stage %s failed after %d attempts: %w", req.Stage, state.attemptsUsed, lastErr)
}

// backoffFor computes exponential backoff with random jitter for the given
// completed-attempt count: base*2^(n-1) plus up to 50% jitter.
func (r *Router) backoffFor(attemptsUsed int) time.Duration {
	backoff := r.initialBackoff * time.Duration(1<<uint(attemptsUsed-1))
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	jitter := time.Duration(r.rng.Int63n(int64(backoff)/2 + 1))
	return backoff + jitter
}
