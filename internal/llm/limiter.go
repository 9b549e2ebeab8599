package llm

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds concurrent model calls across all jobs in the process.
// It implements Client so it can be layered transparently under the
// Router.
type Limiter struct {
	client Client
	sem    *semaphore.Weighted
}

// NewLimiter wraps a client with a concurrency bound.
func NewLimiter(client Client, maxConcurrent int) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Limiter{
		client: client,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Complete acquires a slot, makes the call, and releases the slot.
func (l *Limiter) Complete(ctx context.Context, req Request) (string, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("failed to acquire API slot: %w", err)
	}
	defer l.sem.Release(1)

	return l.client.Complete(ctx, req)
}
