package llm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient returns the scripted errors in order, then succeeds.
type scriptedClient struct {
	mu     sync.Mutex
	errs   []error
	calls  []Request
	result string
}

func (s *scriptedClient) Complete(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return "", err
	}
	return s.result, nil
}

func overloaded() error {
	return &APIError{StatusCode: http.StatusTooManyRequests, Message: "overloaded"}
}

func testRouter(c Client) *Router {
	return NewRouter(c, RouterConfig{MaxAttempts: 4, InitialBackoff: time.Millisecond})
}

func TestRouter_SucceedsAfterTransientErrors(t *testing.T) {
	stub := &scriptedClient{
		errs:   []error{overloaded(), overloaded()},
		result: "ok",
	}
	r := testRouter(stub)

	out, err := r.Call(context.Background(), Request{Model: "primary", Stage: "intent_parsing"}, "fallback")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Len(t, stub.calls, 3)

	// Attempts 1-2 use the primary; attempt 3 is the penultimate attempt
	// and must already be on the fallback model.
	assert.Equal(t, "primary", stub.calls[0].Model)
	assert.Equal(t, "primary", stub.calls[1].Model)
	assert.Equal(t, "fallback", stub.calls[2].Model)
}

func TestRouter_ExhaustionUsesFallback(t *testing.T) {
	stub := &scriptedClient{
		errs: []error{overloaded(), overloaded(), overloaded(), overloaded()},
	}
	r := testRouter(stub)

	_, err := r.Call(context.Background(), Request{Model: "primary", Stage: "code_generation"}, "fallback")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 4 attempts")
	require.Len(t, stub.calls, 4)
	assert.Equal(t, "fallback", stub.calls[3].Model, "final attempt must use the fallback model")
}

func TestRouter_NonRetryableFailsImmediately(t *testing.T) {
	stub := &scriptedClient{
		errs: []error{&APIError{StatusCode: http.StatusBadRequest, Message: "bad prompt"}},
	}
	r := testRouter(stub)

	_, err := r.Call(context.Background(), Request{Model: "m", Stage: "validation"}, "fb")
	require.Error(t, err)
	assert.Len(t, stub.calls, 1)
}

func TestRouter_NoFallbackKeepsPrimary(t *testing.T) {
	stub := &scriptedClient{
		errs: []error{overloaded(), overloaded(), overloaded(), overloaded()},
	}
	r := testRouter(stub)

	_, err := r.Call(context.Background(), Request{Model: "only", Stage: "s"}, "")
	require.Error(t, err)
	for _, call := range stub.calls {
		assert.Equal(t, "only", call.Model)
	}
}

func TestRouter_ContextCancelledDuringBackoff(t *testing.T) {
	stub := &scriptedClient{
		errs: []error{overloaded(), overloaded(), overloaded(), overloaded()},
	}
	r := NewRouter(stub, RouterConfig{MaxAttempts: 4, InitialBackoff: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Call(ctx, Request{Model: "m", Stage: "s"}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&APIError{StatusCode: 429, Message: "too many"}))
	assert.True(t, IsRetryable(&APIError{StatusCode: 503, Message: "unavailable"}))
	assert.True(t, IsRetryable(&APIError{StatusCode: 200, Message: "model overloaded, try later"}))
	assert.False(t, IsRetryable(&APIError{StatusCode: 400, Message: "bad request"}))
	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestRetryState_ModelSelection(t *testing.T) {
	s := retryState{primaryModel: "p", fallbackModel: "f", maxAttempts: 4}

	s.attemptsUsed = 0
	assert.Equal(t, "p", s.modelForAttempt())
	s.attemptsUsed = 1
	assert.Equal(t, "p", s.modelForAttempt())
	s.attemptsUsed = 2 // attempt 3 of 4: penultimate
	assert.Equal(t, "f", s.modelForAttempt())
	s.attemptsUsed = 3
	assert.Equal(t, "f", s.modelForAttempt())
}

func TestLimiter_PassesThrough(t *testing.T) {
	stub := &scriptedClient{result: "done"}
	lim := NewLimiter(stub, 2)

	out, err := lim.Complete(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}
