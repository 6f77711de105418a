// Package runner executes a unit of work with bounded in-process retries.
package runner

import (
	"context"
	"sync/atomic"
	"time"

	process "github.com/goliatone/go-process"
)

// Handler runs functions with retries, per-attempt timeouts and panic
// recovery. It is safe for concurrent use.
type Handler struct {
	name          string
	logger        process.Logger
	retryStrategy RetryStrategy
	retryable     func(error) bool
	onRetry       func(attempt int, err error)

	maxRetries int
	timeout    time.Duration

	runs     atomic.Int64
	failures atomic.Int64
	retries  atomic.Int64
}

// Stats counts what a handler has done so far.
type Stats struct {
	Runs     int64
	Failures int64
	Retries  int64
}

// NewHandler constructs a Handler. Without options it runs once.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		name:          "runner",
		logger:        process.NopLogger{},
		retryStrategy: NoDelayStrategy{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Run calls fn until it succeeds, the retries are used up, the error is not
// retryable, or ctx is done. The last error is returned unchanged.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	h.runs.Add(1)

	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			break
		}

		err = h.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if attempt >= h.maxRetries {
			break
		}
		if h.retryable != nil && !h.retryable(err) {
			break
		}
		decision := DecideRetry(h.retryStrategy, attempt, err)
		if !decision.ShouldRetry {
			break
		}

		h.retries.Add(1)
		h.logger.Debug("%s failed, attempt %d of %d: %v", h.name, attempt+1, h.maxRetries+1, err)
		if h.onRetry != nil {
			h.onRetry(attempt, err)
		}
		if !sleep(ctx, decision.Delay) {
			break
		}
	}

	h.failures.Add(1)
	return err
}

// Stats returns a snapshot of the counters.
func (h *Handler) Stats() Stats {
	return Stats{
		Runs:     h.runs.Load(),
		Failures: h.failures.Load(),
		Retries:  h.retries.Load(),
	}
}

func (h *Handler) attempt(ctx context.Context, fn func(context.Context) error) (err error) {
	defer process.RecoverError(h.name, &err)
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	return fn(ctx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
