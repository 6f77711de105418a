package runner

import (
	"time"

	process "github.com/goliatone/go-process"
)

type Option func(*Handler)

// WithTimeout bounds every attempt.
func WithTimeout(t time.Duration) Option {
	return func(h *Handler) {
		h.timeout = t
	}
}

func WithMaxRetries(n int) Option {
	return func(h *Handler) {
		if n < 0 {
			n = 0
		}
		h.maxRetries = n
	}
}

func WithRetryStrategy(s RetryStrategy) Option {
	return func(h *Handler) {
		if s != nil {
			h.retryStrategy = s
		}
	}
}

// WithRetryable restricts retries to errors accepted by fn.
func WithRetryable(fn func(error) bool) Option {
	return func(h *Handler) {
		h.retryable = fn
	}
}

// WithRetryHandler is called for every failed attempt that will be retried.
func WithRetryHandler(fn func(attempt int, err error)) Option {
	return func(h *Handler) {
		h.onRetry = fn
	}
}

func WithLogger(l process.Logger) Option {
	return func(h *Handler) {
		h.logger = process.NormalizeLogger(l)
	}
}

// WithName labels log lines and recovered panics.
func WithName(name string) Option {
	return func(h *Handler) {
		h.name = name
	}
}
