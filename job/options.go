package job

import (
	"time"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/runner"
)

// Defaults used when an option is not set.
const (
	DefaultMaxJobsPerAcquisition = 3
	DefaultLockTime              = 5 * time.Minute
	DefaultConcurrency           = 4
	DefaultPollInterval          = 5 * time.Second
	DefaultConflictRetries       = 3
	DefaultRetries               = 3
)

type Option func(*Executor)

func WithWorkerID(id string) Option {
	return func(e *Executor) {
		if id != "" {
			e.workerID = id
		}
	}
}

func WithMaxJobsPerAcquisition(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxJobs = n
		}
	}
}

func WithLockTime(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.lockTime = d
		}
	}
}

// WithConcurrency bounds the jobs running at once across all cycles.
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithBackoff sets the delay before a failed job is due again.
func WithBackoff(s runner.RetryStrategy) Option {
	return func(e *Executor) {
		if s != nil {
			e.backoff = s
		}
	}
}

// WithConflictRetries sets the in-process retries for transient store
// failures before the job itself is failed.
func WithConflictRetries(n int) Option {
	return func(e *Executor) {
		if n >= 0 {
			e.conflictRetries = n
		}
	}
}

// WithDefaultRetries is the retry budget new jobs start with, used to derive
// the backoff attempt.
func WithDefaultRetries(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.defaultRetries = n
		}
	}
}

func WithLogger(l process.Logger) Option {
	return func(e *Executor) {
		e.logger = process.NormalizeLogger(l)
	}
}

func WithMetrics(m Metrics) Option {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func WithHandlers(handlers ...Handler) Option {
	return func(e *Executor) {
		for _, h := range handlers {
			e.Register(h)
		}
	}
}
