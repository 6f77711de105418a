package batch

import (
	"time"

	process "github.com/goliatone/go-process"
)

const (
	DefaultJobsPerSeed         = 100
	DefaultInvocationsPerJob   = 1
	DefaultMonitorPollInterval = 30 * time.Second
	DefaultJobRetries          = 3
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithJobsPerSeed sets how many execution jobs one seed run creates.
func WithJobsPerSeed(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.jobsPerSeed = n
		}
	}
}

// WithInvocationsPerJob sets how many instances one execution job handles
// for every batch type without an explicit setting.
func WithInvocationsPerJob(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.invocationsPerJob = n
		}
	}
}

// WithInvocationsPerJobByType overrides the invocations per job of one
// batch type.
func WithInvocationsPerJobByType(batchType string, n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.invocationsByType[batchType] = n
		}
	}
}

func WithMonitorPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithJobRetries sets the retries every batch job starts with.
func WithJobRetries(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.jobRetries = n
		}
	}
}

func WithModifier(m Modifier) Option {
	return func(s *Scheduler) {
		s.modifier = m
	}
}

func WithRestarter(r Restarter) Option {
	return func(s *Scheduler) {
		s.restarter = r
	}
}

func WithLogger(logger process.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the generator for batch, job and job definition ids.
func WithIDGenerator(gen process.IDGenerator) Option {
	return func(s *Scheduler) {
		if gen != nil {
			s.newID = gen
		}
	}
}
