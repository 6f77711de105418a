package runner

import (
	"math"
	"time"
)

// RetryStrategy encapsulates the delay between retries.
type RetryStrategy interface {
	// SleepDuration returns how long to wait before the next attempt.
	// The attempt index starts at 0 and increments after each failure.
	SleepDuration(attempt int, err error) time.Duration
}

// RetryDecision is the outcome of asking a strategy about a failure.
type RetryDecision struct {
	ShouldRetry bool
	Delay       time.Duration
	Metadata    map[string]any
}

// RetryDecider is implemented by strategies that can veto a retry.
type RetryDecider interface {
	Decide(attempt int, err error) RetryDecision
}

// DecideRetry asks strategy whether attempt should be retried. Strategies
// that only know delays always retry.
func DecideRetry(strategy RetryStrategy, attempt int, err error) RetryDecision {
	if strategy == nil {
		return RetryDecision{ShouldRetry: true}
	}
	if decider, ok := strategy.(RetryDecider); ok {
		return decider.Decide(attempt, err)
	}
	return RetryDecision{
		ShouldRetry: true,
		Delay:       strategy.SleepDuration(attempt, err),
	}
}

// NoDelayStrategy retries immediately.
type NoDelayStrategy struct{}

func (NoDelayStrategy) SleepDuration(int, error) time.Duration {
	return 0
}

// FixedDelayStrategy waits the same amount before every retry.
type FixedDelayStrategy struct {
	Delay time.Duration
}

func (f FixedDelayStrategy) SleepDuration(int, error) time.Duration {
	return f.Delay
}

// ExponentialBackoffStrategy grows the delay by Factor per attempt, capped
// at Max.
//
//	runner.WithRetryStrategy(runner.ExponentialBackoffStrategy{
//	    Base:   100 * time.Millisecond,
//	    Factor: 2,
//	    Max:    5 * time.Second,
//	})
type ExponentialBackoffStrategy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := e.Factor
	if factor <= 0 {
		factor = 1
	}
	delay := float64(e.Base) * math.Pow(factor, float64(attempt))
	if e.Max > 0 && delay > float64(e.Max) {
		return e.Max
	}
	return time.Duration(delay)
}

// ClassifiedStrategy retries only errors accepted by Retryable and delegates
// the delay to Strategy.
type ClassifiedStrategy struct {
	Strategy  RetryStrategy
	Retryable func(error) bool
}

func (c ClassifiedStrategy) SleepDuration(attempt int, err error) time.Duration {
	if c.Strategy == nil {
		return 0
	}
	return c.Strategy.SleepDuration(attempt, err)
}

func (c ClassifiedStrategy) Decide(attempt int, err error) RetryDecision {
	if c.Retryable != nil && !c.Retryable(err) {
		return RetryDecision{Metadata: map[string]any{"retryable": false}}
	}
	return RetryDecision{
		ShouldRetry: true,
		Delay:       c.SleepDuration(attempt, err),
	}
}
