package runner

import (
	"fmt"
	"testing"
	"time"

	process "github.com/goliatone/go-process"
)

func TestDecideRetryUsesDeciderWhenAvailable(t *testing.T) {
	strategy := ClassifiedStrategy{
		Strategy:  FixedDelayStrategy{Delay: 25 * time.Millisecond},
		Retryable: process.IsTransient,
	}

	decision := DecideRetry(strategy, 1, fmt.Errorf("boom"))
	if decision.ShouldRetry {
		t.Fatal("expected classified strategy to refuse a foreign error")
	}
	if decision.Metadata["retryable"] != false {
		t.Fatal("expected metadata propagation")
	}

	decision = DecideRetry(strategy, 1, process.Transient("conflict", nil, nil))
	if !decision.ShouldRetry || decision.Delay != 25*time.Millisecond {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestDecideRetryFallsBackToSleepDuration(t *testing.T) {
	strategy := ExponentialBackoffStrategy{
		Base:   10 * time.Millisecond,
		Factor: 2,
		Max:    100 * time.Millisecond,
	}
	decision := DecideRetry(strategy, 2, nil)
	if !decision.ShouldRetry {
		t.Fatal("expected fallback strategy to retry")
	}
	if decision.Delay != 40*time.Millisecond {
		t.Fatalf("unexpected fallback delay: %s", decision.Delay)
	}
	if got := strategy.SleepDuration(10, nil); got != 100*time.Millisecond {
		t.Fatalf("expected capped delay, got %s", got)
	}
}
