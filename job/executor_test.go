package job_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/job"
	"github.com/goliatone/go-process/persistence"
	"github.com/goliatone/go-process/persistence/memory"
	"github.com/goliatone/go-process/runner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testType = "test-job"

type fixture struct {
	store *memory.Store
	now   time.Time
}

func newFixture(t *testing.T, jobs ...*persistence.Job) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	require.NoError(t, f.store.Update(context.Background(), func(tx persistence.Tx) error {
		for _, j := range jobs {
			if j.Type == "" {
				j.Type = testType
			}
			if j.DueDate.IsZero() {
				j.DueDate = f.now
			}
			if err := tx.PutJob(j); err != nil {
				return err
			}
		}
		return nil
	}))
	return f
}

func (f *fixture) executor(h func(context.Context, *persistence.Job) error, opts ...job.Option) *job.Executor {
	base := []job.Option{
		job.WithWorkerID("worker-1"),
		job.WithClock(func() time.Time { return f.now }),
		job.WithBackoff(runner.FixedDelayStrategy{Delay: time.Minute}),
		job.WithHandlers(job.HandlerFunc{JobType: testType, Fn: h}),
	}
	return job.NewExecutor(f.store, append(base, opts...)...)
}

func (f *fixture) job(t *testing.T, id string) *persistence.Job {
	t.Helper()
	var out *persistence.Job
	err := f.store.View(context.Background(), func(tx persistence.Tx) error {
		var err error
		out, err = tx.Job(id)
		return err
	})
	if process.IsNotFound(err) {
		return nil
	}
	require.NoError(t, err)
	return out
}

func (f *fixture) incidents(t *testing.T) (runtime, historic []*persistence.Incident) {
	t.Helper()
	require.NoError(t, f.store.View(context.Background(), func(tx persistence.Tx) error {
		var err error
		if runtime, err = tx.Incidents(persistence.IncidentQuery{}); err != nil {
			return err
		}
		historic, err = tx.HistoricIncidents(persistence.IncidentQuery{})
		return err
	}))
	return runtime, historic
}

func TestSuccessfulJobIsDeleted(t *testing.T) {
	f := newFixture(t, &persistence.Job{ID: "j1", Retries: 3})
	reg := prometheus.NewRegistry()
	metrics := job.NewPrometheusMetrics(reg)

	var seen *persistence.Job
	exec := f.executor(func(_ context.Context, j *persistence.Job) error {
		seen = j
		return nil
	}, job.WithMetrics(metrics))

	report, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Acquired)
	assert.Equal(t, 1, report.Executed)
	require.NotNil(t, seen)
	assert.Equal(t, "worker-1", seen.LockOwner)
	assert.Nil(t, f.job(t, "j1"))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AcquiredTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.OutcomesTotal.WithLabelValues(testType, string(job.OutcomeSucceeded))))
}

func TestFailingJobRetriesThenRaisesIncident(t *testing.T) {
	f := newFixture(t, &persistence.Job{ID: "j1", Retries: 2, BatchID: "b1", JobDefinitionID: "jd1"})
	exec := f.executor(func(context.Context, *persistence.Job) error {
		return process.InstanceStatef("Process instance 'pi' cannot be modified")
	})

	report, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, job.OutcomeRetry, report.Results[0].Outcome)

	j := f.job(t, "j1")
	require.NotNil(t, j)
	assert.Equal(t, 1, j.Retries)
	assert.Empty(t, j.LockOwner)
	assert.True(t, j.DueDate.Equal(f.now.Add(time.Minute)))
	assert.Equal(t, "Process instance 'pi' cannot be modified", j.ExceptionMessage)

	report, err = exec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Acquired, "job is not due yet")

	f.now = f.now.Add(time.Minute)
	report, err = exec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, job.OutcomeIncident, report.Results[0].Outcome)

	j = f.job(t, "j1")
	require.NotNil(t, j)
	assert.Zero(t, j.Retries)

	runtime, historic := f.incidents(t)
	require.Len(t, runtime, 1)
	require.Len(t, historic, 1)
	assert.Equal(t, "j1", runtime[0].JobID)
	assert.Equal(t, "b1", runtime[0].BatchID)
	assert.Equal(t, "jd1", runtime[0].JobDefinitionID)
	assert.Equal(t, persistence.IncidentTypeFailedJob, runtime[0].Type)
	assert.Equal(t, runtime[0].ID, historic[0].ID)

	report, err = exec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Acquired, "jobs without retries are never acquired")
}

func TestValidationFailureExhaustsRetries(t *testing.T) {
	f := newFixture(t, &persistence.Job{ID: "j1", Retries: 3})
	exec := f.executor(func(context.Context, *persistence.Job) error {
		return process.Validationf("bad configuration")
	})

	_, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.job(t, "j1").Retries)
	runtime, _ := f.incidents(t)
	assert.Len(t, runtime, 1)
}

func TestTransientFailuresRetryInProcess(t *testing.T) {
	f := newFixture(t, &persistence.Job{ID: "j1", Retries: 3})
	reg := prometheus.NewRegistry()
	metrics := job.NewPrometheusMetrics(reg)

	var calls int
	exec := f.executor(func(context.Context, *persistence.Job) error {
		calls++
		if calls < 3 {
			return process.Transient("version conflict", nil, nil)
		}
		return nil
	}, job.WithMetrics(metrics), job.WithConflictRetries(3))

	report, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 3, calls)
	assert.Nil(t, f.job(t, "j1"))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.ConflictRetriesTotal.WithLabelValues(testType)))
}

func TestHandlerCanRescheduleItsJob(t *testing.T) {
	f := newFixture(t, &persistence.Job{ID: "j1", Retries: 3})
	next := f.now.Add(30 * time.Second)
	exec := f.executor(func(ctx context.Context, j *persistence.Job) error {
		return f.store.Update(ctx, func(tx persistence.Tx) error {
			return job.Reschedule(tx, j, next)
		})
	})

	_, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	j := f.job(t, "j1")
	require.NotNil(t, j)
	assert.True(t, j.DueDate.Equal(next))
	assert.Equal(t, 3, j.Retries)
	assert.Empty(t, j.LockOwner)
}

func TestPanickingHandlerFails(t *testing.T) {
	f := newFixture(t, &persistence.Job{ID: "j1", Retries: 1})
	exec := f.executor(func(context.Context, *persistence.Job) error {
		panic("boom")
	})

	_, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	j := f.job(t, "j1")
	require.NotNil(t, j)
	assert.Zero(t, j.Retries)
	assert.Contains(t, j.ExceptionMessage, "recovered from panic")
}

func TestLockedJobsAreSkippedUntilLeaseExpires(t *testing.T) {
	f := newFixture(t, &persistence.Job{ID: "j1", Retries: 3})
	require.NoError(t, f.store.Update(context.Background(), func(tx persistence.Tx) error {
		j, err := tx.Job("j1")
		if err != nil {
			return err
		}
		j.LockOwner = "other"
		j.LockExpiration = f.now.Add(time.Minute)
		return tx.PutJob(j)
	}))
	exec := f.executor(func(context.Context, *persistence.Job) error { return nil })

	report, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Acquired)

	err = exec.ExecuteJob(context.Background(), "j1")
	assert.True(t, process.IsInstanceState(err))

	f.now = f.now.Add(2 * time.Minute)
	report, err = exec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)
}

func TestExecuteJobReturnsHandlerError(t *testing.T) {
	f := newFixture(t, &persistence.Job{ID: "j1", Retries: 3, DueDate: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)})
	boom := errors.New("boom")
	exec := f.executor(func(context.Context, *persistence.Job) error { return boom })

	err := exec.ExecuteJob(context.Background(), "j1")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, f.job(t, "j1").Retries)

	err = exec.ExecuteJob(context.Background(), "missing")
	assert.True(t, process.IsNotFound(err))
	assert.Equal(t, "No job found with id 'missing'", process.Message(err))
}

func TestConcurrencyIsBounded(t *testing.T) {
	var jobs []*persistence.Job
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		jobs = append(jobs, &persistence.Job{ID: id, Retries: 1})
	}
	f := newFixture(t, jobs...)

	var running, peak atomic.Int32
	var mu sync.Mutex
	var seen []string
	exec := f.executor(func(_ context.Context, j *persistence.Job) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		mu.Lock()
		seen = append(seen, j.ID)
		mu.Unlock()
		return nil
	}, job.WithConcurrency(2), job.WithMaxJobsPerAcquisition(6))

	report, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Executed)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e", "f"}, seen)
}

func TestUnregisteredTypesAreNotAcquired(t *testing.T) {
	f := newFixture(t, &persistence.Job{ID: "j1", Type: "other", Retries: 1})
	exec := f.executor(func(context.Context, *persistence.Job) error { return nil })
	report, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Acquired)
	assert.NotNil(t, f.job(t, "j1"))
}

func TestRunPauseResumeStop(t *testing.T) {
	f := newFixture(t)
	var executed atomic.Int32
	exec := f.executor(func(context.Context, *persistence.Job) error {
		executed.Add(1)
		return nil
	}, job.WithPollInterval(5*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- exec.Run(context.Background()) }()

	require.Eventually(t, func() bool { return exec.Status().State == job.StateRunning }, time.Second, 5*time.Millisecond)

	exec.Pause()
	assert.Equal(t, job.StatePaused, exec.Status().State)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.store.Update(context.Background(), func(tx persistence.Tx) error {
		return tx.PutJob(&persistence.Job{ID: "late", Type: testType, Retries: 1, DueDate: f.now})
	}))
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, executed.Load())

	exec.Resume()
	require.Eventually(t, func() bool { return executed.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, exec.Stop(context.Background()))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not return after stop")
	}
	assert.Equal(t, job.StateStopped, exec.Status().State)
}
