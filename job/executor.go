package job

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/persistence"
	"github.com/goliatone/go-process/runner"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// State tracks the lifecycle of the executor loop.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Status captures the latest runtime state and cycle counters.
type Status struct {
	WorkerID            string
	State               State
	LastRunAt           time.Time
	LastSuccessAt       time.Time
	LastError           string
	ConsecutiveFailures int
	LastAcquired        int
	LastExecuted        int
	LastFailed          int
}

// Result describes one job execution.
type Result struct {
	JobID   string
	JobType string
	BatchID string
	Outcome Outcome
	Retries int
	Error   string
}

// Report summarizes one acquisition cycle.
type Report struct {
	WorkerID   string
	StartedAt  time.Time
	FinishedAt time.Time
	Acquired   int
	Executed   int
	Failed     int
	Results    []Result
}

// Executor leases due jobs and dispatches them to handlers by type.
type Executor struct {
	store           persistence.Store
	handlers        map[string]Handler
	workerID        string
	maxJobs         int
	lockTime        time.Duration
	concurrency     int
	pollInterval    time.Duration
	backoff         runner.RetryStrategy
	conflictRetries int
	defaultRetries  int
	logger          process.Logger
	metrics         Metrics
	now             func() time.Time

	sem     *semaphore.Weighted
	control *runner.Control

	stateMu sync.RWMutex
	status  Status

	runMu     sync.Mutex
	runCancel context.CancelFunc
	runDone   chan struct{}
}

// NewExecutor builds an executor over store.
func NewExecutor(store persistence.Store, opts ...Option) *Executor {
	host, _ := os.Hostname()
	e := &Executor{
		store:           store,
		handlers:        make(map[string]Handler),
		workerID:        fmt.Sprintf("%s-%d", host, os.Getpid()),
		maxJobs:         DefaultMaxJobsPerAcquisition,
		lockTime:        DefaultLockTime,
		concurrency:     DefaultConcurrency,
		pollInterval:    DefaultPollInterval,
		backoff:         runner.ExponentialBackoffStrategy{Base: 10 * time.Second, Factor: 2, Max: 10 * time.Minute},
		conflictRetries: DefaultConflictRetries,
		defaultRetries:  DefaultRetries,
		logger:          process.NopLogger{},
		metrics:         NoopMetrics(),
		now:             time.Now,
		control:         runner.NewControl(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.sem = semaphore.NewWeighted(int64(e.concurrency))
	e.status = Status{WorkerID: e.workerID, State: StateIdle}
	return e
}

// Register adds or replaces the handler for its job type.
func (e *Executor) Register(h Handler) {
	if h == nil {
		return
	}
	e.handlers[h.Type()] = h
}

// WorkerID is the lock owner used for leases.
func (e *Executor) WorkerID() string {
	return e.workerID
}

// Run polls for jobs until ctx is done or Stop is called.
func (e *Executor) Run(ctx context.Context) error {
	e.runMu.Lock()
	if e.runCancel != nil {
		e.runMu.Unlock()
		return process.InstanceStatef("job executor already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.runCancel = cancel
	e.runDone = done
	e.runMu.Unlock()

	logger := process.WithFields(e.logger.WithContext(runCtx), map[string]any{"worker_id": e.workerID})
	e.setState(StateRunning)
	logger.Info("job executor started")

	defer func() {
		e.setState(StateStopped)
		logger.Info("job executor stopped")
		e.runMu.Lock()
		e.runCancel = nil
		e.runDone = nil
		close(done)
		e.runMu.Unlock()
	}()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		if err := e.control.Wait(runCtx); err != nil {
			return nil
		}
		report, err := e.RunOnce(runCtx)
		if err != nil && runCtx.Err() == nil {
			logger.Warn("job acquisition cycle failed: %v", err)
		}
		// a full acquisition suggests more work is due
		if err == nil && report.Acquired >= e.maxJobs {
			continue
		}
		select {
		case <-runCtx.Done():
			return nil
		case <-e.control.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce acquires up to the configured number of due jobs and executes them.
func (e *Executor) RunOnce(ctx context.Context) (Report, error) {
	report := Report{WorkerID: e.workerID, StartedAt: e.now().UTC()}

	jobs, err := e.acquire(ctx)
	if err != nil {
		report.FinishedAt = e.now().UTC()
		e.recordCycle(report, err)
		return report, err
	}
	report.Acquired = len(jobs)
	e.metrics.RecordAcquired(len(jobs))

	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		if err := e.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer e.sem.Release(1)
			res, err := e.execute(gctx, j)
			results[i] = res.Result
			return err
		})
	}
	err = g.Wait()

	for _, res := range results {
		if res.JobID == "" {
			continue
		}
		report.Results = append(report.Results, res)
		switch res.Outcome {
		case OutcomeSucceeded:
			report.Executed++
		case OutcomeRetry, OutcomeIncident:
			report.Failed++
		}
	}
	report.FinishedAt = e.now().UTC()
	e.recordCycle(report, err)
	return report, err
}

// ExecuteJob runs one job now regardless of its due date and returns the
// handler error, after recording the failure on the job.
func (e *Executor) ExecuteJob(ctx context.Context, id string) error {
	var leased *persistence.Job
	err := e.store.Update(ctx, func(tx persistence.Tx) error {
		j, err := tx.Job(id)
		if process.IsNotFound(err) {
			return process.NotFoundf("No job found with id '%s'", id)
		}
		if err != nil {
			return err
		}
		now := e.now().UTC()
		if j.Locked(now) && j.LockOwner != e.workerID {
			return process.InstanceStatef("Job '%s' is locked by '%s'", id, j.LockOwner)
		}
		e.lease(j, now)
		leased = j
		return tx.PutJob(j)
	})
	if err != nil {
		return err
	}
	res, storeErr := e.execute(ctx, leased)
	if storeErr != nil {
		return storeErr
	}
	if res.Outcome == OutcomeRetry || res.Outcome == OutcomeIncident {
		return res.cause
	}
	return nil
}

// Pause stops new acquisitions until Resume. Running jobs finish.
func (e *Executor) Pause() {
	e.control.Pause()
	e.setState(StatePaused)
}

func (e *Executor) Resume() {
	e.control.Resume()
	e.runMu.Lock()
	running := e.runCancel != nil
	e.runMu.Unlock()
	if running {
		e.setState(StateRunning)
	} else {
		e.setState(StateIdle)
	}
}

// Stop ends Run and waits for it to return or ctx to be done.
func (e *Executor) Stop(ctx context.Context) error {
	e.runMu.Lock()
	cancel := e.runCancel
	done := e.runDone
	e.runMu.Unlock()

	e.control.Stop(nil)
	if cancel == nil {
		e.setState(StateStopped)
		return nil
	}
	e.setState(StateStopping)
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a copy of the latest runtime status.
func (e *Executor) Status() Status {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.status
}

func (e *Executor) acquire(ctx context.Context) ([]*persistence.Job, error) {
	if err := e.control.Wait(ctx); err != nil {
		return nil, err
	}
	var out []*persistence.Job
	err := e.store.Update(ctx, func(tx persistence.Tx) error {
		now := e.now().UTC()
		due, err := tx.Jobs(persistence.JobQuery{Acquirable: true, Now: now})
		if err != nil {
			return err
		}
		out = out[:0]
		for _, j := range due {
			if len(out) >= e.maxJobs {
				break
			}
			if _, ok := e.handlers[j.Type]; !ok {
				continue
			}
			e.lease(j, now)
			if err := tx.PutJob(j); err != nil {
				return err
			}
			out = append(out, j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Executor) lease(j *persistence.Job, now time.Time) {
	j.LockOwner = e.workerID
	j.LockExpiration = now.Add(e.lockTime)
}

type execResult struct {
	Result
	cause error
}

// execute runs the handler and settles the job. The returned error is only
// set when the store could not record the outcome.
func (e *Executor) execute(ctx context.Context, j *persistence.Job) (execResult, error) {
	res := execResult{Result: Result{JobID: j.ID, JobType: j.Type, BatchID: j.BatchID}}
	logger := process.WithFields(e.logger.WithContext(ctx), map[string]any{
		"job_id":   j.ID,
		"job_type": j.Type,
		"batch_id": j.BatchID,
		"attempt":  e.attempt(j) + 1,
	})

	h, ok := e.handlers[j.Type]
	if !ok {
		res.Outcome = OutcomeSkipped
		logger.Warn("no handler registered for job type")
		return res, e.release(ctx, j)
	}

	started := time.Now()
	r := runner.NewHandler(
		runner.WithName("job "+j.Type),
		runner.WithMaxRetries(e.conflictRetries),
		runner.WithRetryable(process.IsTransient),
		runner.WithLogger(logger),
		runner.WithRetryHandler(func(int, error) { e.metrics.RecordConflictRetry(j.Type) }),
	)
	cause := r.Run(ctx, func(ctx context.Context) error {
		return h.Execute(ctx, j)
	})
	e.metrics.RecordDuration(j.Type, time.Since(started))

	if cause == nil {
		res.Outcome = OutcomeSucceeded
		logger.Debug("job executed")
		e.metrics.RecordOutcome(j.Type, OutcomeSucceeded)
		return res, e.complete(ctx, j)
	}

	res.cause = cause
	res.Error = process.Message(cause)
	settled, err := e.fail(ctx, j, cause)
	if err != nil {
		return res, err
	}
	if settled == nil {
		res.Outcome = OutcomeSkipped
		return res, nil
	}
	res.Retries = settled.Retries
	if settled.Retries > 0 {
		res.Outcome = OutcomeRetry
		logger.Warn("job failed, %d retries left, due %s: %v", settled.Retries, settled.DueDate.Format(time.RFC3339), cause)
	} else {
		res.Outcome = OutcomeIncident
		logger.Error("job failed, incident created: %v", cause)
	}
	e.metrics.RecordOutcome(j.Type, res.Outcome)
	return res, nil
}

// complete deletes the job unless the handler already released or removed it.
func (e *Executor) complete(ctx context.Context, j *persistence.Job) error {
	return e.store.Update(ctx, func(tx persistence.Tx) error {
		current, err := tx.Job(j.ID)
		if process.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if current.LockOwner != e.workerID {
			return nil
		}
		return tx.DeleteJob(j.ID)
	})
}

func (e *Executor) release(ctx context.Context, j *persistence.Job) error {
	return e.store.Update(ctx, func(tx persistence.Tx) error {
		current, err := tx.Job(j.ID)
		if process.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		current.LockOwner = ""
		current.LockExpiration = time.Time{}
		return tx.PutJob(current)
	})
}

// fail decrements the retries and reschedules the job, or raises an incident
// once none are left. Validation failures exhaust the retries at once. A nil
// job means it was removed while running.
func (e *Executor) fail(ctx context.Context, j *persistence.Job, cause error) (*persistence.Job, error) {
	var settled *persistence.Job
	err := e.store.Update(ctx, func(tx persistence.Tx) error {
		current, err := tx.Job(j.ID)
		if process.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		now := e.now().UTC()
		attempt := e.attempt(current)
		if process.IsValidation(cause) {
			current.Retries = 0
		} else if current.Retries > 0 {
			current.Retries--
		}
		current.ExceptionMessage = process.Message(cause)
		current.LockOwner = ""
		current.LockExpiration = time.Time{}
		if current.Retries > 0 {
			current.DueDate = now.Add(e.backoff.SleepDuration(attempt, cause))
		} else {
			if err := raiseIncident(tx, current, now); err != nil {
				return err
			}
		}
		settled = current
		return tx.PutJob(current)
	})
	return settled, err
}

func raiseIncident(tx persistence.Tx, j *persistence.Job, now time.Time) error {
	inc := &persistence.Incident{
		ID:                process.NewID(),
		Type:              persistence.IncidentTypeFailedJob,
		JobID:             j.ID,
		JobDefinitionID:   j.JobDefinitionID,
		BatchID:           j.BatchID,
		ProcessInstanceID: j.ProcessInstanceID,
		Message:           j.ExceptionMessage,
		CreatedAt:         now,
	}
	if err := tx.PutIncident(inc); err != nil {
		return err
	}
	historic := *inc
	return tx.PutHistoricIncident(&historic)
}

func (e *Executor) attempt(j *persistence.Job) int {
	attempt := e.defaultRetries - j.Retries
	if attempt < 0 {
		return 0
	}
	return attempt
}

func (e *Executor) recordCycle(report Report, cycleErr error) {
	now := e.now().UTC()
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	status := e.status
	status.LastRunAt = now
	status.LastAcquired = report.Acquired
	status.LastExecuted = report.Executed
	status.LastFailed = report.Failed
	if cycleErr == nil {
		status.LastSuccessAt = now
		status.LastError = ""
		status.ConsecutiveFailures = 0
	} else {
		status.LastError = cycleErr.Error()
		status.ConsecutiveFailures++
	}
	e.status = status
}

func (e *Executor) setState(state State) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.status.State = state
}
