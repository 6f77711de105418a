// Package cron runs recurring and one-off background tasks such as the
// scheduled history cleanup.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/runner"
	rcron "github.com/robfig/cron/v3"
)

// Task is the work a schedule runs.
type Task func(ctx context.Context) error

// Scheduler wraps robfig/cron with cancelable handles. Every run goes
// through a runner.Handler built from its Schedule.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	parser       Parser
	logger       process.Logger
	errorHandler func(error)

	ctx    context.Context
	cancel context.CancelFunc

	nextHandleID int64
	handles      map[int64]*cronSubscription
}

// NewScheduler creates a scheduler. Call Start to begin running cron schedules;
// one-off schedules run regardless.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		location: time.Local,
		parser:   DefaultParser,
		logger:   process.NopLogger{},
		handles:  make(map[int64]*cronSubscription),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.errorHandler == nil {
		logger := s.logger
		s.errorHandler = func(err error) {
			logger.Error("scheduled task failed: %v", err)
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = rcron.New(s.build()...)
	return s
}

// ScheduleCron schedules task by cron expression.
func (s *Scheduler) ScheduleCron(sched Schedule, task Task) (Handle, error) {
	if sched.Expression == "" {
		return nil, process.Validationf("cron expression cannot be empty")
	}
	if task == nil {
		return nil, process.Validationf("scheduled task cannot be nil")
	}
	run := s.runnable(sched, task)

	sub := s.newHandle(sched.Name)
	job := rcron.FuncJob(func() {
		if isTerminalStatus(sub.Status()) {
			return
		}
		sub.setStatus(ScheduleStatusRunning, nil)
		err := run()
		sub.setStatus(ScheduleStatusIdle, err)
		if err != nil {
			s.errorHandler(err)
		}
	})

	entryID, err := s.cron.AddJob(sched.Expression, rcron.NewChain(rcron.SkipIfStillRunning(s.cronLogger())).Then(job))
	if err != nil {
		return nil, process.NewError(process.ErrValidation, fmt.Sprintf("invalid cron expression '%s'", sched.Expression), err, nil)
	}
	sub.entryID = int(entryID)
	s.storeHandle(sub)
	return sub, nil
}

// ScheduleAfter runs task once after delay.
func (s *Scheduler) ScheduleAfter(delay time.Duration, sched Schedule, task Task) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(time.Now().Add(delay), sched, task)
}

// ScheduleAt runs task once at the given time.
func (s *Scheduler) ScheduleAt(at time.Time, sched Schedule, task Task) (Handle, error) {
	if task == nil {
		return nil, process.Validationf("scheduled task cannot be nil")
	}
	run := s.runnable(sched, task)

	sub := s.newHandle(sched.Name)
	s.storeHandle(sub)

	go func() {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-sub.Done():
			return
		}

		if isTerminalStatus(sub.Status()) {
			return
		}
		sub.setStatus(ScheduleStatusRunning, nil)
		defer s.removeStoredHandle(sub.id)
		if err := run(); err != nil {
			s.errorHandler(err)
			sub.setTerminal(ScheduleStatusFailed, err)
			return
		}
		sub.setTerminal(ScheduleStatusCompleted, nil)
	}()

	return sub, nil
}

// Entries lists the next run of every active cron schedule.
func (s *Scheduler) Entries() map[string]time.Time {
	s.mu.Lock()
	names := make(map[int]string, len(s.handles))
	for _, h := range s.handles {
		if h.entryID > 0 {
			names[h.entryID] = h.name
		}
	}
	s.mu.Unlock()

	out := make(map[string]time.Time, len(names))
	for _, entry := range s.cron.Entries() {
		if name, ok := names[int(entry.ID)]; ok {
			out[name] = entry.Next
		}
	}
	return out
}

// Start begins executing cron schedules.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop halts cron schedules, waits for running ones up to ctx, and marks
// every active handle stopped.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	s.cancel()

	s.mu.Lock()
	handles := make([]*cronSubscription, 0, len(s.handles))
	for _, handle := range s.handles {
		handles = append(handles, handle)
	}
	s.handles = make(map[int64]*cronSubscription)
	s.mu.Unlock()

	for _, handle := range handles {
		if handle.entryID > 0 {
			s.cron.Remove(rcron.EntryID(handle.entryID))
		}
		if !isTerminalStatus(handle.Status()) {
			handle.setTerminal(ScheduleStatusStopped, nil)
		}
	}

	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runnable(sched Schedule, task Task) func() error {
	name := sched.Name
	if name == "" {
		name = "scheduled task"
	}
	h := runner.NewHandler(
		runner.WithName(name),
		runner.WithMaxRetries(sched.MaxRetries),
		runner.WithTimeout(sched.Timeout),
		runner.WithLogger(s.logger),
	)
	return func() error {
		return h.Run(s.ctx, func(ctx context.Context) error {
			return task(ctx)
		})
	}
}

func (s *Scheduler) removeHandle(id int64) {
	handle := s.removeStoredHandle(id)
	if handle != nil && handle.entryID > 0 {
		s.cron.Remove(rcron.EntryID(handle.entryID))
	}
}

func (s *Scheduler) removeStoredHandle(id int64) *cronSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := s.handles[id]
	delete(s.handles, id)
	return handle
}

func (s *Scheduler) storeHandle(handle *cronSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[handle.id] = handle
}

func (s *Scheduler) newHandle(name string) *cronSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandleID++
	return &cronSubscription{
		scheduler: s,
		id:        s.nextHandleID,
		name:      name,
		status:    ScheduleStatusScheduled,
		done:      make(chan struct{}),
	}
}

func (s *Scheduler) cronLogger() rcron.Logger {
	return loggerAdapter{logger: s.logger}
}

// build converts scheduler options to rcron options.
func (s *Scheduler) build() []rcron.Option {
	opts := []rcron.Option{
		rcron.WithLogger(s.cronLogger()),
		rcron.WithChain(rcron.Recover(s.cronLogger())),
	}
	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}
	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithSeconds())
	}
	return opts
}
