package cron

import "sync"

// ScheduleStatus reports the state of a schedule handle.
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusRunning   ScheduleStatus = "running"
	ScheduleStatusIdle      ScheduleStatus = "idle"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusCanceled  ScheduleStatus = "canceled"
	ScheduleStatusFailed    ScheduleStatus = "failed"
	ScheduleStatusStopped   ScheduleStatus = "stopped"
)

// Handle controls one schedule. A failed cron run leaves the handle active;
// only one-off schedules end in ScheduleStatusFailed.
type Handle interface {
	ID() int64
	Name() string
	Cancel()
	Status() ScheduleStatus
	Err() error
	Done() <-chan struct{}
}

type cronSubscription struct {
	scheduler *Scheduler
	id        int64
	name      string
	entryID   int
	done      chan struct{}

	mu     sync.RWMutex
	status ScheduleStatus
	err    error
	once   sync.Once
}

func (s *cronSubscription) ID() int64 { return s.id }

func (s *cronSubscription) Name() string { return s.name }

func (s *cronSubscription) Cancel() {
	s.once.Do(func() {
		s.scheduler.removeHandle(s.id)
		s.setTerminal(ScheduleStatusCanceled, nil)
	})
}

func (s *cronSubscription) Status() ScheduleStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *cronSubscription) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *cronSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *cronSubscription) setStatus(status ScheduleStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isTerminalStatus(s.status) {
		return
	}
	s.status = status
	s.err = err
}

func (s *cronSubscription) setTerminal(status ScheduleStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isTerminalStatus(s.status) {
		return
	}
	s.status = status
	s.err = err
	close(s.done)
}

func isTerminalStatus(status ScheduleStatus) bool {
	switch status {
	case ScheduleStatusCompleted, ScheduleStatusCanceled, ScheduleStatusFailed, ScheduleStatusStopped:
		return true
	default:
		return false
	}
}
