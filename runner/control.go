package runner

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is the cause reported by a Control stopped without one.
var ErrStopped = errors.New("execution stopped")

// Control lets a long running loop be paused, resumed and stopped
// cooperatively. The zero value is not usable; call NewControl.
type Control struct {
	mu sync.RWMutex

	paused   bool
	resumeCh chan struct{}
	doneCh   chan struct{}
	cause    error
}

func NewControl() *Control {
	return &Control{
		resumeCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Wait blocks while the control is paused. It returns the stop cause once
// stopped, or the context error.
func (c *Control) Wait(ctx context.Context) error {
	for {
		c.mu.RLock()
		paused := c.paused
		resume := c.resumeCh
		done := c.doneCh
		cause := c.cause
		c.mu.RUnlock()

		select {
		case <-done:
			return cause
		default:
		}
		if !paused {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		case <-resume:
		}
	}
}

func (c *Control) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doneCh
}

func (c *Control) Cause() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cause
}

func (c *Control) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

func (c *Control) Stopped() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Pause makes future Wait calls block until Resume or Stop.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || c.isDone() {
		return
	}
	c.paused = true
	c.resumeCh = make(chan struct{})
}

func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.resumeCh)
}

// Stop marks the control done. Only the first call records its cause.
func (c *Control) Stop(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isDone() {
		return
	}
	if cause == nil {
		cause = ErrStopped
	}
	c.cause = cause
	if c.paused {
		c.paused = false
		close(c.resumeCh)
	}
	close(c.doneCh)
}

func (c *Control) isDone() bool {
	select {
	case <-c.doneCh:
		return true
	default:
		return false
	}
}
