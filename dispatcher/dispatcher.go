// Package dispatcher fans activity start and end events out to subscribed
// listeners. A Dispatcher implements operation.Listener, so it plugs into
// operation.NewDefinitionHooks and from there into the engine.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/operation"
	"github.com/goliatone/go-process/runner"
	"go.uber.org/multierr"
)

// Phase selects start or end events.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
)

// AnyActivity subscribes to events of every activity.
const AnyActivity = "*"

// HandlerFunc handles one event. An error aborts the command that produced
// the event.
type HandlerFunc func(ctx context.Context, ev operation.Event) error

// Dispatcher keeps handlers per phase and activity id.
type Dispatcher struct {
	mu        sync.RWMutex
	handlers  map[string][]*subscriber
	exitOnErr bool
	logger    process.Logger
}

type subscriber struct {
	runner *runner.Handler
	fn     HandlerFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithExitOnError stops at the first failing handler instead of running the
// rest and joining their errors.
func WithExitOnError() Option {
	return func(d *Dispatcher) {
		d.exitOnErr = true
	}
}

func WithLogger(logger process.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = process.NormalizeLogger(logger)
	}
}

var _ operation.Listener = (*Dispatcher)(nil)

// New creates an empty dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string][]*subscriber),
		logger:   process.NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func key(phase Phase, activityID string) string {
	return string(phase) + "/" + activityID
}

// Subscribe registers fn for phase events of activityID, or of every
// activity with AnyActivity. Runner options add retries or a timeout per
// call. Handlers run in subscription order, specific ones before
// AnyActivity ones.
func (d *Dispatcher) Subscribe(phase Phase, activityID string, fn HandlerFunc, runnerOpts ...runner.Option) Subscription {
	if activityID == "" {
		activityID = AnyActivity
	}
	name := fmt.Sprintf("listener %s %s", phase, activityID)
	sub := &subscriber{
		runner: runner.NewHandler(append([]runner.Option{runner.WithName(name), runner.WithLogger(d.logger)}, runnerOpts...)...),
		fn:     fn,
	}
	k := key(phase, activityID)

	d.mu.Lock()
	d.handlers[k] = append(d.handlers[k], sub)
	d.mu.Unlock()

	return &subscription{dispatcher: d, key: k, sub: sub}
}

// OnStartOf subscribes fn to start events of activityID.
func (d *Dispatcher) OnStartOf(activityID string, fn HandlerFunc, runnerOpts ...runner.Option) Subscription {
	return d.Subscribe(PhaseStart, activityID, fn, runnerOpts...)
}

// OnEndOf subscribes fn to end events of activityID.
func (d *Dispatcher) OnEndOf(activityID string, fn HandlerFunc, runnerOpts ...runner.Option) Subscription {
	return d.Subscribe(PhaseEnd, activityID, fn, runnerOpts...)
}

func (d *Dispatcher) OnStart(ctx context.Context, ev operation.Event) error {
	return d.dispatch(ctx, PhaseStart, ev)
}

func (d *Dispatcher) OnEnd(ctx context.Context, ev operation.Event) error {
	return d.dispatch(ctx, PhaseEnd, ev)
}

// Handlers returns how many handlers receive phase events of activityID.
func (d *Dispatcher) Handlers(phase Phase, activityID string) int {
	return len(d.subscribers(phase, activityID))
}

func (d *Dispatcher) subscribers(phase Phase, activityID string) []*subscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()
	specific := d.handlers[key(phase, activityID)]
	var wildcard []*subscriber
	if activityID != AnyActivity {
		wildcard = d.handlers[key(phase, AnyActivity)]
	}
	out := make([]*subscriber, 0, len(specific)+len(wildcard))
	out = append(out, specific...)
	return append(out, wildcard...)
}

func (d *Dispatcher) dispatch(ctx context.Context, phase Phase, ev operation.Event) error {
	subs := d.subscribers(phase, ev.ActivityID)
	if len(subs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var errs error
	for _, sub := range subs {
		err := sub.runner.Run(ctx, func(ctx context.Context) error {
			return sub.fn(ctx, ev)
		})
		if err == nil {
			continue
		}
		d.logger.WithContext(ctx).Debug("%s listener of %s failed: %v", phase, ev.ActivityID, err)
		if d.exitOnErr {
			return err
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}
