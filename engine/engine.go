// Package engine runs process instances over one store. It starts, signals,
// modifies, restarts and deletes instances, and owns the job executor that
// drives async continuations and batches.
//
// Every command follows the same path: the instance is loaded in a read
// transaction, mutated on a clone of its execution tree and written back in
// one write transaction together with the effects recorded on the tree. A
// concurrent write to the same instance surfaces as a transient error.
package engine

import (
	"time"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/batch"
	"github.com/goliatone/go-process/job"
	"github.com/goliatone/go-process/model"
	"github.com/goliatone/go-process/modification"
	"github.com/goliatone/go-process/operation"
	"github.com/goliatone/go-process/persistence"
	"github.com/goliatone/go-process/persistence/memory"
	"github.com/goliatone/go-process/restart"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-process/engine"

// Engine is safe for concurrent use. Commands on the same process instance
// are serialized by the store's optimistic version check.
type Engine struct {
	store       persistence.Store
	definitions *model.Repository
	hooks       operation.Hooks
	interpreter *modification.Interpreter
	assembler   *restart.Assembler
	batches     *batch.Scheduler
	executor    *job.Executor
	logger      process.Logger
	tracer      trace.Tracer
	now         func() time.Time
	ids         process.IDGenerator
	jobRetries  int

	batchOpts []batch.Option
	execOpts  []job.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the backing store. The default is an in-memory store.
func WithStore(store persistence.Store) Option {
	return func(e *Engine) {
		if store != nil {
			e.store = store
		}
	}
}

// WithDefinitions sets the repository process definitions are resolved from.
func WithDefinitions(repo *model.Repository) Option {
	return func(e *Engine) {
		if repo != nil {
			e.definitions = repo
		}
	}
}

// WithHooks sets the listener and io mapping collaborator. Without it the
// engine evaluates the mappings declared on the definitions and runs no
// listeners.
func WithHooks(hooks operation.Hooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

func WithLogger(logger process.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracerProvider sets where command and job spans are sent. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock replaces time.Now for the engine, its batches and its executor.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator sets the generator for execution, job and batch ids.
func WithIDGenerator(gen process.IDGenerator) Option {
	return func(e *Engine) {
		if gen != nil {
			e.ids = gen
		}
	}
}

// WithJobRetries sets the retries of async continuation jobs.
func WithJobRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.jobRetries = n
		}
	}
}

// WithBatchOptions passes options to the batch scheduler. They are applied
// after the engine defaults.
func WithBatchOptions(opts ...batch.Option) Option {
	return func(e *Engine) {
		e.batchOpts = append(e.batchOpts, opts...)
	}
}

// WithExecutorOptions passes options to the job executor. They are applied
// after the engine defaults.
func WithExecutorOptions(opts ...job.Option) Option {
	return func(e *Engine) {
		e.execOpts = append(e.execOpts, opts...)
	}
}

// New builds an engine and registers the batch and async continuation
// handlers on its executor.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:     process.NopLogger{},
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		ids:        process.NewID,
		jobRetries: job.DefaultRetries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.store == nil {
		e.store = memory.New()
	}
	if e.definitions == nil {
		e.definitions = model.NewRepository()
	}
	if e.hooks == nil {
		e.hooks = operation.NewDefinitionHooks(nil)
	}
	e.logger = process.NormalizeLogger(e.logger)

	e.interpreter = modification.NewInterpreter(
		modification.WithHooks(e.hooks),
		modification.WithLogger(e.logger),
	)
	e.assembler = restart.NewAssembler(e.store, e.definitions, e.interpreter,
		restart.WithLogger(e.logger),
		restart.WithIDGenerator(e.ids),
	)

	batchOpts := append([]batch.Option{
		batch.WithModifier(e),
		batch.WithRestarter(e),
		batch.WithLogger(e.logger),
		batch.WithClock(e.now),
		batch.WithIDGenerator(e.ids),
	}, e.batchOpts...)
	e.batches = batch.NewScheduler(e.store, e.definitions, batchOpts...)

	handlers := append(e.batches.Handlers(), job.HandlerFunc{
		JobType: persistence.JobTypeAsyncContinuation,
		Fn:      e.continueTransition,
	})
	execOpts := append([]job.Option{
		job.WithLogger(e.logger),
		job.WithClock(e.now),
		job.WithDefaultRetries(e.jobRetries),
		job.WithHandlers(handlers...),
	}, e.execOpts...)
	e.executor = job.NewExecutor(e.store, execOpts...)
	return e
}

// Store returns the backing store.
func (e *Engine) Store() persistence.Store {
	return e.store
}

// Definitions returns the definition repository.
func (e *Engine) Definitions() *model.Repository {
	return e.definitions
}

// Executor returns the job executor. Run it to process jobs in the
// background or call ExecuteJob to run a single one.
func (e *Engine) Executor() *job.Executor {
	return e.executor
}

// Scheduler returns the batch scheduler.
func (e *Engine) Scheduler() *batch.Scheduler {
	return e.batches
}

// Close releases the store.
func (e *Engine) Close() error {
	return e.store.Close()
}
