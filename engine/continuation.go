package engine

import (
	"context"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/instance"
	"github.com/goliatone/go-process/operation"
	"github.com/goliatone/go-process/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// continueTransition runs an async continuation job: the pending transition
// instance enters its activity and the process continues from there. Jobs
// whose instance or transition is gone complete without effect.
func (e *Engine) continueTransition(ctx context.Context, j *persistence.Job) (err error) {
	ctx, span := e.startSpan(ctx, "engine.AsyncContinuation",
		attribute.String(attrJobID, j.ID),
		attribute.String(attrInstanceID, j.ProcessInstanceID),
	)
	defer func() { endSpan(span, err) }()

	logger := process.WithFields(e.logger.WithContext(ctx), map[string]any{
		"job_id":              j.ID,
		"process_instance_id": j.ProcessInstanceID,
	})
	l, err := e.find(ctx, j.ProcessInstanceID)
	if process.IsNotFound(err) {
		logger.Debug("process instance gone, dropping continuation")
		return nil
	}
	if err != nil {
		return err
	}

	if _, ok := instance.From(l.tree).FindTransition(j.TransitionInstanceID); !ok {
		logger.Debug("transition %s gone, dropping continuation", j.TransitionInstanceID)
		return nil
	}

	work := l.tree.Clone()
	session := e.interpreter.NewSession(ctx, work, l.def, operation.Flags{})
	if err := session.ContinueTransition(j.TransitionInstanceID); err != nil {
		return err
	}
	ended, err := session.Finish()
	if err != nil {
		return err
	}
	if err := e.commit(ctx, l.change(work, ended)); err != nil {
		return err
	}
	logger.Debug("continued transition %s into %s", j.TransitionInstanceID, j.ActivityID)
	return nil
}
