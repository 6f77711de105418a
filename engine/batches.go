package engine

import (
	"context"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/batch"
	"github.com/goliatone/go-process/persistence"
	"github.com/goliatone/go-process/restart"
	"go.opentelemetry.io/otel/attribute"
)

// RestartRequest selects historic instances to restart synchronously. The
// targets are the union of InstanceIDs and HistoricQuery.
type RestartRequest struct {
	DefinitionID  string
	InstanceIDs   []string
	HistoricQuery *persistence.HistoricInstanceQuery
	Options       restart.Options
}

// ExecuteModificationAsync creates a modification batch.
func (e *Engine) ExecuteModificationAsync(ctx context.Context, sub batch.Submission) (_ *persistence.Batch, err error) {
	ctx, span := e.startSpan(ctx, "engine.ExecuteModificationAsync", attribute.String(attrDefinitionID, sub.ProcessDefinitionID))
	defer func() { endSpan(span, err) }()

	sub.Type = batch.TypeModification
	b, err := e.batches.Submit(ctx, sub)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(attrBatchID, b.ID))
	return b, nil
}

// RestartAsync creates a restart batch.
func (e *Engine) RestartAsync(ctx context.Context, sub batch.Submission) (_ *persistence.Batch, err error) {
	ctx, span := e.startSpan(ctx, "engine.RestartAsync", attribute.String(attrDefinitionID, sub.ProcessDefinitionID))
	defer func() { endSpan(span, err) }()

	sub.Type = batch.TypeRestart
	b, err := e.batches.Submit(ctx, sub)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(attrBatchID, b.ID))
	return b, nil
}

// Restart restarts every selected historic instance in order and returns
// the ids of the new instances. Each restart commits on its own; the first
// failure stops the run and the restarts before it stay.
func (e *Engine) Restart(ctx context.Context, req RestartRequest) (_ []string, err error) {
	ctx, span := e.startSpan(ctx, "engine.Restart", attribute.String(attrDefinitionID, req.DefinitionID))
	defer func() { endSpan(span, err) }()

	if req.DefinitionID == "" {
		return nil, process.Validationf("processDefinitionId is null")
	}
	if err := restart.ValidateInstructions(req.Options.Instructions); err != nil {
		return nil, err
	}
	targets, err := e.restartTargets(ctx, req)
	if err != nil {
		return nil, err
	}

	created := make([]string, 0, len(targets))
	for _, id := range targets {
		pi, err := e.restart(ctx, req.DefinitionID, id, req.Options)
		if err != nil {
			return created, err
		}
		created = append(created, pi.ID)
	}
	return created, nil
}

func (e *Engine) restartTargets(ctx context.Context, req RestartRequest) ([]string, error) {
	for _, id := range req.InstanceIDs {
		if id == "" {
			return nil, process.Validationf("processInstanceIds contains null value")
		}
	}
	ids := append([]string(nil), req.InstanceIDs...)
	if req.HistoricQuery != nil {
		err := e.store.View(ctx, func(tx persistence.Tx) error {
			found, err := tx.HistoricInstances(*req.HistoricQuery)
			for _, h := range found {
				ids = append(ids, h.ID)
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	ids = unique(ids)
	if len(ids) == 0 {
		return nil, process.Validationf("processInstanceIds is empty")
	}
	return ids, nil
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// RestartInstance restarts one historic instance. Restart batches call it
// for every instance of an execution job.
func (e *Engine) RestartInstance(ctx context.Context, definitionID, historicInstanceID string, opts restart.Options) error {
	_, err := e.restart(ctx, definitionID, historicInstanceID, opts)
	return err
}

func (e *Engine) restart(ctx context.Context, definitionID, historicInstanceID string, opts restart.Options) (*ProcessInstance, error) {
	res, err := e.assembler.Restart(ctx, definitionID, historicInstanceID, opts)
	if err != nil {
		return nil, err
	}
	def, err := e.definitions.Get(definitionID)
	if err != nil {
		return nil, err
	}
	start := &startInfo{
		activityID:    startActivity(opts.Instructions),
		restartedFrom: res.Source.ID,
	}
	if res.InitialVariables {
		start.initial = res.Variables
	}
	err = e.commit(ctx, change{tree: res.Tree, def: def, ended: res.Ended, start: start})
	if err != nil {
		return nil, err
	}
	e.logger.WithContext(ctx).Info("historic instance %s restarted as %s", historicInstanceID, res.Tree.ProcessInstanceID)
	return describe(res.Tree, res.Ended), nil
}

// Batch returns a running batch.
func (e *Engine) Batch(ctx context.Context, id string) (*persistence.Batch, error) {
	return e.batches.Get(ctx, id)
}

// Batches lists running batches.
func (e *Engine) Batches(ctx context.Context) ([]*persistence.Batch, error) {
	return e.batches.List(ctx)
}

func (e *Engine) BatchStatistics(ctx context.Context, id string) (*batch.Statistics, error) {
	return e.batches.Statistics(ctx, id)
}

// HistoricBatch returns the history of a running, completed or deleted
// batch.
func (e *Engine) HistoricBatch(ctx context.Context, id string) (*persistence.HistoricBatch, error) {
	var out *persistence.HistoricBatch
	err := e.store.View(ctx, func(tx persistence.Tx) error {
		var err error
		out, err = tx.HistoricBatch(id)
		return err
	})
	return out, err
}

// GetSeedJob returns the seed job of a batch, nil once seeding finished.
func (e *Engine) GetSeedJob(ctx context.Context, batchID string) (*persistence.Job, error) {
	return e.batches.SeedJob(ctx, batchID)
}

// GetExecutionJobs returns the execution jobs of a batch still pending or
// failed.
func (e *Engine) GetExecutionJobs(ctx context.Context, batchID string) ([]*persistence.Job, error) {
	return e.batches.ExecutionJobs(ctx, batchID)
}

// GetMonitorJob returns the monitor job of a batch, nil before seeding
// finished and after completion.
func (e *Engine) GetMonitorJob(ctx context.Context, batchID string) (*persistence.Job, error) {
	return e.batches.MonitorJob(ctx, batchID)
}

// DeleteBatch removes a batch and its pending jobs. With cascade its
// history goes too.
func (e *Engine) DeleteBatch(ctx context.Context, id string, cascade bool) (err error) {
	ctx, span := e.startSpan(ctx, "engine.DeleteBatch", attribute.String(attrBatchID, id), attribute.Bool("process.cascade", cascade))
	defer func() { endSpan(span, err) }()
	return e.batches.Delete(ctx, id, cascade)
}

// ExecuteJob runs one job now, whatever its due date.
func (e *Engine) ExecuteJob(ctx context.Context, id string) (err error) {
	ctx, span := e.startSpan(ctx, "engine.ExecuteJob", attribute.String(attrJobID, id))
	defer func() { endSpan(span, err) }()
	return e.executor.ExecuteJob(ctx, id)
}
