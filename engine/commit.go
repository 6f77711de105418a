package engine

import (
	"context"
	"time"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/execution"
	"github.com/goliatone/go-process/model"
	"github.com/goliatone/go-process/persistence"
)

// loaded is a running instance read in one transaction.
type loaded struct {
	record *persistence.InstanceRecord
	tree   *execution.Tree
	def    *model.Definition
}

// change is a mutated tree ready to be written back.
type change struct {
	tree  *execution.Tree
	def   *model.Definition
	ended bool
	// version is the stored version the change was computed from. Zero
	// means the instance is new.
	version   int
	startedAt time.Time
	// start is set for new instances and seeds their history.
	start        *startInfo
	deleteReason string
}

type startInfo struct {
	activityID    string
	restartedFrom string
	// initial holds the variables passed at start. They are flagged as
	// initial in the history.
	initial map[string]any
}

// find reads a running instance. A missing instance is NotFound.
func (e *Engine) find(ctx context.Context, id string) (*loaded, error) {
	var rec *persistence.InstanceRecord
	err := e.store.View(ctx, func(tx persistence.Tx) error {
		var err error
		rec, err = tx.Instance(id)
		return err
	})
	if process.IsNotFound(err) {
		return nil, process.NotFoundf("Process instance '%s' does not exist", id)
	}
	if err != nil {
		return nil, err
	}
	tree, err := execution.FromSnapshot(rec.Tree, execution.WithIDGenerator(e.ids))
	if err != nil {
		return nil, err
	}
	def, err := e.definitions.Get(rec.DefinitionID)
	if err != nil {
		return nil, process.NewError(process.ErrInternal,
			"process definition '"+rec.DefinitionID+"' of instance '"+id+"' is not deployed", err, nil)
	}
	return &loaded{record: rec, tree: tree, def: def}, nil
}

// load reads an instance a command is about to change. A missing instance
// is an instance state error for commands.
func (e *Engine) load(ctx context.Context, id string) (*loaded, error) {
	if id == "" {
		return nil, process.Validationf("processInstanceId is null")
	}
	l, err := e.find(ctx, id)
	if process.IsNotFound(err) {
		return nil, process.InstanceStatef("Process instance '%s' does not exist", id)
	}
	return l, err
}

func (l *loaded) change(tree *execution.Tree, ended bool) change {
	return change{
		tree:      tree,
		def:       l.def,
		ended:     ended,
		version:   l.record.Version,
		startedAt: l.record.StartedAt,
	}
}

// commit writes c and applies its effects in one transaction.
func (e *Engine) commit(ctx context.Context, c change) error {
	now := e.now().UTC()
	return e.store.Update(ctx, func(tx persistence.Tx) error {
		if err := e.saveInstance(tx, c, now); err != nil {
			return err
		}
		if c.start != nil {
			if err := tx.PutHistoricInstance(e.historicInstance(c, now)); err != nil {
				return err
			}
		}
		return e.applyEffects(tx, c, now)
	})
}

func (e *Engine) saveInstance(tx persistence.Tx, c change, now time.Time) error {
	id := c.tree.ProcessInstanceID
	if !c.ended {
		return tx.SaveInstance(e.instanceRecord(c, now), c.version)
	}
	if c.version == 0 {
		return nil
	}
	current, err := tx.Instance(id)
	if process.IsNotFound(err) {
		return process.InstanceStatef("Process instance '%s' does not exist", id)
	}
	if err != nil {
		return err
	}
	if current.Version != c.version {
		return process.Transient("version conflict", nil, map[string]any{
			"process_instance_id": id,
			"expected_version":    c.version,
			"current_version":     current.Version,
		})
	}
	return tx.DeleteInstance(id)
}

func (e *Engine) instanceRecord(c change, now time.Time) *persistence.InstanceRecord {
	started := c.startedAt
	if started.IsZero() {
		started = now
	}
	return &persistence.InstanceRecord{
		ID:                   c.tree.ProcessInstanceID,
		DefinitionID:         c.def.ID,
		DefinitionKey:        c.def.Key,
		BusinessKey:          c.tree.BusinessKey,
		TenantID:             c.tree.TenantID,
		RootActivityInstance: c.tree.Root().ScopeInstanceID,
		Tree:                 c.tree.Snapshot(),
		StartedAt:            started,
	}
}

func (e *Engine) historicInstance(c change, now time.Time) *persistence.HistoricInstance {
	return &persistence.HistoricInstance{
		ID:                   c.tree.ProcessInstanceID,
		DefinitionID:         c.def.ID,
		DefinitionKey:        c.def.Key,
		BusinessKey:          c.tree.BusinessKey,
		TenantID:             c.tree.TenantID,
		RootActivityInstance: c.tree.Root().ScopeInstanceID,
		StartActivityID:      c.start.activityID,
		State:                persistence.StateActive,
		RestartedFrom:        c.start.restartedFrom,
		StartTime:            now,
	}
}

// applyEffects turns the effects recorded on the tree into store writes, in
// the order they were recorded.
func (e *Engine) applyEffects(tx persistence.Tx, c change, now time.Time) error {
	id := c.tree.ProcessInstanceID
	var history map[string]*persistence.HistoricVariable
	for _, eff := range c.tree.Effects() {
		var err error
		switch eff.Kind {
		case execution.EffectJobCreated:
			err = tx.PutJob(&persistence.Job{
				ID:                   eff.JobID,
				Type:                 persistence.JobTypeAsyncContinuation,
				ProcessInstanceID:    id,
				TransitionInstanceID: eff.TransitionInstanceID,
				ActivityID:           eff.ActivityID,
				TenantID:             c.tree.TenantID,
				Retries:              e.jobRetries,
				DueDate:              now,
				CreatedAt:            now,
			})
		case execution.EffectJobRemoved:
			err = removeJob(tx, eff.JobID, now)
		case execution.EffectVariableSet:
			if history == nil {
				if history, err = historicVariables(tx, id); err != nil {
					return err
				}
			}
			err = recordVariable(tx, history, c, eff, now)
		case execution.EffectProcessEnded:
			err = e.endInstance(tx, c, eff.Canceled, now)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// removeJob deletes a job together with its runtime incidents. Historic
// incidents of the job are resolved.
func removeJob(tx persistence.Tx, jobID string, now time.Time) error {
	if jobID == "" {
		return nil
	}
	if err := tx.DeleteJob(jobID); err != nil {
		return err
	}
	incidents, err := tx.Incidents(persistence.IncidentQuery{JobID: jobID})
	if err != nil {
		return err
	}
	for _, inc := range incidents {
		if err := tx.DeleteIncident(inc.ID); err != nil {
			return err
		}
	}
	historic, err := tx.HistoricIncidents(persistence.IncidentQuery{JobID: jobID})
	if err != nil {
		return err
	}
	for _, inc := range historic {
		if inc.EndTime != nil {
			continue
		}
		inc.EndTime = &now
		if err := tx.PutHistoricIncident(inc); err != nil {
			return err
		}
	}
	return nil
}

func historicVariables(tx persistence.Tx, processInstanceID string) (map[string]*persistence.HistoricVariable, error) {
	list, err := tx.HistoricVariables(processInstanceID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*persistence.HistoricVariable, len(list))
	for _, v := range list {
		out[v.ID] = v
	}
	return out, nil
}

// recordVariable keeps the first and the latest value of a variable. A
// variable passed at start on the process instance is flagged initial.
func recordVariable(tx persistence.Tx, history map[string]*persistence.HistoricVariable, c change, eff execution.Effect, now time.Time) error {
	id := persistence.HistoricVariableID(eff.ScopeInstanceID, eff.Name)
	v, ok := history[id]
	if !ok {
		v = &persistence.HistoricVariable{
			ID:                id,
			ProcessInstanceID: c.tree.ProcessInstanceID,
			ScopeInstanceID:   eff.ScopeInstanceID,
			Name:              eff.Name,
			InitialValue:      eff.Value,
			Initial:           c.isInitial(eff),
			CreatedAt:         now,
		}
		history[id] = v
	}
	v.Value = eff.Value
	v.Revision++
	v.UpdatedAt = now
	return tx.PutHistoricVariable(v)
}

func (c change) isInitial(eff execution.Effect) bool {
	if c.start == nil || eff.ScopeInstanceID != c.tree.Root().ScopeInstanceID {
		return false
	}
	_, ok := c.start.initial[eff.Name]
	return ok
}

// endInstance closes the history of an ended instance and drops whatever
// runtime state still points at it.
func (e *Engine) endInstance(tx persistence.Tx, c change, canceled bool, now time.Time) error {
	id := c.tree.ProcessInstanceID
	jobs, err := tx.Jobs(persistence.JobQuery{ProcessInstanceID: id})
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := removeJob(tx, j.ID, now); err != nil {
			return err
		}
	}

	h, err := tx.HistoricInstance(id)
	if process.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	h.EndTime = &now
	h.State = persistence.StateCompleted
	if canceled {
		h.State = persistence.StateExternallyTerminated
		h.DeleteReason = c.deleteReason
	}
	return tx.PutHistoricInstance(h)
}
