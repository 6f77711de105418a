package engine

import (
	"context"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/execution"
	"github.com/goliatone/go-process/instance"
	"github.com/goliatone/go-process/model"
	"github.com/goliatone/go-process/modification"
	"github.com/goliatone/go-process/operation"
	"github.com/goliatone/go-process/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// StartOptions configure a new process instance.
type StartOptions struct {
	// DefinitionID pins a deployed version. The latest version of the key
	// is used when empty.
	DefinitionID string
	BusinessKey  string
	// TenantID defaults to the tenant of the definition.
	TenantID  string
	Variables map[string]any
	Flags     operation.Flags
}

// ProcessInstance describes an instance after a command.
type ProcessInstance struct {
	ID                     string `json:"id"`
	DefinitionID           string `json:"definitionId"`
	BusinessKey            string `json:"businessKey,omitempty"`
	TenantID               string `json:"tenantId,omitempty"`
	RootActivityInstanceID string `json:"rootActivityInstanceId"`
	Ended                  bool   `json:"ended"`
}

func describe(tree *execution.Tree, ended bool) *ProcessInstance {
	return &ProcessInstance{
		ID:                     tree.ProcessInstanceID,
		DefinitionID:           tree.DefinitionID,
		BusinessKey:            tree.BusinessKey,
		TenantID:               tree.TenantID,
		RootActivityInstanceID: tree.Root().ScopeInstanceID,
		Ended:                  ended,
	}
}

// StartProcessInstance starts an instance at the initial activity of its
// definition and runs it until every path waits or ends.
func (e *Engine) StartProcessInstance(ctx context.Context, key string, opts StartOptions) (_ *ProcessInstance, err error) {
	ctx, span := e.startSpan(ctx, "engine.StartProcessInstance", attribute.String("process.definition_key", key))
	defer func() { endSpan(span, err) }()

	def, err := e.resolveDefinition(key, opts.DefinitionID)
	if err != nil {
		return nil, err
	}
	tree := e.newTree(def, opts)
	session := e.interpreter.NewSession(ctx, tree, def, opts.Flags)
	initial, err := session.StartProcess()
	if err != nil {
		return nil, err
	}
	ended, err := session.Finish()
	if err != nil {
		return nil, err
	}
	err = e.commit(ctx, change{
		tree:  tree,
		def:   def,
		ended: ended,
		start: &startInfo{activityID: initial.ID, initial: opts.Variables},
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(attrInstanceID, tree.ProcessInstanceID))
	e.logger.WithContext(ctx).Info("process instance %s started: definition=%s ended=%t", tree.ProcessInstanceID, def.ID, ended)
	return describe(tree, ended), nil
}

// StartProcessInstanceAt starts an instance by running start instructions
// instead of entering the initial activity.
func (e *Engine) StartProcessInstanceAt(ctx context.Context, key string, instructions []modification.Instruction, opts StartOptions) (_ *ProcessInstance, err error) {
	ctx, span := e.startSpan(ctx, "engine.StartProcessInstanceAt", attribute.String("process.definition_key", key))
	defer func() { endSpan(span, err) }()

	if len(instructions) == 0 {
		return nil, process.Validationf("Start instructions cannot be empty")
	}
	for _, ins := range instructions {
		if ins.IsCancellation() {
			return nil, process.Validationf("Cannot start process instance with cancel instruction: %s", ins.Describe())
		}
	}
	def, err := e.resolveDefinition(key, opts.DefinitionID)
	if err != nil {
		return nil, err
	}
	tree := e.newTree(def, opts)
	session := e.interpreter.NewSession(ctx, tree, def, opts.Flags)
	if err := session.BeginProcess(); err != nil {
		return nil, err
	}
	if err := e.interpreter.ApplyTo(session, instructions); err != nil {
		return nil, err
	}
	ended, err := session.Finish()
	if err != nil {
		return nil, err
	}
	err = e.commit(ctx, change{
		tree:  tree,
		def:   def,
		ended: ended,
		start: &startInfo{activityID: startActivity(instructions), initial: opts.Variables},
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(attrInstanceID, tree.ProcessInstanceID))
	e.logger.WithContext(ctx).Info("process instance %s started at %d instructions: definition=%s", tree.ProcessInstanceID, len(instructions), def.ID)
	return describe(tree, ended), nil
}

// startActivity names the activity an instance started at. It is only known
// when a single start before instruction created the instance.
func startActivity(instructions []modification.Instruction) string {
	if len(instructions) == 1 && instructions[0].Kind == modification.KindStartBefore {
		return instructions[0].ActivityID
	}
	return ""
}

func (e *Engine) resolveDefinition(key, definitionID string) (*model.Definition, error) {
	if definitionID != "" {
		return e.definitions.Get(definitionID)
	}
	if key == "" {
		return nil, process.Validationf("processDefinitionKey is null")
	}
	return e.definitions.Latest(key)
}

func (e *Engine) newTree(def *model.Definition, opts StartOptions) *execution.Tree {
	tree := execution.New(def.ID, execution.WithIDGenerator(e.ids))
	tree.BusinessKey = opts.BusinessKey
	tree.TenantID = opts.TenantID
	if tree.TenantID == "" {
		tree.TenantID = def.TenantID
	}
	if len(opts.Variables) > 0 {
		tree.SetVariables(tree.Root().ID, opts.Variables)
	}
	return tree
}

// Signal completes a waiting activity instance and continues the process.
// vars are set from the activity instance with propagation before it
// completes.
func (e *Engine) Signal(ctx context.Context, processInstanceID, activityInstanceID string, vars map[string]any) (_ *ProcessInstance, err error) {
	ctx, span := e.startSpan(ctx, "engine.Signal", attribute.String(attrInstanceID, processInstanceID))
	defer func() { endSpan(span, err) }()

	l, err := e.load(ctx, processInstanceID)
	if err != nil {
		return nil, err
	}
	work := l.tree.Clone()
	if ai, ok := instance.From(work).Find(activityInstanceID); ok && len(vars) > 0 {
		work.SetVariables(ai.ExecutionID(), vars)
	}
	session := e.interpreter.NewSession(ctx, work, l.def, operation.Flags{})
	if err := session.Signal(activityInstanceID); err != nil {
		return nil, err
	}
	ended, err := session.Finish()
	if err != nil {
		return nil, err
	}
	if err := e.commit(ctx, l.change(work, ended)); err != nil {
		return nil, err
	}
	e.logger.WithContext(ctx).Debug("process instance %s: signaled %s", processInstanceID, activityInstanceID)
	return describe(work, ended), nil
}

// ExecuteModification applies cmd to its process instance synchronously.
// Either every instruction takes effect or none does.
func (e *Engine) ExecuteModification(ctx context.Context, cmd modification.Command) (err error) {
	ctx, span := e.startSpan(ctx, "engine.ExecuteModification",
		attribute.String(attrInstanceID, cmd.ProcessInstanceID),
		attribute.Int("process.instructions", len(cmd.Instructions)),
	)
	defer func() { endSpan(span, err) }()

	if err := cmd.Validate(); err != nil {
		return err
	}
	l, err := e.load(ctx, cmd.ProcessInstanceID)
	if err != nil {
		return err
	}
	res, err := e.interpreter.Apply(ctx, l.tree, l.def, cmd)
	if err != nil {
		return err
	}
	if err := e.commit(ctx, l.change(res.Tree, res.Ended)); err != nil {
		return err
	}
	logger := e.logger.WithContext(ctx)
	if cmd.Annotation != "" {
		logger = process.WithFields(logger, map[string]any{"annotation": cmd.Annotation})
	}
	logger.Info("process instance %s modified: instructions=%d ended=%t", cmd.ProcessInstanceID, len(cmd.Instructions), res.Ended)
	return nil
}

// DeleteProcessInstance cancels every activity instance and ends the
// instance as externally terminated.
func (e *Engine) DeleteProcessInstance(ctx context.Context, processInstanceID, reason string, flags operation.Flags) (err error) {
	ctx, span := e.startSpan(ctx, "engine.DeleteProcessInstance", attribute.String(attrInstanceID, processInstanceID))
	defer func() { endSpan(span, err) }()

	l, err := e.load(ctx, processInstanceID)
	if err != nil {
		return err
	}
	work := l.tree.Clone()
	session := e.interpreter.NewSession(ctx, work, l.def, flags)
	if err := session.CancelActivityInstance(instance.From(work).Root()); err != nil {
		return err
	}
	ended, err := session.Finish()
	if err != nil {
		return err
	}
	if !ended {
		return process.Internalf("process instance '%s' did not end after cancellation", processInstanceID)
	}
	c := l.change(work, true)
	c.deleteReason = reason
	if err := e.commit(ctx, c); err != nil {
		return err
	}
	e.logger.WithContext(ctx).Info("process instance %s deleted: %s", processInstanceID, reason)
	return nil
}

// ActivityInstance returns the activity instance tree of a running
// instance.
func (e *Engine) ActivityInstance(ctx context.Context, processInstanceID string) (*instance.ActivityInstance, error) {
	l, err := e.find(ctx, processInstanceID)
	if err != nil {
		return nil, err
	}
	return instance.From(l.tree).Root(), nil
}

// ExecutionTree returns the execution tree of a running instance.
func (e *Engine) ExecutionTree(ctx context.Context, processInstanceID string) (*execution.Tree, error) {
	l, err := e.find(ctx, processInstanceID)
	if err != nil {
		return nil, err
	}
	return l.tree, nil
}

// Variables returns the process level variables of a running instance.
func (e *Engine) Variables(ctx context.Context, processInstanceID string) (map[string]any, error) {
	l, err := e.find(ctx, processInstanceID)
	if err != nil {
		return nil, err
	}
	return l.tree.VisibleVariables(l.tree.Root().ID), nil
}

// Instances lists running instances.
func (e *Engine) Instances(ctx context.Context, q persistence.InstanceQuery) ([]*persistence.InstanceRecord, error) {
	var out []*persistence.InstanceRecord
	err := e.store.View(ctx, func(tx persistence.Tx) error {
		var err error
		out, err = tx.Instances(q)
		return err
	})
	return out, err
}

// HistoricInstance returns the history of a running or ended instance.
func (e *Engine) HistoricInstance(ctx context.Context, id string) (*persistence.HistoricInstance, error) {
	var out *persistence.HistoricInstance
	err := e.store.View(ctx, func(tx persistence.Tx) error {
		var err error
		out, err = tx.HistoricInstance(id)
		return err
	})
	return out, err
}

func (e *Engine) HistoricInstances(ctx context.Context, q persistence.HistoricInstanceQuery) ([]*persistence.HistoricInstance, error) {
	var out []*persistence.HistoricInstance
	err := e.store.View(ctx, func(tx persistence.Tx) error {
		var err error
		out, err = tx.HistoricInstances(q)
		return err
	})
	return out, err
}

func (e *Engine) HistoricVariables(ctx context.Context, processInstanceID string) ([]*persistence.HistoricVariable, error) {
	var out []*persistence.HistoricVariable
	err := e.store.View(ctx, func(tx persistence.Tx) error {
		var err error
		out, err = tx.HistoricVariables(processInstanceID)
		return err
	})
	return out, err
}

// Incidents returns the open incidents matching q.
func (e *Engine) Incidents(ctx context.Context, q persistence.IncidentQuery) ([]*persistence.Incident, error) {
	var out []*persistence.Incident
	err := e.store.View(ctx, func(tx persistence.Tx) error {
		var err error
		out, err = tx.Incidents(q)
		return err
	})
	return out, err
}

func (e *Engine) HistoricIncidents(ctx context.Context, q persistence.IncidentQuery) ([]*persistence.Incident, error) {
	var out []*persistence.Incident
	err := e.store.View(ctx, func(tx persistence.Tx) error {
		var err error
		out, err = tx.HistoricIncidents(q)
		return err
	})
	return out, err
}

// Jobs lists jobs of any type.
func (e *Engine) Jobs(ctx context.Context, q persistence.JobQuery) ([]*persistence.Job, error) {
	var out []*persistence.Job
	err := e.store.View(ctx, func(tx persistence.Tx) error {
		var err error
		out, err = tx.Jobs(q)
		return err
	})
	return out, err
}
