package operation

import (
	"context"

	"github.com/goliatone/go-process/execution"
	"github.com/goliatone/go-process/model"
)

// VariableScope exposes the variables visible from one execution.
type VariableScope interface {
	Variable(name string) (any, bool)
	Variables() map[string]any
	SetVariable(name string, value any)
	SetVariableLocal(name string, value any)
}

// Event describes an activity instance starting or ending.
type Event struct {
	ProcessInstanceID  string
	ActivityID         string
	ActivityInstanceID string
	ExecutionID        string
	Canceled           bool
	Scope              VariableScope
}

// Hooks is the listener and IO mapping collaborator. A command that skips
// listeners or mappings does not call the corresponding methods at all.
type Hooks interface {
	OnStart(ctx context.Context, ev Event) error
	OnEnd(ctx context.Context, ev Event) error
	// EvaluateInput returns the variables created locally in the new scope.
	EvaluateInput(ctx context.Context, activity *model.Activity, scope VariableScope) (map[string]any, error)
	// EvaluateOutput returns the variables propagated to the enclosing scope.
	EvaluateOutput(ctx context.Context, activity *model.Activity, scope VariableScope) (map[string]any, error)
}

// Listener receives start and end notifications.
type Listener interface {
	OnStart(ctx context.Context, ev Event) error
	OnEnd(ctx context.Context, ev Event) error
}

// ListenerFuncs adapts plain functions to Listener. Nil functions are no-ops.
type ListenerFuncs struct {
	Start func(ctx context.Context, ev Event) error
	End   func(ctx context.Context, ev Event) error
}

func (l ListenerFuncs) OnStart(ctx context.Context, ev Event) error {
	if l.Start == nil {
		return nil
	}
	return l.Start(ctx, ev)
}

func (l ListenerFuncs) OnEnd(ctx context.Context, ev Event) error {
	if l.End == nil {
		return nil
	}
	return l.End(ctx, ev)
}

// DefinitionHooks evaluates the mappings declared on activities and forwards
// listener calls to Listener.
type DefinitionHooks struct {
	Listener Listener
}

// NewDefinitionHooks builds hooks around an optional listener.
func NewDefinitionHooks(listener Listener) *DefinitionHooks {
	return &DefinitionHooks{Listener: listener}
}

func (h *DefinitionHooks) OnStart(ctx context.Context, ev Event) error {
	if h == nil || h.Listener == nil {
		return nil
	}
	return h.Listener.OnStart(ctx, ev)
}

func (h *DefinitionHooks) OnEnd(ctx context.Context, ev Event) error {
	if h == nil || h.Listener == nil {
		return nil
	}
	return h.Listener.OnEnd(ctx, ev)
}

func (h *DefinitionHooks) EvaluateInput(_ context.Context, activity *model.Activity, scope VariableScope) (map[string]any, error) {
	return evaluateMappings(activity.Inputs, scope), nil
}

func (h *DefinitionHooks) EvaluateOutput(_ context.Context, activity *model.Activity, scope VariableScope) (map[string]any, error) {
	return evaluateMappings(activity.Outputs, scope), nil
}

func evaluateMappings(mappings []model.Mapping, scope VariableScope) map[string]any {
	if len(mappings) == 0 {
		return nil
	}
	out := make(map[string]any, len(mappings))
	for _, m := range mappings {
		value := m.Value
		if m.Source != "" {
			if v, ok := scope.Variable(m.Source); ok {
				value = v
			}
		}
		out[m.Target] = value
	}
	return out
}

type treeScope struct {
	tree        *execution.Tree
	executionID string
}

// ScopeFor returns the variable scope of an execution of tree.
func ScopeFor(tree *execution.Tree, executionID string) VariableScope {
	return treeScope{tree: tree, executionID: executionID}
}

func (s treeScope) Variable(name string) (any, bool) {
	return s.tree.Variable(s.executionID, name)
}

func (s treeScope) Variables() map[string]any {
	return s.tree.VisibleVariables(s.executionID)
}

func (s treeScope) SetVariable(name string, value any) {
	s.tree.SetVariable(s.executionID, name, value)
}

func (s treeScope) SetVariableLocal(name string, value any) {
	s.tree.SetVariableLocal(s.executionID, name, value)
}
