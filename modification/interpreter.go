package modification

import (
	"context"
	stderrors "errors"
	"fmt"

	apperrors "github.com/goliatone/go-errors"
	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/execution"
	"github.com/goliatone/go-process/instance"
	"github.com/goliatone/go-process/model"
	"github.com/goliatone/go-process/operation"
)

// Interpreter applies modification commands to execution trees.
type Interpreter struct {
	hooks  operation.Hooks
	logger process.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithHooks sets the listener and mapping collaborator.
func WithHooks(hooks operation.Hooks) Option {
	return func(i *Interpreter) {
		i.hooks = hooks
	}
}

// WithLogger sets the interpreter logger.
func WithLogger(logger process.Logger) Option {
	return func(i *Interpreter) {
		i.logger = logger
	}
}

// NewInterpreter builds an interpreter. Without hooks no listener or mapping
// is evaluated.
func NewInterpreter(opts ...Option) *Interpreter {
	i := &Interpreter{logger: process.NopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	i.logger = process.NormalizeLogger(i.logger)
	return i
}

// Result is the outcome of a successful Apply.
type Result struct {
	Tree  *execution.Tree
	Ended bool
}

// Apply runs the instructions of cmd in order against a clone of tree. The
// input tree is never mutated; on error no partial result is returned.
func (i *Interpreter) Apply(ctx context.Context, tree *execution.Tree, def *model.Definition, cmd Command) (*Result, error) {
	if tree == nil {
		return nil, process.InstanceStatef("Process instance '%s' does not exist", cmd.ProcessInstanceID)
	}
	if def == nil {
		return nil, process.Validationf("processDefinition is null")
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	work := tree.Clone()
	session := i.NewSession(ctx, work, def, cmd.Flags)
	if _, err := i.run(session, cmd.Instructions); err != nil {
		return nil, err
	}
	ended, err := session.Finish()
	if err != nil {
		return nil, err
	}
	return &Result{Tree: work, Ended: ended}, nil
}

// NewSession binds tree to a session using the interpreter hooks, for
// callers that build a new instance before running instructions on it.
func (i *Interpreter) NewSession(ctx context.Context, tree *execution.Tree, def *model.Definition, flags operation.Flags) *operation.Session {
	return operation.NewSession(ctx, tree, def, i.hooks, flags, operation.WithLogger(i.logger))
}

// ApplyTo runs instructions on a session the caller already prepared, for
// example a freshly created process instance. The session tree is mutated
// in place.
func (i *Interpreter) ApplyTo(session *operation.Session, instructions []Instruction) error {
	for _, ins := range instructions {
		if err := ins.Validate(); err != nil {
			return instructionError(ins, err)
		}
	}
	_, err := i.run(session, instructions)
	return err
}

func (i *Interpreter) run(session *operation.Session, instructions []Instruction) (int, error) {
	for n, ins := range instructions {
		i.logger.Debug("process instance %s: %s", session.Tree().ProcessInstanceID, ins.Describe())
		if err := i.perform(session, ins); err != nil {
			return n, instructionError(ins, err)
		}
		if err := session.Tree().CheckInvariants(); err != nil {
			return n, err
		}
	}
	return len(instructions), nil
}

func (i *Interpreter) perform(s *operation.Session, ins Instruction) error {
	switch ins.Kind {
	case KindCancelActivityInstance:
		return cancelActivityInstance(s, ins)
	case KindCancelTransitionInstance:
		return cancelTransitionInstance(s, ins)
	case KindCancelAll:
		return cancelAll(s, ins)
	case KindStartBefore:
		return startBefore(s, ins)
	case KindStartAfter:
		return startAfter(s, ins)
	case KindStartTransition:
		return startTransition(s, ins)
	}
	return process.Validationf("unknown instruction type '%s'", ins.Kind)
}

func cancelActivityInstance(s *operation.Session, ins Instruction) error {
	view := instance.From(s.Tree())
	ai, ok := view.Find(ins.ActivityInstanceID)
	if !ok {
		return process.Validationf("Activity instance '%s' does not exist", ins.ActivityInstanceID)
	}
	setRootVariables(s, ins)
	return s.CancelActivityInstance(ai)
}

func cancelTransitionInstance(s *operation.Session, ins Instruction) error {
	view := instance.From(s.Tree())
	ti, ok := view.FindTransition(ins.TransitionInstanceID)
	if !ok {
		return process.Validationf("Transition instance '%s' does not exist", ins.TransitionInstanceID)
	}
	setRootVariables(s, ins)
	return s.CancelTransitionInstance(ti)
}

// cancelAll captures the matching instances up front and cancels those still
// present when their turn comes.
func cancelAll(s *operation.Session, ins Instruction) error {
	if _, ok := s.Definition().Activity(ins.ActivityID); !ok {
		return process.Validationf("Element '%s' does not exist in process '%s'", ins.ActivityID, s.Definition().ID)
	}
	view := instance.From(s.Tree())
	var activities, transitions []string
	for _, ai := range view.ForActivity(ins.ActivityID) {
		activities = append(activities, ai.ID)
	}
	for _, ti := range view.TransitionsForActivity(ins.ActivityID) {
		transitions = append(transitions, ti.ID)
	}
	setRootVariables(s, ins)

	for _, id := range transitions {
		ti, ok := instance.From(s.Tree()).FindTransition(id)
		if !ok {
			continue
		}
		if err := s.CancelTransitionInstance(ti); err != nil {
			return err
		}
	}
	for _, id := range activities {
		ai, ok := instance.From(s.Tree()).Find(id)
		if !ok {
			continue
		}
		if err := s.CancelActivityInstance(ai); err != nil {
			return err
		}
	}
	return nil
}

func startBefore(s *operation.Session, ins Instruction) error {
	def := s.Definition()
	a, ok := def.Activity(ins.ActivityID)
	if !ok {
		return process.Validationf("Element '%s' does not exist in process '%s'", ins.ActivityID, def.ID)
	}
	branch, err := prepareBranch(s, ins, a.FlowScope(), a.ID)
	if err != nil {
		return err
	}
	return s.Enter(branch, a)
}

func startAfter(s *operation.Session, ins Instruction) error {
	def := s.Definition()
	a, ok := def.Activity(ins.ActivityID)
	if !ok {
		return process.Validationf("Element '%s' does not exist in process '%s'", ins.ActivityID, def.ID)
	}
	flows := def.Outgoing(a.ID)
	switch {
	case len(flows) == 0:
		return process.Validationf("activity has no outgoing sequence flow to take")
	case len(flows) > 1:
		return process.Validationf("activity has more than one outgoing sequence flow")
	}
	return enterFlow(s, ins, flows[0])
}

func startTransition(s *operation.Session, ins Instruction) error {
	def := s.Definition()
	f, ok := def.Flow(ins.FlowID)
	if !ok {
		return process.Validationf("Element '%s' does not exist in process '%s'", ins.FlowID, def.ID)
	}
	return enterFlow(s, ins, f)
}

func enterFlow(s *operation.Session, ins Instruction, f *model.Flow) error {
	branch, err := prepareBranch(s, ins, f.FlowScope(), f.ID)
	if err != nil {
		return err
	}
	return s.TakeFlow(branch, f)
}

// prepareBranch resolves the ancestor scope instance, instantiates missing
// scopes down to targetScope and returns an empty holder carrying the
// instruction variables.
func prepareBranch(s *operation.Session, ins Instruction, targetScope, elementID string) (string, error) {
	ancestor, ancestorScope, err := resolveAncestor(s, ins, targetScope, elementID)
	if err != nil {
		return "", err
	}
	scopes, ok := s.Definition().ScopeActivities(ancestorScope, targetScope)
	if !ok {
		return "", process.Validationf("Scope execution for '%s' cannot be found in parent hierarchy of flow element '%s'", ancestor.ID, elementID)
	}
	scopeExecution, err := s.InstantiateScopes(ancestor.ExecutionID(), scopes)
	if err != nil {
		return "", err
	}
	branch, err := s.NewBranch(scopeExecution)
	if err != nil {
		return "", err
	}
	tree := s.Tree()
	tree.SetVariables(branch, ins.Variables)
	tree.SetVariablesLocal(branch, ins.VariablesLocal)
	return branch, nil
}

// resolveAncestor finds the scope instance a new branch is attached to,
// together with the scope activity id it instantiates ("" for the process).
func resolveAncestor(s *operation.Session, ins Instruction, targetScope, elementID string) (*instance.ActivityInstance, string, error) {
	view := instance.From(s.Tree())
	def := s.Definition()

	if ins.AncestorActivityInstanceID != "" {
		ai, ok := view.Find(ins.AncestorActivityInstanceID)
		if !ok {
			return nil, "", process.Validationf("Ancestor activity instance '%s' does not exist", ins.AncestorActivityInstanceID)
		}
		scope := ai.ActivityID
		if ai == view.Root() {
			scope = model.ProcessScope
		}
		if !ai.Scope || !inChain(def.ScopeChain(targetScope), scope) {
			return nil, "", process.Validationf("Scope execution for '%s' cannot be found in parent hierarchy of flow element '%s'", ai.ID, elementID)
		}
		return ai, scope, nil
	}

	for _, scope := range def.ScopeChain(targetScope) {
		candidates := view.ScopeInstances(scope)
		switch len(candidates) {
		case 0:
			continue
		case 1:
			return candidates[0], scope, nil
		default:
			return nil, "", process.Validationf("Ancestor activity execution is ambiguous for activity '%s'", scope)
		}
	}
	return nil, "", process.InstanceStatef("Process instance '%s' has no active scope", s.Tree().ProcessInstanceID)
}

func inChain(chain []string, scope string) bool {
	for _, id := range chain {
		if id == scope {
			return true
		}
	}
	return false
}

func setRootVariables(s *operation.Session, ins Instruction) {
	tree := s.Tree()
	root := tree.Root()
	tree.SetVariables(root.ID, ins.Variables)
	tree.SetVariablesLocal(root.ID, ins.VariablesLocal)
}

// instructionError prefixes err with the failing instruction and keeps its
// category and text code.
func instructionError(ins Instruction, err error) error {
	msg := fmt.Sprintf("Cannot perform instruction: %s; %s", ins.Describe(), process.Message(err))
	var ae *apperrors.Error
	if stderrors.As(err, &ae) {
		out := ae.Clone()
		out.Message = msg
		out.Source = err
		return out.WithMetadata(map[string]any{"instruction": string(ins.Kind)})
	}
	return process.NewError(process.ErrInternal, msg, err, map[string]any{"instruction": string(ins.Kind)})
}
