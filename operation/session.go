package operation

import (
	"context"
	"fmt"

	apperrors "github.com/goliatone/go-errors"
	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/execution"
	"github.com/goliatone/go-process/instance"
	"github.com/goliatone/go-process/model"
)

// Flags switch off collaborator calls for one command.
type Flags struct {
	SkipCustomListeners bool `json:"skipCustomListeners,omitempty"`
	SkipIoMappings      bool `json:"skipIoMappings,omitempty"`
}

// Session runs activity behaviour against one tree. It is not safe for
// concurrent use; one session serves one command on one process instance.
type Session struct {
	ctx    context.Context
	tree   *execution.Tree
	def    *model.Definition
	hooks  Hooks
	flags  Flags
	logger process.Logger

	endedByCancel bool
}

// SessionOption configures a session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger process.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession binds tree and definition. A nil hooks value disables all
// collaborator calls.
func NewSession(ctx context.Context, tree *execution.Tree, def *model.Definition, hooks Hooks, flags Flags, opts ...SessionOption) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Session{
		ctx:    ctx,
		tree:   tree,
		def:    def,
		hooks:  hooks,
		flags:  flags,
		logger: process.NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = process.NormalizeLogger(s.logger)
	return s
}

// Tree returns the tree mutated by the session.
func (s *Session) Tree() *execution.Tree {
	return s.tree
}

// Definition returns the definition the session runs.
func (s *Session) Definition() *model.Definition {
	return s.def
}

// BeginProcess fires the start of the process instance itself.
func (s *Session) BeginProcess() error {
	root := s.tree.Root()
	s.tree.Record(execution.Effect{
		Kind:               execution.EffectActivityStarted,
		ExecutionID:        root.ID,
		ActivityID:         s.def.ID,
		ActivityInstanceID: root.ScopeInstanceID,
	})
	return s.fireStart(root.ID, s.def.ID, root.ScopeInstanceID)
}

// StartProcess begins the process and enters its unique start event.
func (s *Session) StartProcess() (*model.Activity, error) {
	initial, err := s.def.InitialActivity(model.ProcessScope)
	if err != nil {
		return nil, err
	}
	if err := s.BeginProcess(); err != nil {
		return nil, err
	}
	return initial, s.Enter(s.tree.Root().ID, initial)
}

// NewBranch returns an empty holder below the scope execution.
func (s *Session) NewBranch(scopeExecutionID string) (string, error) {
	branch, err := s.tree.AddBranch(scopeExecutionID)
	if err != nil {
		return "", err
	}
	return branch.ID, nil
}

// InstantiateScopes creates nested scope instances below scopeExecutionID,
// outermost first, firing their listeners and input mappings. It returns the
// innermost scope execution.
func (s *Session) InstantiateScopes(scopeExecutionID string, scopes []*model.Activity) (string, error) {
	current := scopeExecutionID
	for _, a := range scopes {
		branch, err := s.tree.AddBranch(current)
		if err != nil {
			return "", err
		}
		aiID := s.tree.NewActivityInstanceID(a.ID)
		scope, err := s.tree.CreateScope(branch.ID, a.ID, aiID)
		if err != nil {
			return "", err
		}
		s.recordStarted(scope.ID, a.ID, aiID, s.tree.ParentInstanceID(scope.ID, true))
		if err := s.mapInput(scope.ID, a); err != nil {
			return "", err
		}
		if err := s.fireStart(scope.ID, a.ID, aiID); err != nil {
			return "", err
		}
		current = scope.ID
	}
	return current, nil
}

// Enter runs activity a on the empty holder, honouring async before.
func (s *Session) Enter(holderID string, a *model.Activity) error {
	return s.enter(holderID, a, false)
}

// TakeFlow enters the target of f on the empty holder.
func (s *Session) TakeFlow(holderID string, f *model.Flow) error {
	target, ok := s.def.Activity(f.Target)
	if !ok {
		return process.Validationf("Element '%s' does not exist in process '%s'", f.Target, s.def.ID)
	}
	return s.enter(holderID, target, false)
}

func (s *Session) enter(holderID string, a *model.Activity, skipAsync bool) error {
	if a.AsyncBefore && !skipAsync {
		tr := execution.Transition{
			InstanceID: s.tree.NewActivityInstanceID(a.ID),
			ActivityID: a.ID,
			JobID:      s.tree.NewID(),
		}
		if err := s.tree.SetTransition(holderID, tr); err != nil {
			return err
		}
		s.tree.Record(execution.Effect{
			Kind:                     execution.EffectJobCreated,
			ExecutionID:              holderID,
			ActivityID:               a.ID,
			TransitionInstanceID:     tr.InstanceID,
			JobID:                    tr.JobID,
			ParentActivityInstanceID: s.tree.ParentInstanceID(holderID, false),
		})
		return nil
	}

	aiID := s.tree.NewActivityInstanceID(a.ID)
	s.logger.Trace("enter activity %s as %s on execution %s", a.ID, aiID, holderID)
	executionID := holderID
	if a.IsScope() {
		scope, err := s.tree.CreateScope(holderID, a.ID, aiID)
		if err != nil {
			return err
		}
		executionID = scope.ID
		if a.Type != model.TypeSubProcess {
			if err := s.tree.SetLeaf(scope.ID, a.ID, aiID); err != nil {
				return err
			}
		}
		s.recordStarted(scope.ID, a.ID, aiID, s.tree.ParentInstanceID(scope.ID, true))
		if err := s.mapInput(scope.ID, a); err != nil {
			return err
		}
	} else {
		if err := s.tree.SetLeaf(holderID, a.ID, aiID); err != nil {
			return err
		}
		s.recordStarted(holderID, a.ID, aiID, s.tree.ParentInstanceID(holderID, false))
	}
	if err := s.fireStart(executionID, a.ID, aiID); err != nil {
		return err
	}
	return s.execute(executionID, a)
}

func (s *Session) execute(executionID string, a *model.Activity) error {
	switch a.Type {
	case model.TypeSubProcess:
		initial, err := s.def.InitialActivity(a.ID)
		if err != nil {
			return err
		}
		return s.enter(executionID, initial, false)
	case model.TypeTask, model.TypeUserTask:
		return nil
	case model.TypeGateway:
		if joining := len(s.def.Incoming(a.ID)); joining > 1 && !a.IsScope() {
			return s.join(executionID, a, joining)
		}
		return s.leave(executionID, a)
	default:
		return s.leave(executionID, a)
	}
}

// join keeps the token waiting at the gateway until one token per incoming
// flow waits in the same scope instance. The last arrival ends the others and
// leaves with a single token.
func (s *Session) join(executionID string, a *model.Activity, incoming int) error {
	scope := s.tree.ScopeOf(executionID)
	if scope == nil {
		return process.Internalf("execution '%s' has no scope", executionID)
	}
	waiting := s.waitingAt(scope.ID, a.ID)
	if len(waiting) < incoming {
		s.logger.Trace("gateway %s waits with %d of %d tokens", a.ID, len(waiting), incoming)
		return nil
	}
	for _, e := range waiting {
		if e.ID == executionID {
			continue
		}
		if err := s.fireEnd(e.ID, a.ID, e.ActivityInstanceID, false); err != nil {
			return err
		}
		s.tree.Record(execution.Effect{
			Kind:               execution.EffectActivityEnded,
			ExecutionID:        e.ID,
			ActivityID:         a.ID,
			ActivityInstanceID: e.ActivityInstanceID,
		})
		s.tree.ClearLeaf(e.ID)
		s.tree.RemoveBranch(e.ID)
	}
	// the merged token may have been compacted into its scope
	merged, err := s.tree.Resolve(executionID)
	if err != nil {
		return err
	}
	return s.leave(merged.ID, a)
}

func (s *Session) waitingAt(scopeID, activityID string) []*execution.Execution {
	var out []*execution.Execution
	if scope, ok := s.tree.Get(scopeID); ok && scope.ActivityID == activityID {
		out = append(out, scope)
	}
	for _, child := range s.tree.Children(scopeID) {
		if child.IsConcurrent && child.ActivityID == activityID {
			out = append(out, child)
		}
	}
	return out
}

// leave completes the instance of a held by executionID and continues along
// the outgoing flows.
func (s *Session) leave(executionID string, a *model.Activity) error {
	e, ok := s.tree.Get(executionID)
	if !ok {
		return process.Validationf("Execution '%s' does not exist", executionID)
	}
	aiID := e.ActivityInstanceID
	if a.IsScope() {
		aiID = e.ScopeInstanceID
		if err := s.mapOutput(executionID, a); err != nil {
			return err
		}
	}
	if err := s.fireEnd(executionID, a.ID, aiID, false); err != nil {
		return err
	}
	s.tree.Record(execution.Effect{
		Kind:               execution.EffectActivityEnded,
		ExecutionID:        executionID,
		ActivityID:         a.ID,
		ActivityInstanceID: aiID,
	})

	holderID := executionID
	if a.IsScope() {
		if parentScope := s.tree.ScopeOf(e.ParentID); parentScope != nil {
			if a.Compensable {
				s.addCompensation(parentScope.ID, a, aiID)
			}
			s.tree.MoveSubscriptions(executionID, parentScope.ID)
		}
		holder, err := s.tree.RemoveScope(executionID, false)
		if err != nil {
			return err
		}
		holderID = holder.ID
	} else {
		if a.Compensable {
			if scope := s.tree.ScopeOf(executionID); scope != nil {
				s.addCompensation(scope.ID, a, aiID)
			}
		}
		s.tree.ClearLeaf(executionID)
	}
	return s.continueFrom(holderID, a)
}

func (s *Session) continueFrom(holderID string, a *model.Activity) error {
	flows := s.def.Outgoing(a.ID)
	switch len(flows) {
	case 0:
		return s.endBranch(holderID)
	case 1:
		return s.TakeFlow(holderID, flows[0])
	}
	branches, err := s.tree.Fork(holderID, len(flows))
	if err != nil {
		return err
	}
	for i, id := range branches {
		// earlier branches may have ended and compacted this one away
		branch, err := s.tree.Resolve(id)
		if err != nil {
			return err
		}
		if err := s.TakeFlow(branch.ID, flows[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) endBranch(holderID string) error {
	scope, emptied := s.tree.RemoveBranch(holderID)
	if !emptied || scope == nil {
		return nil
	}
	if scope.ParentID == "" {
		s.endedByCancel = false
		return nil
	}
	a, ok := s.def.Activity(scope.ScopeActivityID)
	if !ok {
		return process.Internalf("scope activity '%s' is not part of '%s'", scope.ScopeActivityID, s.def.ID)
	}
	return s.leave(scope.ID, a)
}

func (s *Session) addCompensation(scopeID string, a *model.Activity, aiID string) {
	s.tree.AddSubscription(scopeID, execution.Subscription{
		ID:                 s.tree.NewID(),
		EventType:          execution.EventTypeCompensate,
		ActivityID:         a.ID,
		ActivityInstanceID: aiID,
	})
}

// Signal completes the waiting activity instance and continues the process.
func (s *Session) Signal(activityInstanceID string) error {
	view := instance.From(s.tree)
	ai, ok := view.Find(activityInstanceID)
	if !ok {
		return process.Validationf("Activity instance '%s' does not exist", activityInstanceID)
	}
	a, ok := s.def.Activity(ai.ActivityID)
	if !ok || !a.IsWaitState() {
		return process.Validationf("Activity instance '%s' is not waiting", activityInstanceID)
	}
	return s.leave(ai.ExecutionID(), a)
}

// ContinueTransition executes the activity a pending transition instance
// points to, skipping its async before marker.
func (s *Session) ContinueTransition(transitionInstanceID string) error {
	view := instance.From(s.tree)
	ti, ok := view.FindTransition(transitionInstanceID)
	if !ok {
		return process.InstanceStatef("Transition instance '%s' does not exist", transitionInstanceID)
	}
	a, ok := s.def.Activity(ti.ActivityID)
	if !ok {
		return process.Internalf("activity '%s' is not part of '%s'", ti.ActivityID, s.def.ID)
	}
	s.tree.ClearLeaf(ti.ExecutionID)
	return s.enter(ti.ExecutionID, a, true)
}

// Finish ends the process instance when its root holds nothing. It reports
// whether the instance ended.
func (s *Session) Finish() (bool, error) {
	if !s.tree.IsEmpty() {
		return false, nil
	}
	root := s.tree.Root()
	if err := s.fireEnd(root.ID, s.def.ID, root.ScopeInstanceID, s.endedByCancel); err != nil {
		return false, err
	}
	s.tree.ReleaseSubscriptions(root.ID)
	s.tree.Record(execution.Effect{
		Kind:               execution.EffectProcessEnded,
		ExecutionID:        root.ID,
		ActivityID:         s.def.ID,
		ActivityInstanceID: root.ScopeInstanceID,
		Canceled:           s.endedByCancel,
	})
	return true, nil
}

func (s *Session) recordStarted(executionID, activityID, aiID, parentAI string) {
	s.tree.Record(execution.Effect{
		Kind:                     execution.EffectActivityStarted,
		ExecutionID:              executionID,
		ActivityID:               activityID,
		ActivityInstanceID:       aiID,
		ParentActivityInstanceID: parentAI,
	})
}

func (s *Session) mapInput(scopeID string, a *model.Activity) error {
	if s.hooks == nil || s.flags.SkipIoMappings {
		return nil
	}
	vars, err := s.hooks.EvaluateInput(s.ctx, a, ScopeFor(s.tree, scopeID))
	if err != nil {
		return hookError(err, fmt.Sprintf("input mapping of activity '%s' failed", a.ID))
	}
	s.tree.SetVariablesLocal(scopeID, vars)
	return nil
}

func (s *Session) mapOutput(scopeID string, a *model.Activity) error {
	if s.hooks == nil || s.flags.SkipIoMappings {
		return nil
	}
	vars, err := s.hooks.EvaluateOutput(s.ctx, a, ScopeFor(s.tree, scopeID))
	if err != nil {
		return hookError(err, fmt.Sprintf("output mapping of activity '%s' failed", a.ID))
	}
	if parent := s.tree.Parent(scopeID); parent != nil {
		s.tree.SetVariables(parent.ID, vars)
	}
	return nil
}

func (s *Session) fireStart(executionID, activityID, aiID string) error {
	if s.hooks == nil || s.flags.SkipCustomListeners {
		return nil
	}
	err := s.hooks.OnStart(s.ctx, s.event(executionID, activityID, aiID, false))
	if err != nil {
		return hookError(err, fmt.Sprintf("start listener of activity '%s' failed", activityID))
	}
	return nil
}

func (s *Session) fireEnd(executionID, activityID, aiID string, canceled bool) error {
	if s.hooks == nil || s.flags.SkipCustomListeners {
		return nil
	}
	err := s.hooks.OnEnd(s.ctx, s.event(executionID, activityID, aiID, canceled))
	if err != nil {
		return hookError(err, fmt.Sprintf("end listener of activity '%s' failed", activityID))
	}
	return nil
}

func (s *Session) event(executionID, activityID, aiID string, canceled bool) Event {
	return Event{
		ProcessInstanceID:  s.tree.ProcessInstanceID,
		ActivityID:         activityID,
		ActivityInstanceID: aiID,
		ExecutionID:        executionID,
		Canceled:           canceled,
		Scope:              ScopeFor(s.tree, executionID),
	}
}

func hookError(err error, msg string) error {
	if process.Code(err) != "" {
		return err
	}
	return apperrors.Wrap(err, apperrors.CategoryHandler, msg)
}
