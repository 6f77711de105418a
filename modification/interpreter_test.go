package modification_test

import (
	"context"
	"errors"
	"testing"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/execution"
	"github.com/goliatone/go-process/instance"
	"github.com/goliatone/go-process/model"
	"github.com/goliatone/go-process/model/modeltest"
	"github.com/goliatone/go-process/modification"
	"github.com/goliatone/go-process/operation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []string
	failOn string
}

func (r *recorder) listener() operation.Listener {
	return operation.ListenerFuncs{
		Start: func(_ context.Context, ev operation.Event) error {
			r.events = append(r.events, "start:"+ev.ActivityID)
			if ev.ActivityID == r.failOn {
				return errors.New("listener exploded")
			}
			return nil
		},
		End: func(_ context.Context, ev operation.Event) error {
			kind := "end:"
			if ev.Canceled {
				kind = "cancel:"
			}
			r.events = append(r.events, kind+ev.ActivityID)
			return nil
		},
	}
}

func startInstance(t *testing.T, src string) (*model.Definition, *execution.Tree) {
	t.Helper()
	def := modeltest.Must(src)
	tree := execution.New(def.ID)
	session := operation.NewSession(context.Background(), tree, def, nil, operation.Flags{})
	if _, err := session.StartProcess(); err != nil {
		t.Fatalf("start process: %v", err)
	}
	return def, tree
}

func apply(t *testing.T, interp *modification.Interpreter, tree *execution.Tree, def *model.Definition, instructions ...modification.Instruction) (*modification.Result, error) {
	t.Helper()
	return interp.Apply(context.Background(), tree, def, modification.Command{
		ProcessInstanceID: tree.ProcessInstanceID,
		Instructions:      instructions,
	})
}

func onlyInstance(t *testing.T, view *instance.View, activityID string) *instance.ActivityInstance {
	t.Helper()
	list := view.ForActivity(activityID)
	require.Len(t, list, 1, "instances of %s", activityID)
	return list[0]
}

func TestCancelThenStartBeforeYieldsFreshInstance(t *testing.T) {
	def, tree := startInstance(t, modeltest.OneTask)
	original := onlyInstance(t, instance.From(tree), "theTask")

	res, err := apply(t, modification.NewInterpreter(), tree, def,
		modification.CancelActivityInstance(original.ID),
		modification.StartBeforeActivity("theTask"),
	)
	require.NoError(t, err)
	assert.False(t, res.Ended)

	view := instance.From(res.Tree)
	fresh := onlyInstance(t, view, "theTask")
	assert.NotEqual(t, original.ID, fresh.ID)
	assert.Equal(t, view.Root().ID, fresh.ParentActivityInstanceID)
	assert.Empty(t, res.Tree.EffectsOf(execution.EffectProcessEnded))
	require.NoError(t, res.Tree.CheckInvariants())
}

func TestApplyLeavesInputTreeUntouched(t *testing.T) {
	def, tree := startInstance(t, modeltest.OneTask)
	before := instance.From(tree).IDs()
	original := onlyInstance(t, instance.From(tree), "theTask")

	_, err := apply(t, modification.NewInterpreter(), tree, def,
		modification.CancelActivityInstance(original.ID),
		modification.StartBeforeActivity("missing"),
	)
	require.Error(t, err)
	assert.True(t, process.IsValidation(err))
	assert.Equal(t, before, instance.From(tree).IDs())
}

func TestCancelLastInstanceEndsProcess(t *testing.T) {
	def, tree := startInstance(t, modeltest.OneTask)
	task := onlyInstance(t, instance.From(tree), "theTask")
	rec := &recorder{}
	interp := modification.NewInterpreter(modification.WithHooks(operation.NewDefinitionHooks(rec.listener())))

	res, err := apply(t, interp, tree, def, modification.CancelActivityInstance(task.ID))
	require.NoError(t, err)
	assert.True(t, res.Ended)

	ended := res.Tree.EffectsOf(execution.EffectProcessEnded)
	require.Len(t, ended, 1)
	assert.True(t, ended[0].Canceled)
	assert.Equal(t, []string{"cancel:theTask", "cancel:" + def.ID}, rec.events)
}

func TestCancelUnknownActivityInstance(t *testing.T) {
	def, tree := startInstance(t, modeltest.OneTask)

	_, err := apply(t, modification.NewInterpreter(), tree, def,
		modification.CancelActivityInstance("nonExistingActivityInstance"))
	require.Error(t, err)
	assert.True(t, process.IsValidation(err))
	assert.Equal(t,
		"Cannot perform instruction: Cancel activity instance 'nonExistingActivityInstance'; Activity instance 'nonExistingActivityInstance' does not exist",
		process.Message(err))
}

func TestCancelTransitionInstanceTwiceFails(t *testing.T) {
	def, tree := startInstance(t, modeltest.AsyncTask)
	transitions := instance.From(tree).TransitionsForActivity("task")
	require.Len(t, transitions, 1)
	id := transitions[0].ID

	_, err := apply(t, modification.NewInterpreter(), tree, def,
		modification.CancelTransitionInstance(id),
		modification.CancelTransitionInstance(id),
	)
	require.Error(t, err)
	if !process.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	assert.Contains(t, process.Message(err), "Cancel transition instance '"+id+"'")
	assert.Contains(t, process.Message(err), "Transition instance '"+id+"' does not exist")
}

func TestCancelTransitionInstanceRemovesJob(t *testing.T) {
	def, tree := startInstance(t, modeltest.AsyncTask)
	ti := instance.From(tree).TransitionsForActivity("task")[0]

	res, err := apply(t, modification.NewInterpreter(), tree, def,
		modification.CancelTransitionInstance(ti.ID),
		modification.StartBeforeActivity("theEnd"),
	)
	require.NoError(t, err)

	removed := res.Tree.EffectsOf(execution.EffectJobRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, ti.JobID, removed[0].JobID)
	assert.True(t, res.Ended)
	assert.False(t, res.Tree.EffectsOf(execution.EffectProcessEnded)[0].Canceled)
}

func TestStartBeforeAsyncActivityCreatesTransition(t *testing.T) {
	def, tree := startInstance(t, modeltest.AsyncTask)

	res, err := apply(t, modification.NewInterpreter(), tree, def,
		modification.StartBeforeActivity("task"))
	require.NoError(t, err)

	view := instance.From(res.Tree)
	assert.Len(t, view.TransitionsForActivity("task"), 2)
	assert.Len(t, res.Tree.EffectsOf(execution.EffectJobCreated), 1)
	require.NoError(t, res.Tree.CheckInvariants())
}

func TestCancelCompactsConcurrentBranches(t *testing.T) {
	def, tree := startInstance(t, modeltest.ParallelGateway)
	view := instance.From(tree)
	task1 := onlyInstance(t, view, "task1")
	task2 := onlyInstance(t, view, "task2")
	require.Len(t, tree.Children(tree.Root().ID), 2)

	res, err := apply(t, modification.NewInterpreter(), tree, def,
		modification.CancelActivityInstance(task1.ID))
	require.NoError(t, err)

	root := res.Tree.Root()
	assert.Empty(t, res.Tree.Children(root.ID))
	assert.Equal(t, task2.ID, root.ActivityInstanceID)
	assert.Equal(t, task2.ID, onlyInstance(t, instance.From(res.Tree), "task2").ID)
}

func TestCancelAllForActivity(t *testing.T) {
	def, tree := startInstance(t, modeltest.OneTask)

	res, err := apply(t, modification.NewInterpreter(), tree, def,
		modification.StartBeforeActivity("theTask"),
		modification.StartBeforeActivity("theTask"),
		modification.CancelAllForActivity("theTask"),
		modification.StartBeforeActivity("theTask"),
	)
	require.NoError(t, err)
	assert.Len(t, instance.From(res.Tree).ForActivity("theTask"), 1)
	assert.Len(t, res.Tree.EffectsOf(execution.EffectActivityEnded), 3)
	assert.False(t, res.Ended)
}

func TestStartAfterRequiresSingleOutgoingFlow(t *testing.T) {
	def, tree := startInstance(t, modeltest.ExclusiveFork)

	_, err := apply(t, modification.NewInterpreter(), tree, def,
		modification.StartAfterActivity("fork"))
	require.Error(t, err)
	assert.Contains(t, process.Message(err), "activity has more than one outgoing sequence flow")

	_, err = apply(t, modification.NewInterpreter(), tree, def,
		modification.StartAfterActivity("theEnd"))
	require.Error(t, err)
	assert.Contains(t, process.Message(err), "activity has no outgoing sequence flow to take")

	res, err := apply(t, modification.NewInterpreter(), tree, def,
		modification.StartAfterActivity("task1"))
	require.NoError(t, err)
	assert.Len(t, instance.From(res.Tree).ForActivity("fork"), 1)
}

func TestStartBeforeAmbiguousAncestor(t *testing.T) {
	def, tree := startInstance(t, modeltest.Subprocess)
	interp := modification.NewInterpreter()

	res, err := apply(t, interp, tree, def, modification.StartBeforeActivity("subProcess"))
	require.NoError(t, err)
	tree = res.Tree
	scopes := instance.From(tree).ScopeInstances("subProcess")
	require.Len(t, scopes, 2)

	_, err = apply(t, interp, tree, def, modification.StartBeforeActivity("innerTask"))
	require.Error(t, err)
	assert.True(t, process.IsValidation(err))
	assert.Contains(t, process.Message(err), "Ancestor activity execution is ambiguous")

	res, err = apply(t, interp, tree, def,
		modification.StartBeforeActivity("innerTask").WithAncestor(scopes[1].ID))
	require.NoError(t, err)

	view := instance.From(res.Tree)
	inner := view.ForActivity("innerTask")
	require.Len(t, inner, 3)
	var underSecond int
	for _, ai := range inner {
		if ai.ParentActivityInstanceID == scopes[1].ID {
			underSecond++
		}
	}
	assert.Equal(t, 2, underSecond)
	require.NoError(t, res.Tree.CheckInvariants())
}

func TestStartWithExplicitAncestorValidation(t *testing.T) {
	def, tree := startInstance(t, modeltest.DoubleNested)
	view := instance.From(tree)
	innerTask := onlyInstance(t, view, "innerTask")
	interp := modification.NewInterpreter()

	_, err := apply(t, interp, tree, def,
		modification.StartAfterActivity("innerSubProcessStart").WithAncestor("noValidActivityInstanceId"))
	require.Error(t, err)
	assert.Equal(t,
		"Cannot perform instruction: Start after activity 'innerSubProcessStart' with ancestor activity instance 'noValidActivityInstanceId'; Ancestor activity instance 'noValidActivityInstanceId' does not exist",
		process.Message(err))

	_, err = apply(t, interp, tree, def,
		modification.StartTransition("flow5").WithAncestor(innerTask.ID))
	require.Error(t, err)
	assert.Contains(t, process.Message(err),
		"Scope execution for '"+innerTask.ID+"' cannot be found in parent hierarchy of flow element 'flow5'")
}

func TestStartBeforeInstantiatesMissingScopes(t *testing.T) {
	def, tree := startInstance(t, modeltest.DoubleNested)
	rec := &recorder{}
	interp := modification.NewInterpreter(modification.WithHooks(operation.NewDefinitionHooks(rec.listener())))
	root := instance.From(tree).Root()

	res, err := apply(t, interp, tree, def,
		modification.StartBeforeActivity("innerTask").WithAncestor(root.ID))
	require.NoError(t, err)

	view := instance.From(res.Tree)
	assert.Len(t, view.ScopeInstances("outerSubProcess"), 2)
	assert.Len(t, view.ScopeInstances("innerSubProcess"), 2)
	assert.Equal(t, []string{"start:outerSubProcess", "start:innerSubProcess", "start:innerTask"}, rec.events)
	require.NoError(t, res.Tree.CheckInvariants())
}

func TestStartBeforeSetsInstructionVariables(t *testing.T) {
	def, tree := startInstance(t, modeltest.ParallelGateway)

	res, err := apply(t, modification.NewInterpreter(), tree, def,
		modification.StartBeforeActivity("task1").
			WithVariable("procVar", "procValue").
			WithVariableLocal("localVar", "localValue"))
	require.NoError(t, err)

	var added *instance.ActivityInstance
	for _, ai := range instance.From(res.Tree).ForActivity("task1") {
		added = ai
	}
	require.NotNil(t, added)
	value, ok := res.Tree.Variable(added.ExecutionID(), "localVar")
	require.True(t, ok)
	assert.Equal(t, "localValue", value)
	assert.Equal(t, "procValue", res.Tree.Root().Variables["procVar"])
	_, onRoot := res.Tree.Root().Variables["localVar"]
	assert.False(t, onRoot)
}

func TestSkipFlagsSuppressHooks(t *testing.T) {
	def, tree := startInstance(t, modeltest.IOProcess)
	tree.SetVariable(tree.Root().ID, "processVar", "in")
	rec := &recorder{}
	interp := modification.NewInterpreter(modification.WithHooks(operation.NewDefinitionHooks(rec.listener())))

	res, err := interp.Apply(context.Background(), tree, def, modification.Command{
		ProcessInstanceID: tree.ProcessInstanceID,
		Instructions:      []modification.Instruction{modification.StartBeforeActivity("task")},
		Flags:             operation.Flags{SkipCustomListeners: true, SkipIoMappings: true},
	})
	require.NoError(t, err)
	assert.Empty(t, rec.events)
	for _, ai := range instance.From(res.Tree).ForActivity("task") {
		e, ok := res.Tree.Get(ai.ExecutionID())
		require.True(t, ok)
		_, mapped := e.Variables["inputVar"]
		assert.False(t, mapped, "input mapping of %s must be skipped", ai.ID)
	}
}

func TestInputMappingsRunBeforeStartListener(t *testing.T) {
	def := modeltest.Must(modeltest.IOProcess)
	tree := execution.New(def.ID)
	tree.SetVariable(tree.Root().ID, "processVar", "in")
	var seen any
	hooks := operation.NewDefinitionHooks(operation.ListenerFuncs{
		Start: func(_ context.Context, ev operation.Event) error {
			if ev.ActivityID == "task" {
				seen, _ = ev.Scope.Variable("inputVar")
			}
			return nil
		},
	})
	interp := modification.NewInterpreter(modification.WithHooks(hooks))

	res, err := apply(t, interp, tree, def, modification.StartBeforeActivity("task"))
	require.NoError(t, err)
	assert.Equal(t, "in", seen)

	task := onlyInstance(t, instance.From(res.Tree), "task")
	assert.True(t, task.Scope)
	vars := res.Tree.VisibleVariables(task.ExecutionID())
	assert.Equal(t, "fixed", vars["constant"])
}

func TestListenerFailureAbortsCommand(t *testing.T) {
	def, tree := startInstance(t, modeltest.TwoTasks)
	rec := &recorder{failOn: "task2"}
	interp := modification.NewInterpreter(modification.WithHooks(operation.NewDefinitionHooks(rec.listener())))

	_, err := apply(t, interp, tree, def, modification.StartBeforeActivity("task2"))
	require.Error(t, err)
	assert.Contains(t, process.Message(err), "Cannot perform instruction: Start before activity 'task2'")
	assert.Empty(t, instance.From(tree).ForActivity("task2"))
}

func TestCancelScopeReleasesSubscriptions(t *testing.T) {
	def, tree := startInstance(t, modeltest.Subprocess)
	session := operation.NewSession(context.Background(), tree, def, nil, operation.Flags{})
	inner := onlyInstance(t, instance.From(tree), "innerTask")
	require.NoError(t, session.Signal(inner.ID))
	require.Len(t, tree.Subscriptions(), 1, "completed compensable subprocess subscribes")

	outer := onlyInstance(t, instance.From(tree), "outerTask")
	res, err := apply(t, modification.NewInterpreter(), tree, def,
		modification.CancelActivityInstance(outer.ID))
	require.NoError(t, err)
	assert.True(t, res.Ended)
	assert.Empty(t, res.Tree.Subscriptions())
	assert.Len(t, res.Tree.EffectsOf(execution.EffectSubscriptionRemoved), 1)
}

func TestCancelInnerTaskCancelsEmptiedScope(t *testing.T) {
	def, tree := startInstance(t, modeltest.DoubleNested)
	rec := &recorder{}
	interp := modification.NewInterpreter(modification.WithHooks(operation.NewDefinitionHooks(rec.listener())))
	inner := onlyInstance(t, instance.From(tree), "innerTask")

	res, err := apply(t, interp, tree, def, modification.CancelActivityInstance(inner.ID))
	require.NoError(t, err)
	assert.True(t, res.Ended)
	assert.Equal(t, []string{
		"cancel:innerTask",
		"cancel:innerSubProcess",
		"cancel:outerSubProcess",
		"cancel:" + def.ID,
	}, rec.events)
}

func TestCommandValidation(t *testing.T) {
	def, tree := startInstance(t, modeltest.OneTask)
	interp := modification.NewInterpreter()

	_, err := interp.Apply(context.Background(), tree, def, modification.Command{})
	assert.True(t, process.IsValidation(err))

	_, err = apply(t, interp, tree, def, modification.Instruction{Kind: modification.KindStartBefore})
	require.Error(t, err)
	assert.Contains(t, process.Message(err), "activityId is null")

	_, err = interp.Apply(context.Background(), nil, def, modification.Command{ProcessInstanceID: "gone"})
	assert.True(t, process.IsInstanceState(err))
}
