package operation_test

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/goliatone/go-errors"
	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/execution"
	"github.com/goliatone/go-process/instance"
	"github.com/goliatone/go-process/model/modeltest"
	"github.com/goliatone/go-process/operation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartProcessWaitsAtFirstTask(t *testing.T) {
	def := modeltest.Must(modeltest.TwoTasks)
	tree := execution.New(def.ID)
	s := operation.NewSession(context.Background(), tree, def, nil, operation.Flags{})

	initial, err := s.StartProcess()
	require.NoError(t, err)
	assert.Equal(t, "theStart", initial.ID)

	view := instance.From(tree)
	require.Len(t, view.ForActivity("task1"), 1)
	assert.Empty(t, view.ForActivity("theStart"))

	started := tree.EffectsOf(execution.EffectActivityStarted)
	require.Len(t, started, 3)
	assert.Equal(t, def.ID, started[0].ActivityID)
	assert.Equal(t, "theStart", started[1].ActivityID)
	assert.Equal(t, "task1", started[2].ActivityID)
	assert.Equal(t, tree.Root().ScopeInstanceID, started[2].ParentActivityInstanceID)
}

func TestSignalRunsToCompletion(t *testing.T) {
	def := modeltest.Must(modeltest.TwoTasks)
	tree := execution.New(def.ID)
	s := operation.NewSession(context.Background(), tree, def, nil, operation.Flags{})
	_, err := s.StartProcess()
	require.NoError(t, err)

	task1 := instance.From(tree).ForActivity("task1")[0]
	require.NoError(t, s.Signal(task1.ID))
	task2 := instance.From(tree).ForActivity("task2")[0]
	require.NoError(t, s.Signal(task2.ID))

	ended, err := s.Finish()
	require.NoError(t, err)
	assert.True(t, ended)
	done := tree.EffectsOf(execution.EffectProcessEnded)
	require.Len(t, done, 1)
	assert.False(t, done[0].Canceled)
}

func TestSignalRejectsNonWaitingInstance(t *testing.T) {
	def := modeltest.Must(modeltest.OneTask)
	tree := execution.New(def.ID)
	s := operation.NewSession(context.Background(), tree, def, nil, operation.Flags{})
	_, err := s.StartProcess()
	require.NoError(t, err)

	err = s.Signal(tree.Root().ScopeInstanceID)
	assert.True(t, process.IsValidation(err))

	err = s.Signal("missing")
	assert.True(t, process.IsValidation(err))
}

func TestGatewayJoinsConcurrentBranches(t *testing.T) {
	def := modeltest.Must(modeltest.ForkJoin)
	tree := execution.New(def.ID)
	s := operation.NewSession(context.Background(), tree, def, nil, operation.Flags{})
	_, err := s.StartProcess()
	require.NoError(t, err)

	task1 := instance.From(tree).ForActivity("task1")[0]
	require.NoError(t, s.Signal(task1.ID))

	view := instance.From(tree)
	waiting := view.ForActivity("join")
	require.Len(t, waiting, 1)
	assert.Empty(t, view.ForActivity("afterJoin"))
	require.NoError(t, tree.CheckInvariants())

	err = s.Signal(waiting[0].ID)
	if !process.IsValidation(err) {
		t.Fatalf("expected validation error signaling a join, got %v", err)
	}

	task2 := view.ForActivity("task2")[0]
	require.NoError(t, s.Signal(task2.ID))

	view = instance.From(tree)
	assert.Empty(t, view.ForActivity("join"))
	after := view.ForActivity("afterJoin")
	require.Len(t, after, 1)
	assert.Equal(t, 1, tree.Len())
	require.NoError(t, tree.CheckInvariants())

	var joined []string
	for _, e := range tree.EffectsOf(execution.EffectActivityEnded) {
		if e.ActivityID == "join" {
			joined = append(joined, e.ActivityInstanceID)
		}
	}
	assert.Len(t, joined, 2)
	assert.Contains(t, joined, waiting[0].ID)

	require.NoError(t, s.Signal(after[0].ID))
	ended, err := s.Finish()
	require.NoError(t, err)
	assert.True(t, ended)
}

func TestContinueTransitionEntersActivity(t *testing.T) {
	def := modeltest.Must(modeltest.AsyncTask)
	tree := execution.New(def.ID)
	s := operation.NewSession(context.Background(), tree, def, nil, operation.Flags{})
	_, err := s.StartProcess()
	require.NoError(t, err)

	transitions := instance.From(tree).TransitionsForActivity("task")
	require.Len(t, transitions, 1)
	require.NoError(t, s.ContinueTransition(transitions[0].ID))

	view := instance.From(tree)
	assert.Empty(t, view.TransitionsForActivity("task"))
	assert.Len(t, view.ForActivity("task"), 1)

	err = s.ContinueTransition(transitions[0].ID)
	assert.True(t, process.IsInstanceState(err))
}

func TestScopeTaskMapsOutputsToParent(t *testing.T) {
	def := modeltest.Must(modeltest.IOProcess)
	tree := execution.New(def.ID)
	tree.SetVariable(tree.Root().ID, "processVar", 42)
	s := operation.NewSession(context.Background(), tree, def, operation.NewDefinitionHooks(nil), operation.Flags{})
	_, err := s.StartProcess()
	require.NoError(t, err)

	task := instance.From(tree).ForActivity("task")[0]
	value, ok := tree.Variable(task.ExecutionID(), "inputVar")
	require.True(t, ok)
	assert.Equal(t, 42, value)
	_, onRoot := tree.Root().Variables["inputVar"]
	assert.False(t, onRoot)

	require.NoError(t, s.Signal(task.ID))
	assert.Equal(t, 42, tree.Root().Variables["outputVar"])
}

func TestHookErrorsKeepCategory(t *testing.T) {
	def := modeltest.Must(modeltest.OneTask)
	tree := execution.New(def.ID)
	hooks := operation.NewDefinitionHooks(operation.ListenerFuncs{
		Start: func(_ context.Context, ev operation.Event) error {
			if ev.ActivityID == "theTask" {
				return process.InstanceStatef("instance gone")
			}
			return nil
		},
	})
	s := operation.NewSession(context.Background(), tree, def, hooks, operation.Flags{})
	_, err := s.StartProcess()
	require.Error(t, err)
	assert.True(t, process.IsInstanceState(err))

	tree = execution.New(def.ID)
	hooks = operation.NewDefinitionHooks(operation.ListenerFuncs{
		End: func(context.Context, operation.Event) error { return errors.New("boom") },
	})
	s = operation.NewSession(context.Background(), tree, def, hooks, operation.Flags{})
	_, err = s.StartProcess()
	require.Error(t, err)
	var ae *apperrors.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, apperrors.CategoryHandler, ae.Category)
}
