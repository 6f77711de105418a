package restart_test

import (
	"context"
	"testing"
	"time"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/instance"
	"github.com/goliatone/go-process/model/modeltest"
	"github.com/goliatone/go-process/modification"
	"github.com/goliatone/go-process/operation"
	"github.com/goliatone/go-process/persistence"
	"github.com/goliatone/go-process/persistence/memory"
	"github.com/goliatone/go-process/restart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	twoTasks   = "twoTasksProcess:1"
	subprocess = "subprocess:1"
	rootAI     = "twoTasksProcess:1:root"
)

func newAssembler(t *testing.T, records ...any) (*restart.Assembler, *memory.Store) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Update(context.Background(), func(tx persistence.Tx) error {
		for _, r := range records {
			var err error
			switch rec := r.(type) {
			case *persistence.HistoricInstance:
				err = tx.PutHistoricInstance(rec)
			case *persistence.HistoricVariable:
				err = tx.PutHistoricVariable(rec)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}))
	repo := modeltest.Repository(modeltest.TwoTasks, modeltest.Subprocess)
	return restart.NewAssembler(store, repo, modification.NewInterpreter()), store
}

func finished(id string) *persistence.HistoricInstance {
	end := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &persistence.HistoricInstance{
		ID:                   id,
		DefinitionID:         twoTasks,
		DefinitionKey:        "twoTasksProcess",
		BusinessKey:          "order-7",
		TenantID:             "tenant-a",
		RootActivityInstance: rootAI,
		StartActivityID:      "theStart",
		State:                persistence.StateExternallyTerminated,
		EndTime:              &end,
	}
}

func variable(name string, latest, initial any, isInitial bool, scope string) *persistence.HistoricVariable {
	return &persistence.HistoricVariable{
		ProcessInstanceID: "old",
		ScopeInstanceID:   scope,
		Name:              name,
		Value:             latest,
		InitialValue:      initial,
		Initial:           isInitial,
	}
}

func startBefore(activityID string) restart.Options {
	return restart.Options{Instructions: []modification.Instruction{modification.StartBeforeActivity(activityID)}}
}

func TestRestartStartsFreshInstance(t *testing.T) {
	a, _ := newAssembler(t, finished("old"))

	res, err := a.Restart(context.Background(), twoTasks, "old", startBefore("task2"))
	require.NoError(t, err)
	require.False(t, res.Ended)
	assert.NotEqual(t, "old", res.Tree.ProcessInstanceID)
	assert.Equal(t, "order-7", res.Tree.BusinessKey)
	assert.Equal(t, "tenant-a", res.Tree.TenantID)
	assert.Equal(t, "old", res.Source.ID)

	view := instance.From(res.Tree)
	assert.Len(t, view.ForActivity("task2"), 1)
	assert.Empty(t, view.ForActivity("task1"))
	require.NoError(t, res.Tree.CheckInvariants())
}

func TestRestartWithoutBusinessKey(t *testing.T) {
	a, _ := newAssembler(t, finished("old"))
	opts := startBefore("task1")
	opts.WithoutBusinessKey = true

	res, err := a.Restart(context.Background(), twoTasks, "old", opts)
	require.NoError(t, err)
	assert.Empty(t, res.Tree.BusinessKey)
	assert.Equal(t, "tenant-a", res.Tree.TenantID)
}

func TestRestartCopiesLatestProcessVariables(t *testing.T) {
	a, _ := newAssembler(t,
		finished("old"),
		variable("var", "foo", "bar", true, rootAI),
		variable("local", "x", "x", false, "subProcess:1"),
	)

	res, err := a.Restart(context.Background(), twoTasks, "old", startBefore("task1"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"var": "foo"}, res.Tree.Root().Variables)
	assert.False(t, res.InitialVariables)
}

func TestRestartWithInitialSetOfVariables(t *testing.T) {
	a, _ := newAssembler(t,
		finished("old"),
		variable("var", "foo", "bar", true, rootAI),
		variable("later", "foo", "foo", false, rootAI),
	)
	opts := startBefore("task1")
	opts.InitialSetOfVariables = true

	res, err := a.Restart(context.Background(), twoTasks, "old", opts)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"var": "bar"}, res.Tree.Root().Variables)
	assert.True(t, res.InitialVariables)
}

func TestInitialVariablesNeedUniqueStartActivity(t *testing.T) {
	source := finished("old")
	source.StartActivityID = ""
	a, _ := newAssembler(t, source, variable("foo", "bar", "bar", true, rootAI))
	opts := startBefore("task1")
	opts.InitialSetOfVariables = true

	res, err := a.Restart(context.Background(), twoTasks, "old", opts)
	require.NoError(t, err)
	assert.Empty(t, res.Tree.Root().Variables)
}

func TestRestartSkipsCustomListeners(t *testing.T) {
	var started []string
	listener := operation.ListenerFuncs{Start: func(_ context.Context, ev operation.Event) error {
		started = append(started, ev.ActivityID)
		return nil
	}}
	store := memory.New()
	require.NoError(t, store.Update(context.Background(), func(tx persistence.Tx) error {
		return tx.PutHistoricInstance(finished("old"))
	}))
	interp := modification.NewInterpreter(modification.WithHooks(operation.NewDefinitionHooks(listener)))
	a := restart.NewAssembler(store, modeltest.Repository(modeltest.TwoTasks), interp)

	_, err := a.Restart(context.Background(), twoTasks, "old", startBefore("task1"))
	require.NoError(t, err)
	assert.Equal(t, []string{twoTasks, "task1"}, started)

	started = nil
	opts := startBefore("task1")
	opts.Flags.SkipCustomListeners = true
	_, err = a.Restart(context.Background(), twoTasks, "old", opts)
	require.NoError(t, err)
	assert.Empty(t, started)
}

func TestRestartErrors(t *testing.T) {
	active := finished("running")
	active.EndTime = nil
	active.State = persistence.StateActive
	other := finished("other")
	other.DefinitionID = subprocess

	a, _ := newAssembler(t, finished("old"), active, other)
	ctx := context.Background()

	tests := []struct {
		name       string
		definition string
		id         string
		opts       restart.Options
		check      func(error) bool
		want       string
	}{
		{"no definition", "", "old", startBefore("task1"), process.IsValidation, "processDefinitionId is null"},
		{"no instructions", twoTasks, "old", restart.Options{}, process.IsValidation, "Restart instructions cannot be empty"},
		{"cancel instruction", twoTasks, "old", restart.Options{Instructions: []modification.Instruction{modification.CancelAllForActivity("task1")}}, process.IsValidation, "Cannot restart process instance with cancel instruction"},
		{"missing history", twoTasks, "nope", startBefore("task1"), process.IsValidation, "Historic process instance cannot be found"},
		{"definition mismatch", twoTasks, "other", startBefore("task1"), process.IsValidation, "Its process definition 'subprocess:1' does not match given process definition 'twoTasksProcess:1'"},
		{"still active", twoTasks, "running", startBefore("task1"), process.IsInstanceState, "is still active"},
		{"unknown activity", twoTasks, "old", startBefore("nope"), process.IsValidation, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Restart(ctx, tt.definition, tt.id, tt.opts)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error class: %v", err)
			assert.Contains(t, process.Message(err), tt.want)
		})
	}
}
