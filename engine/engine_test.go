package engine_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/batch"
	"github.com/goliatone/go-process/engine"
	"github.com/goliatone/go-process/instance"
	"github.com/goliatone/go-process/job"
	"github.com/goliatone/go-process/model/modeltest"
	"github.com/goliatone/go-process/modification"
	"github.com/goliatone/go-process/operation"
	"github.com/goliatone/go-process/persistence"
	"github.com/goliatone/go-process/restart"
	"github.com/goliatone/go-process/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	twoTasks  = "twoTasksProcess"
	asyncTask = "asyncTaskProcess"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	engine *engine.Engine
	clock  *clock
}

func newFixture(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()
	f := &fixture{clock: &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}}
	var seq atomic.Int64
	base := []engine.Option{
		engine.WithDefinitions(modeltest.Repository(modeltest.TwoTasks, modeltest.AsyncTask)),
		engine.WithClock(f.clock.Now),
		engine.WithIDGenerator(func() string { return fmt.Sprintf("id-%04d", seq.Add(1)) }),
		engine.WithExecutorOptions(
			job.WithWorkerID("worker"),
			job.WithBackoff(runner.NoDelayStrategy{}),
		),
	}
	f.engine = engine.New(append(base, opts...)...)
	t.Cleanup(func() { _ = f.engine.Close() })
	return f
}

func (f *fixture) start(t *testing.T, key string, vars map[string]any) *engine.ProcessInstance {
	t.Helper()
	pi, err := f.engine.StartProcessInstance(context.Background(), key, engine.StartOptions{
		BusinessKey: "order-7",
		Variables:   vars,
	})
	require.NoError(t, err)
	return pi
}

func (f *fixture) view(t *testing.T, id string) *instance.View {
	t.Helper()
	tree, err := f.engine.ExecutionTree(context.Background(), id)
	require.NoError(t, err)
	return instance.From(tree)
}

func (f *fixture) waiting(t *testing.T, id, activityID string) string {
	t.Helper()
	found := f.view(t, id).ForActivity(activityID)
	require.Len(t, found, 1, "expected one instance of %s", activityID)
	return found[0].ID
}

func TestStartAndSignalToCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pi := f.start(t, twoTasks, map[string]any{"order": "A"})
	assert.False(t, pi.Ended)
	assert.Equal(t, "twoTasksProcess:1", pi.DefinitionID)

	_, err := f.engine.Signal(ctx, pi.ID, f.waiting(t, pi.ID, "task1"), map[string]any{"approved": "yes"})
	require.NoError(t, err)

	res, err := f.engine.Signal(ctx, pi.ID, f.waiting(t, pi.ID, "task2"), nil)
	require.NoError(t, err)
	assert.True(t, res.Ended)

	_, err = f.engine.ExecutionTree(ctx, pi.ID)
	assert.True(t, process.IsNotFound(err))

	h, err := f.engine.HistoricInstance(ctx, pi.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StateCompleted, h.State)
	assert.Equal(t, "theStart", h.StartActivityID)
	assert.Equal(t, "order-7", h.BusinessKey)
	require.NotNil(t, h.EndTime)

	vars, err := f.engine.HistoricVariables(ctx, pi.ID)
	require.NoError(t, err)
	byName := map[string]*persistence.HistoricVariable{}
	for _, v := range vars {
		byName[v.Name] = v
	}
	require.Contains(t, byName, "order")
	require.Contains(t, byName, "approved")
	assert.True(t, byName["order"].Initial)
	assert.False(t, byName["approved"].Initial)
	assert.Equal(t, "yes", byName["approved"].Value)
}

func TestDefinitionMappingsRunByDefault(t *testing.T) {
	f := newFixture(t, engine.WithDefinitions(modeltest.Repository(modeltest.IOProcess)))
	ctx := context.Background()
	pi := f.start(t, "ioProcess", map[string]any{"processVar": "x"})

	tree, err := f.engine.ExecutionTree(ctx, pi.ID)
	require.NoError(t, err)
	task := instance.From(tree).ForActivity("task")
	require.Len(t, task, 1)
	value, ok := tree.Variable(task[0].ExecutionID(), "inputVar")
	require.True(t, ok)
	assert.Equal(t, "x", value)
	value, _ = tree.Variable(task[0].ExecutionID(), "constant")
	assert.Equal(t, "fixed", value)

	err = f.engine.ExecuteModification(ctx, modification.Command{
		ProcessInstanceID: pi.ID,
		Instructions: []modification.Instruction{
			modification.CancelAllForActivity("task"),
			modification.StartBeforeActivity("task"),
		},
		Flags: operation.Flags{SkipIoMappings: true},
	})
	require.NoError(t, err)
	tree, err = f.engine.ExecutionTree(ctx, pi.ID)
	require.NoError(t, err)
	task = instance.From(tree).ForActivity("task")
	require.Len(t, task, 1)
	_, ok = tree.Variable(task[0].ExecutionID(), "inputVar")
	assert.False(t, ok)

	err = f.engine.ExecuteModification(ctx, modification.Command{
		ProcessInstanceID: pi.ID,
		Instructions: []modification.Instruction{
			modification.CancelAllForActivity("task"),
			modification.StartBeforeActivity("task"),
		},
	})
	require.NoError(t, err)
	task = f.view(t, pi.ID).ForActivity("task")
	require.Len(t, task, 1)
	res, err := f.engine.Signal(ctx, pi.ID, task[0].ID, nil)
	require.NoError(t, err)
	assert.True(t, res.Ended)

	vars, err := f.engine.HistoricVariables(ctx, pi.ID)
	require.NoError(t, err)
	var output any
	for _, v := range vars {
		if v.Name == "outputVar" {
			output = v.Value
		}
	}
	assert.Equal(t, "x", output)
}

func TestVariableTypesSurviveCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pi := f.start(t, twoTasks, map[string]any{"count": 3})

	err := f.engine.ExecuteModification(ctx, modification.Command{
		ProcessInstanceID: pi.ID,
		Instructions: []modification.Instruction{
			modification.StartBeforeActivity("task2").
				WithVariable("n", 42).
				WithVariable("ratio", float32(0.5)).
				WithVariable("items", []any{1, "two"}),
		},
	})
	require.NoError(t, err)

	vars, err := f.engine.Variables(ctx, pi.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, vars["count"])
	assert.Equal(t, 42, vars["n"])
	assert.Equal(t, float32(0.5), vars["ratio"])
	assert.Equal(t, []any{1, "two"}, vars["items"])

	require.NoError(t, f.engine.DeleteProcessInstance(ctx, pi.ID, "", operation.Flags{}))
	ids, err := f.engine.Restart(ctx, engine.RestartRequest{
		DefinitionID: "twoTasksProcess:1",
		InstanceIDs:  []string{pi.ID},
		Options: restart.Options{
			Instructions: []modification.Instruction{modification.StartBeforeActivity("task1")},
		},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	vars, err = f.engine.Variables(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 42, vars["n"])
	assert.Equal(t, 3, vars["count"])

	other := f.start(t, twoTasks, nil)
	b, err := f.engine.ExecuteModificationAsync(ctx, batch.Submission{
		ProcessDefinitionID: "twoTasksProcess:1",
		InstanceIDs:         []string{other.ID},
		Instructions:        []modification.Instruction{modification.StartBeforeActivity("task2").WithVariable("n", int64(7))},
	})
	require.NoError(t, err)
	f.drain(t, b.ID)
	vars, err = f.engine.Variables(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), vars["n"])
}

func TestExecuteModificationIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pi := f.start(t, twoTasks, nil)

	err := f.engine.ExecuteModification(ctx, modification.Command{
		ProcessInstanceID: pi.ID,
		Instructions: []modification.Instruction{
			modification.CancelAllForActivity("task1"),
			modification.StartBeforeActivity("task2"),
		},
	})
	require.NoError(t, err)
	view := f.view(t, pi.ID)
	assert.Empty(t, view.ForActivity("task1"))
	assert.Len(t, view.ForActivity("task2"), 1)

	before, err := f.engine.Instances(ctx, persistence.InstanceQuery{IDs: []string{pi.ID}})
	require.NoError(t, err)
	require.Len(t, before, 1)

	err = f.engine.ExecuteModification(ctx, modification.Command{
		ProcessInstanceID: pi.ID,
		Instructions: []modification.Instruction{
			modification.StartBeforeActivity("task1"),
			modification.StartBeforeActivity("nope"),
		},
	})
	require.Error(t, err)
	assert.True(t, process.IsValidation(err))
	assert.Contains(t, process.Message(err), "nope")

	after, err := f.engine.Instances(ctx, persistence.InstanceQuery{IDs: []string{pi.ID}})
	require.NoError(t, err)
	assert.Equal(t, before[0].Version, after[0].Version)
	assert.Empty(t, f.view(t, pi.ID).ForActivity("task1"))
}

func TestModificationOfUnknownInstance(t *testing.T) {
	f := newFixture(t)
	err := f.engine.ExecuteModification(context.Background(), modification.Command{
		ProcessInstanceID: "missing",
		Instructions:      []modification.Instruction{modification.StartBeforeActivity("task1")},
	})
	require.Error(t, err)
	assert.True(t, process.IsInstanceState(err))
	assert.Equal(t, "Process instance 'missing' does not exist", process.Message(err))
}

func TestConcurrentCommandIsTransient(t *testing.T) {
	var (
		eng   *engine.Engine
		fired bool
		inner error
	)
	listener := operation.ListenerFuncs{Start: func(ctx context.Context, ev operation.Event) error {
		if ev.ActivityID != "task2" || fired {
			return nil
		}
		fired = true
		inner = eng.ExecuteModification(ctx, modification.Command{
			ProcessInstanceID: ev.ProcessInstanceID,
			Instructions:      []modification.Instruction{modification.StartBeforeActivity("task1")},
		})
		return nil
	}}
	f := newFixture(t, engine.WithHooks(operation.NewDefinitionHooks(listener)))
	eng = f.engine
	pi := f.start(t, twoTasks, nil)

	err := eng.ExecuteModification(context.Background(), modification.Command{
		ProcessInstanceID: pi.ID,
		Instructions:      []modification.Instruction{modification.StartBeforeActivity("task2")},
	})
	require.NoError(t, inner)
	require.Error(t, err)
	assert.True(t, process.IsTransient(err))

	view := f.view(t, pi.ID)
	assert.Len(t, view.ForActivity("task1"), 2)
	assert.Empty(t, view.ForActivity("task2"))
}

func TestAsyncContinuationJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pi := f.start(t, asyncTask, nil)

	transitions := f.view(t, pi.ID).TransitionsForActivity("task")
	require.Len(t, transitions, 1)
	jobs, err := f.engine.Jobs(ctx, persistence.JobQuery{ProcessInstanceID: pi.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, persistence.JobTypeAsyncContinuation, jobs[0].Type)
	assert.Equal(t, transitions[0].ID, jobs[0].TransitionInstanceID)

	require.NoError(t, f.engine.ExecuteJob(ctx, jobs[0].ID))

	view := f.view(t, pi.ID)
	assert.Empty(t, view.TransitionsForActivity("task"))
	assert.Len(t, view.ForActivity("task"), 1)
	jobs, err = f.engine.Jobs(ctx, persistence.JobQuery{ProcessInstanceID: pi.ID})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCancelTransitionRemovesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pi := f.start(t, asyncTask, nil)
	ti := f.view(t, pi.ID).TransitionsForActivity("task")[0]

	err := f.engine.ExecuteModification(ctx, modification.Command{
		ProcessInstanceID: pi.ID,
		Instructions:      []modification.Instruction{modification.CancelTransitionInstance(ti.ID)},
	})
	require.NoError(t, err)

	jobs, err := f.engine.Jobs(ctx, persistence.JobQuery{ProcessInstanceID: pi.ID})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	_, err = f.engine.ExecutionTree(ctx, pi.ID)
	assert.True(t, process.IsNotFound(err))

	h, err := f.engine.HistoricInstance(ctx, pi.ID)
	require.NoError(t, err)
	assert.NotNil(t, h.EndTime)
}

func TestDeleteProcessInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pi := f.start(t, asyncTask, nil)

	require.NoError(t, f.engine.DeleteProcessInstance(ctx, pi.ID, "no longer needed", operation.Flags{}))

	_, err := f.engine.ActivityInstance(ctx, pi.ID)
	assert.True(t, process.IsNotFound(err))
	jobs, err := f.engine.Jobs(ctx, persistence.JobQuery{})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	h, err := f.engine.HistoricInstance(ctx, pi.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StateExternallyTerminated, h.State)
	assert.Equal(t, "no longer needed", h.DeleteReason)

	err = f.engine.DeleteProcessInstance(ctx, pi.ID, "again", operation.Flags{})
	assert.True(t, process.IsInstanceState(err))
}

func TestStartProcessInstanceAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pi, err := f.engine.StartProcessInstanceAt(ctx, twoTasks,
		[]modification.Instruction{modification.StartBeforeActivity("task2")},
		engine.StartOptions{Variables: map[string]any{"foo": "bar"}})
	require.NoError(t, err)
	assert.Len(t, f.view(t, pi.ID).ForActivity("task2"), 1)
	assert.Empty(t, f.view(t, pi.ID).ForActivity("task1"))

	vars, err := f.engine.Variables(ctx, pi.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"foo": "bar"}, vars)

	h, err := f.engine.HistoricInstance(ctx, pi.ID)
	require.NoError(t, err)
	assert.Equal(t, "task2", h.StartActivityID)

	_, err = f.engine.StartProcessInstanceAt(ctx, twoTasks,
		[]modification.Instruction{modification.CancelAllForActivity("task1")}, engine.StartOptions{})
	assert.True(t, process.IsValidation(err))

	_, err = f.engine.StartProcessInstance(ctx, "unknown", engine.StartOptions{})
	assert.True(t, process.IsNotFound(err))
}

func TestRestartCreatesInstanceFromHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.start(t, twoTasks, map[string]any{"var": "bar"})
	running := f.start(t, twoTasks, nil)
	require.NoError(t, f.engine.DeleteProcessInstance(ctx, old.ID, "", operation.Flags{}))

	ids, err := f.engine.Restart(ctx, engine.RestartRequest{
		DefinitionID: "twoTasksProcess:1",
		InstanceIDs:  []string{old.ID},
		Options: restart.Options{
			Instructions: []modification.Instruction{modification.StartBeforeActivity("task2")},
		},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.NotEqual(t, old.ID, ids[0])

	assert.Len(t, f.view(t, ids[0]).ForActivity("task2"), 1)
	vars, err := f.engine.Variables(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"var": "bar"}, vars)

	h, err := f.engine.HistoricInstance(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, old.ID, h.RestartedFrom)
	assert.Equal(t, "task2", h.StartActivityID)
	assert.Equal(t, "order-7", h.BusinessKey)

	_, err = f.engine.Restart(ctx, engine.RestartRequest{
		DefinitionID: "twoTasksProcess:1",
		InstanceIDs:  []string{running.ID},
		Options: restart.Options{
			Instructions: []modification.Instruction{modification.StartBeforeActivity("task1")},
		},
	})
	require.Error(t, err)
	assert.True(t, process.IsInstanceState(err))

	_, err = f.engine.Restart(ctx, engine.RestartRequest{
		DefinitionID: "twoTasksProcess:1",
		Options: restart.Options{
			Instructions: []modification.Instruction{modification.StartBeforeActivity("task1")},
		},
	})
	require.Error(t, err)
	assert.Equal(t, "processInstanceIds is empty", process.Message(err))
}

func (f *fixture) drain(t *testing.T, batchID string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := f.engine.Executor().RunOnce(ctx)
		require.NoError(t, err)
		if _, err := f.engine.Batch(ctx, batchID); process.IsNotFound(err) {
			return
		}
		f.clock.Advance(time.Minute)
	}
	t.Fatalf("batch %s did not complete", batchID)
}

func TestModificationBatchEndToEnd(t *testing.T) {
	f := newFixture(t, engine.WithBatchOptions(batch.WithJobsPerSeed(2)))
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, f.start(t, twoTasks, nil).ID)
	}

	b, err := f.engine.ExecuteModificationAsync(ctx, batch.Submission{
		ProcessDefinitionID: "twoTasksProcess:1",
		InstanceIDs:         ids,
		Instructions: []modification.Instruction{
			modification.CancelAllForActivity("task1"),
			modification.StartBeforeActivity("task2"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, batch.TypeModification, b.Type)
	assert.Equal(t, 3, b.TotalJobs)

	seed, err := f.engine.GetSeedJob(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, seed)

	f.drain(t, b.ID)

	for _, id := range ids {
		view := f.view(t, id)
		assert.Empty(t, view.ForActivity("task1"), id)
		assert.Len(t, view.ForActivity("task2"), 1, id)
	}
	hb, err := f.engine.HistoricBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.NotNil(t, hb.EndTime)
	monitor, err := f.engine.GetMonitorJob(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, monitor)
}

func TestRestartBatchEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 2; i++ {
		pi := f.start(t, twoTasks, nil)
		require.NoError(t, f.engine.DeleteProcessInstance(ctx, pi.ID, "", operation.Flags{}))
		ids = append(ids, pi.ID)
	}

	b, err := f.engine.RestartAsync(ctx, batch.Submission{
		ProcessDefinitionID: "twoTasksProcess:1",
		HistoricQuery:       &persistence.HistoricInstanceQuery{DefinitionID: "twoTasksProcess:1", Finished: true},
		Instructions:        []modification.Instruction{modification.StartBeforeActivity("task1")},
	})
	require.NoError(t, err)
	assert.Equal(t, batch.TypeRestart, b.Type)

	f.drain(t, b.ID)

	restarted, err := f.engine.HistoricInstances(ctx, persistence.HistoricInstanceQuery{State: persistence.StateActive})
	require.NoError(t, err)
	require.Len(t, restarted, 2)
	var sources []string
	for _, h := range restarted {
		sources = append(sources, h.RestartedFrom)
	}
	assert.ElementsMatch(t, ids, sources)
}

func TestFailedBatchJobRaisesIncident(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pi := f.start(t, twoTasks, nil)

	b, err := f.engine.ExecuteModificationAsync(ctx, batch.Submission{
		ProcessDefinitionID: "twoTasksProcess:1",
		InstanceIDs:         []string{pi.ID},
		Instructions:        []modification.Instruction{modification.StartBeforeActivity("nope")},
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.engine.Executor().RunOnce(ctx)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	jobs, err := f.engine.GetExecutionJobs(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 0, jobs[0].Retries)
	assert.Contains(t, jobs[0].ExceptionMessage, "cannot be modified")

	incidents, err := f.engine.Incidents(ctx, persistence.IncidentQuery{BatchID: b.ID})
	require.NoError(t, err)
	assert.Len(t, incidents, 1)

	stats, err := f.engine.BatchStatistics(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FailedJobs)

	require.NoError(t, f.engine.DeleteBatch(ctx, b.ID, true))
	historic, err := f.engine.HistoricIncidents(ctx, persistence.IncidentQuery{BatchID: b.ID})
	require.NoError(t, err)
	assert.Empty(t, historic)
}

func TestCleanupHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	done := f.start(t, twoTasks, map[string]any{"foo": "bar"})
	require.NoError(t, f.engine.DeleteProcessInstance(ctx, done.ID, "", operation.Flags{}))
	running := f.start(t, twoTasks, nil)

	report, err := f.engine.CleanupHistory(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, engine.CleanupReport{}, report)

	f.clock.Advance(48 * time.Hour)
	report, err = f.engine.CleanupHistory(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Instances)
	assert.Equal(t, 1, report.Variables)

	_, err = f.engine.HistoricInstance(ctx, done.ID)
	assert.True(t, process.IsNotFound(err))
	_, err = f.engine.HistoricInstance(ctx, running.ID)
	assert.NoError(t, err)
}

func TestCommandSpansRecordErrors(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	f := newFixture(t, engine.WithTracerProvider(tp))
	ctx := context.Background()

	pi := f.start(t, twoTasks, nil)
	err := f.engine.ExecuteModification(ctx, modification.Command{
		ProcessInstanceID: "missing",
		Instructions:      []modification.Instruction{modification.StartBeforeActivity("task1")},
	})
	require.Error(t, err)

	spans := exporter.GetSpans()
	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	require.Contains(t, byName, "engine.StartProcessInstance")
	require.Contains(t, byName, "engine.ExecuteModification")
	assert.Equal(t, codes.Unset, byName["engine.StartProcessInstance"].Status.Code)
	assert.Equal(t, codes.Error, byName["engine.ExecuteModification"].Status.Code)

	attrs := map[string]string{}
	for _, kv := range byName["engine.StartProcessInstance"].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, pi.ID, attrs["process.instance_id"])
}
