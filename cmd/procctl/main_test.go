package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/model/modeltest"
	"github.com/goliatone/go-process/modification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t      *testing.T
	deploy string
	store  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two-tasks.yaml"), []byte(modeltest.TwoTasks), 0o600))
	return &harness{
		t:      t,
		deploy: filepath.Join(dir, "*.yaml"),
		store:  filepath.Join(dir, "state.db"),
	}
}

// run executes one procctl invocation and returns its stdout.
func (h *harness) run(args ...string) ([]byte, error) {
	h.t.Helper()
	var out bytes.Buffer
	var cli CLI
	cli.out = &out
	cli.logOut = io.Discard
	parser, err := newParser(&cli, kong.Exit(func(code int) {
		h.t.Fatalf("procctl exited with %d", code)
	}))
	require.NoError(h.t, err)
	ctx, err := parser.Parse(append([]string{"--deploy", h.deploy, "--store", h.store}, args...))
	require.NoError(h.t, err)
	err = ctx.Run(&cli.Globals)
	return out.Bytes(), err
}

func (h *harness) mustRun(out any, args ...string) {
	h.t.Helper()
	data, err := h.run(args...)
	if err != nil {
		h.t.Fatalf("procctl %v: %v", args, err)
	}
	if out != nil {
		require.NoError(h.t, json.Unmarshal(data, out), string(data))
	}
}

type activityNode struct {
	ID         string          `json:"id"`
	ActivityID string          `json:"activityId"`
	Children   []*activityNode `json:"childActivityInstances"`
}

func (n *activityNode) child(activityID string) *activityNode {
	for _, c := range n.Children {
		if c.ActivityID == activityID {
			return c
		}
	}
	return nil
}

type instanceOut struct {
	ID           string `json:"id"`
	DefinitionID string `json:"definitionId"`
	BusinessKey  string `json:"businessKey"`
	Ended        bool   `json:"ended"`
}

func TestInstanceLifecycleThroughCLI(t *testing.T) {
	h := newHarness(t)

	var started instanceOut
	h.mustRun(&started, "start", "twoTasksProcess", "--business-key", "order-1", "-v", "amount=12", "-v", "owner=kermit")
	require.NotEmpty(t, started.ID)
	assert.Equal(t, "twoTasksProcess:1", started.DefinitionID)
	assert.False(t, started.Ended)

	var tree activityNode
	h.mustRun(&tree, "tree", started.ID)
	task1 := tree.child("task1")
	require.NotNil(t, task1)

	var modified activityNode
	h.mustRun(&modified, "modify", started.ID, "start-before:task2", "cancel:"+task1.ID, "--annotation", "skip review")
	assert.Nil(t, modified.child("task1"))
	task2 := modified.child("task2")
	require.NotNil(t, task2)

	var vars map[string]any
	h.mustRun(&vars, "variables", started.ID)
	assert.Equal(t, map[string]any{"amount": float64(12), "owner": "kermit"}, vars)

	var signaled instanceOut
	h.mustRun(&signaled, "signal", started.ID, task2.ID)
	assert.True(t, signaled.Ended)

	var history []map[string]any
	h.mustRun(&history, "instances", "--history", "--finished")
	require.Len(t, history, 1)
	assert.Equal(t, started.ID, history[0]["id"])

	var created []string
	h.mustRun(&created, "restart", "twoTasksProcess:1", "start-before:task1", "-i", started.ID)
	require.Len(t, created, 1)
	assert.NotEqual(t, started.ID, created[0])

	var running []map[string]any
	h.mustRun(&running, "instances", "--business-key", "order-1")
	require.Len(t, running, 1)
	assert.Equal(t, created[0], running[0]["id"])
}

func TestModificationBatchThroughCLI(t *testing.T) {
	h := newHarness(t)

	var a, b instanceOut
	h.mustRun(&a, "start", "twoTasksProcess")
	h.mustRun(&b, "start", "twoTasksProcess")

	var created map[string]any
	h.mustRun(&created, "batch", "modify", "twoTasksProcess:1", "start-before:task2", "--all-running")
	batchID, _ := created["id"].(string)
	require.NotEmpty(t, batchID)

	var summary runSummary
	h.mustRun(&summary, "jobs", "drain")
	assert.GreaterOrEqual(t, summary.Executed, 2)
	assert.Zero(t, summary.Failed)

	for _, id := range []string{a.ID, b.ID} {
		var tree activityNode
		h.mustRun(&tree, "tree", id)
		assert.NotNil(t, tree.child("task1"), id)
		assert.NotNil(t, tree.child("task2"), id)
	}

	var incidents []map[string]any
	h.mustRun(&incidents, "incidents", "--batch", batchID)
	assert.Empty(t, incidents)
}

func TestModifyReadsInstructionFile(t *testing.T) {
	h := newHarness(t)

	var started instanceOut
	h.mustRun(&started, "start", "twoTasksProcess")

	file := filepath.Join(t.TempDir(), "instructions.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
instructions:
  - type: startBeforeActivity
    activityId: task2
    variables:
      approved: true
  - type: cancelAllForActivity
    activityId: task1
`), 0o600))

	var tree activityNode
	h.mustRun(&tree, "modify", started.ID, "-f", file)
	assert.Nil(t, tree.child("task1"))
	assert.NotNil(t, tree.child("task2"))

	var vars map[string]any
	h.mustRun(&vars, "variables", started.ID)
	assert.Equal(t, true, vars["approved"])
}

func TestCLIErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("start", "unknownProcess")
	require.Error(t, err)

	_, err = h.run("modify", "missing", "bogus:task2")
	require.Error(t, err)
	assert.True(t, process.IsValidation(err))

	_, err = h.run("modify", "missing", "start-before:task2")
	require.Error(t, err)
	assert.Equal(t, "Process instance 'missing' does not exist", process.Message(err))
}

func TestReadInstructionsRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"broken yaml":    "instructions: [unterminated",
		"not a list":     "instructions: {type: cancel}",
		"missing a file": "",
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "-")+".yaml")
			if content != "" {
				require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			}
			_, err := readInstructions(path)
			if !process.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			assert.Contains(t, process.Message(err), path)
		})
	}
}

func TestParseInstructionsKeepsOrder(t *testing.T) {
	got, err := parseInstructions([]string{"cancel-all:task1", "start-before:task2", "start-transition:flow3"})
	require.NoError(t, err)
	assert.Equal(t, []modification.Instruction{
		modification.CancelAllForActivity("task1"),
		modification.StartBeforeActivity("task2"),
		modification.StartTransition("flow3"),
	}, got)

	_, err = parseInstructions([]string{"start-before"})
	require.Error(t, err)
}

func TestParseVariables(t *testing.T) {
	vars := parseVariables(map[string]string{"n": "12", "ok": "true", "name": "bob", "list": `[1,2]`})
	assert.Equal(t, float64(12), vars["n"])
	assert.Equal(t, true, vars["ok"])
	assert.Equal(t, "bob", vars["name"])
	assert.Equal(t, []any{float64(1), float64(2)}, vars["list"])
	assert.Nil(t, parseVariables(nil))
}
