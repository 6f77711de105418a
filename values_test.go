package process_test

import (
	"encoding/json"
	"testing"
	"time"

	process "github.com/goliatone/go-process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedVariablesKeepGoTypes(t *testing.T) {
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := process.TypedVariables{
		"n":      42,
		"big":    int64(1 << 40),
		"small":  uint8(7),
		"ratio":  float32(0.5),
		"amount": 12.0,
		"name":   "kermit",
		"ok":     true,
		"none":   nil,
		"when":   when,
		"nested": map[string]any{"n": 1, "list": []any{int16(2), "a"}},
		"names":  []string{"a", "b"},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	var out process.TypedVariables
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, 42, out["n"])
	assert.Equal(t, int64(1<<40), out["big"])
	assert.Equal(t, uint8(7), out["small"])
	assert.Equal(t, float32(0.5), out["ratio"])
	assert.Equal(t, 12.0, out["amount"])
	assert.Equal(t, "kermit", out["name"])
	assert.Equal(t, true, out["ok"])
	assert.Contains(t, out, "none")
	assert.Nil(t, out["none"])
	assert.True(t, when.Equal(out["when"].(time.Time)))
	assert.Equal(t, map[string]any{"n": 1, "list": []any{int16(2), "a"}}, out["nested"])
	assert.Equal(t, []any{"a", "b"}, out["names"])
}

func TestUntypedVariablesDecodeIntegers(t *testing.T) {
	var out process.TypedVariables
	doc := `{"n": 12, "f": 1.5, "list": [1, 2.5], "doc": {"type": "custom", "value": 1}, "partial": {"type": "int"}}`
	require.NoError(t, json.Unmarshal([]byte(doc), &out))

	assert.Equal(t, process.TypedVariables{
		"n":       12,
		"f":       1.5,
		"list":    []any{1, 2.5},
		"doc":     map[string]any{"type": "custom", "value": 1},
		"partial": map[string]any{"type": "int"},
	}, out)
}

func TestNilVariablesStayNil(t *testing.T) {
	data, err := json.Marshal(process.TypedVariables(nil))
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	var out process.TypedVariables
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Nil(t, out)
}
