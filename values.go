package process

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TypedValue keeps the Go type of a variable value across JSON encoding.
// Strings, booleans, the sized and unsized integer and float kinds,
// json.Number, time.Time, []any and map[string]any round trip exactly. Any
// other value is written as plain JSON and read back generically.
//
// Documents written without type tags are accepted: integral numbers decode
// as int, other numbers as float64.
type TypedValue struct {
	Value any
}

type typedEnvelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

const (
	valueNull   = "null"
	valueTime   = "time"
	valueList   = "list"
	valueMap    = "map"
	valueNumber = "number"
	valueJSON   = "json"
)

func (v TypedValue) MarshalJSON() ([]byte, error) {
	typ, payload := describeValue(v.Value)
	env := typedEnvelope{Type: typ}
	if typ != valueNull {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Value = raw
	}
	return json.Marshal(env)
}

func describeValue(v any) (string, any) {
	switch x := v.(type) {
	case nil:
		return valueNull, nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return fmt.Sprintf("%T", v), v
	case json.Number:
		return valueNumber, x
	case time.Time:
		return valueTime, x
	case []any:
		items := make([]TypedValue, len(x))
		for i, item := range x {
			items[i] = TypedValue{Value: item}
		}
		return valueList, items
	case map[string]any:
		return valueMap, TypedVariables(x)
	default:
		return valueJSON, v
	}
}

func (v *TypedValue) UnmarshalJSON(data []byte) error {
	if env, ok := envelope(data); ok {
		value, err := decodeTyped(env)
		if err != nil {
			return err
		}
		v.Value = value
		return nil
	}
	value, err := decodeUntyped(data)
	if err != nil {
		return err
	}
	v.Value = value
	return nil
}

// envelope reports whether data is an object holding only a known type tag
// and its value.
func envelope(data []byte) (typedEnvelope, bool) {
	var env typedEnvelope
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return env, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return env, false
	}
	for k := range fields {
		if k != "type" && k != "value" {
			return env, false
		}
	}
	if err := json.Unmarshal(fields["type"], &env.Type); err != nil || !knownValueType(env.Type) {
		return env, false
	}
	raw, ok := fields["value"]
	if !ok && env.Type != valueNull {
		return env, false
	}
	env.Value = raw
	return env, true
}

func knownValueType(typ string) bool {
	switch typ {
	case valueNull, valueTime, valueList, valueMap, valueNumber, valueJSON,
		"string", "bool",
		"int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64",
		"float32", "float64":
		return true
	}
	return false
}

func decodeAs[T any](raw json.RawMessage) (any, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeTyped(env typedEnvelope) (any, error) {
	if env.Type == valueNull {
		return nil, nil
	}
	switch env.Type {
	case "string":
		return decodeAs[string](env.Value)
	case "bool":
		return decodeAs[bool](env.Value)
	case "int":
		return decodeAs[int](env.Value)
	case "int8":
		return decodeAs[int8](env.Value)
	case "int16":
		return decodeAs[int16](env.Value)
	case "int32":
		return decodeAs[int32](env.Value)
	case "int64":
		return decodeAs[int64](env.Value)
	case "uint":
		return decodeAs[uint](env.Value)
	case "uint8":
		return decodeAs[uint8](env.Value)
	case "uint16":
		return decodeAs[uint16](env.Value)
	case "uint32":
		return decodeAs[uint32](env.Value)
	case "uint64":
		return decodeAs[uint64](env.Value)
	case "float32":
		return decodeAs[float32](env.Value)
	case "float64":
		return decodeAs[float64](env.Value)
	case valueNumber:
		return decodeAs[json.Number](env.Value)
	case valueTime:
		return decodeAs[time.Time](env.Value)
	case valueList:
		var items []TypedValue
		if err := json.Unmarshal(env.Value, &items); err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = item.Value
		}
		return out, nil
	case valueMap:
		var m TypedVariables
		if err := json.Unmarshal(env.Value, &m); err != nil {
			return nil, err
		}
		return map[string]any(m), nil
	default:
		return decodeUntyped(env.Value)
	}
}

func decodeUntyped(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return normalizeNumbers(out), nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil && int64(int(n)) == n {
			return int(n)
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		for i := range x {
			x[i] = normalizeNumbers(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalizeNumbers(x[k])
		}
		return x
	default:
		return v
	}
}

// TypedVariables is a variable map whose JSON form tags every value with its
// type.
type TypedVariables map[string]any

func (m TypedVariables) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	out := make(map[string]TypedValue, len(m))
	for k, v := range m {
		out[k] = TypedValue{Value: v}
	}
	return json.Marshal(out)
}

func (m *TypedVariables) UnmarshalJSON(data []byte) error {
	var raw map[string]TypedValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	out := make(TypedVariables, len(raw))
	for k, v := range raw {
		out[k] = v.Value
	}
	*m = out
	return nil
}
