package execution

import (
	"maps"
	"sort"
)

// Variable looks a variable up from id towards the root.
func (t *Tree) Variable(id, name string) (any, bool) {
	for e := t.nodes[id]; e != nil; e = t.nodes[e.ParentID] {
		if v, ok := e.Variables[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// VisibleVariables merges the variables visible from id, inner values
// shadowing outer ones.
func (t *Tree) VisibleVariables(id string) map[string]any {
	var chain []*Execution
	for e := t.nodes[id]; e != nil; e = t.nodes[e.ParentID] {
		chain = append(chain, e)
	}
	out := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		maps.Copy(out, chain[i].Variables)
	}
	return out
}

// SetVariable updates the nearest execution defining name, or creates the
// variable on the process instance.
func (t *Tree) SetVariable(id, name string, value any) {
	target := t.Root()
	for e := t.nodes[id]; e != nil; e = t.nodes[e.ParentID] {
		if _, ok := e.Variables[name]; ok {
			target = e
			break
		}
	}
	if target == nil {
		return
	}
	t.setOn(target, name, value)
}

// SetVariableLocal creates or updates name on the execution itself.
func (t *Tree) SetVariableLocal(id, name string, value any) {
	if e, ok := t.nodes[id]; ok {
		t.setOn(e, name, value)
	}
}

// SetVariables applies SetVariable for every entry.
func (t *Tree) SetVariables(id string, vars map[string]any) {
	for _, k := range sortedKeys(vars) {
		t.SetVariable(id, k, vars[k])
	}
}

// SetVariablesLocal applies SetVariableLocal for every entry.
func (t *Tree) SetVariablesLocal(id string, vars map[string]any) {
	for _, k := range sortedKeys(vars) {
		t.SetVariableLocal(id, k, vars[k])
	}
}

func (t *Tree) setOn(e *Execution, name string, value any) {
	if e.Variables == nil {
		e.Variables = make(map[string]any)
	}
	e.Variables[name] = value
	scopeInstance := ""
	if scope := t.ScopeOf(e.ID); scope != nil {
		scopeInstance = scope.ScopeInstanceID
	}
	t.Record(Effect{
		Kind:            EffectVariableSet,
		ExecutionID:     e.ID,
		Name:            name,
		Value:           value,
		ScopeInstanceID: scopeInstance,
	})
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
