package execution

import (
	"fmt"

	process "github.com/goliatone/go-process"
)

// CheckInvariants verifies the scope and concurrency shape of the tree:
//
//   - the root is the only execution without parent and is a scope;
//   - a scope holds a leaf, a single non-concurrent scope child, or two or
//     more concurrent children, and only the root may be empty;
//   - a concurrent execution lives directly below a scope and holds either a
//     leaf or exactly one non-concurrent scope child;
//   - an execution never holds an activity and a transition at once.
func (t *Tree) CheckInvariants() error {
	root := t.Root()
	if root == nil {
		return t.invariantError("process instance execution '%s' is missing", t.rootID)
	}
	if !root.IsScope || root.IsConcurrent || root.ParentID != "" {
		return t.invariantError("process instance execution '%s' must be a non-concurrent scope", root.ID)
	}
	for _, e := range t.nodes {
		if e.ID != root.ID {
			if e.ParentID == "" {
				return t.invariantError("execution '%s' has no parent", e.ID)
			}
			if _, ok := t.nodes[e.ParentID]; !ok {
				return t.invariantError("execution '%s' references missing parent '%s'", e.ID, e.ParentID)
			}
		}
		if e.ActivityID != "" && e.Transition != nil {
			return t.invariantError("execution '%s' holds an activity and a transition", e.ID)
		}
		children := t.Children(e.ID)
		switch {
		case e.IsScope && e.IsConcurrent:
			return t.invariantError("execution '%s' cannot be scope and concurrent", e.ID)
		case e.IsScope:
			if err := t.checkScope(e, children); err != nil {
				return err
			}
		case e.IsConcurrent:
			if err := t.checkConcurrent(e, children); err != nil {
				return err
			}
		default:
			return t.invariantError("execution '%s' is neither scope nor concurrent", e.ID)
		}
	}
	return nil
}

func (t *Tree) checkScope(e *Execution, children []*Execution) error {
	if e.HasLeaf() && len(children) > 0 {
		return t.invariantError("scope execution '%s' holds a leaf and has children", e.ID)
	}
	switch len(children) {
	case 0:
		if !e.HasLeaf() && e.ID != t.rootID {
			return t.invariantError("scope execution '%s' for '%s' is empty", e.ID, e.ScopeActivityID)
		}
	case 1:
		if children[0].IsConcurrent {
			return t.invariantError("scope execution '%s' has a single concurrent child '%s'", e.ID, children[0].ID)
		}
		if !children[0].IsScope {
			return t.invariantError("scope execution '%s' has a non-scope child '%s'", e.ID, children[0].ID)
		}
	default:
		for _, child := range children {
			if !child.IsConcurrent {
				return t.invariantError("scope execution '%s' has %d children but '%s' is not concurrent", e.ID, len(children), child.ID)
			}
		}
	}
	return nil
}

func (t *Tree) checkConcurrent(e *Execution, children []*Execution) error {
	parent := t.nodes[e.ParentID]
	if parent == nil || !parent.IsScope || parent.IsConcurrent {
		return t.invariantError("concurrent execution '%s' must be a child of a non-concurrent scope", e.ID)
	}
	switch {
	case e.HasLeaf() && len(children) > 0:
		return t.invariantError("concurrent execution '%s' holds a leaf and has children", e.ID)
	case !e.HasLeaf() && len(children) != 1:
		return t.invariantError("concurrent execution '%s' must hold a leaf or exactly one scope child", e.ID)
	case len(children) == 1 && (!children[0].IsScope || children[0].IsConcurrent):
		return t.invariantError("concurrent execution '%s' has a child that is not a non-concurrent scope", e.ID)
	}
	return nil
}

func (t *Tree) invariantError(format string, args ...any) error {
	return process.NewError(process.ErrInternal, fmt.Sprintf(format, args...), nil, map[string]any{
		"process_instance_id": t.ProcessInstanceID,
	})
}
