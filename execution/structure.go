package execution

import (
	process "github.com/goliatone/go-process"
)

// AddBranch returns an empty holder under the scope execution scopeID that a
// new activity can occupy. An empty scope is returned as is. A scope that
// already holds a leaf or a single scope child is expanded: its content moves
// into a new concurrent execution and a second concurrent execution is
// returned.
func (t *Tree) AddBranch(scopeID string) (*Execution, error) {
	scope, ok := t.nodes[scopeID]
	if !ok {
		return nil, process.Validationf("Execution '%s' does not exist", scopeID)
	}
	if !scope.IsScope {
		return nil, process.Internalf("execution '%s' is not a scope", scopeID)
	}
	children := t.Children(scopeID)
	switch {
	case !scope.HasLeaf() && len(children) == 0:
		return scope, nil
	case scope.HasLeaf():
		first := t.newNode(scope.ID, false, true)
		first.ActivityID = scope.ActivityID
		first.ActivityInstanceID = scope.ActivityInstanceID
		first.Transition = scope.Transition
		first.LeafSeq = scope.LeafSeq
		scope.clearLeaf()
	case len(children) == 1 && !children[0].IsConcurrent:
		first := t.newNode(scope.ID, false, true)
		children[0].ParentID = first.ID
	}
	return t.newNode(scope.ID, false, true), nil
}

// Fork turns the empty holder into n empty holders of the same scope.
func (t *Tree) Fork(holderID string, n int) ([]string, error) {
	holder, ok := t.nodes[holderID]
	if !ok {
		return nil, process.Validationf("Execution '%s' does not exist", holderID)
	}
	if !t.IsEmptyHolder(holderID) {
		return nil, process.Internalf("execution '%s' is not empty and cannot fork", holderID)
	}
	if n <= 1 {
		return []string{holderID}, nil
	}
	ids := make([]string, 0, n)
	scopeID := holderID
	if holder.IsConcurrent {
		ids = append(ids, holderID)
		scopeID = holder.ParentID
	}
	for len(ids) < n {
		branch := t.newNode(scopeID, false, true)
		ids = append(ids, branch.ID)
	}
	return ids, nil
}

// CreateScope creates a scope execution for a scope activity instance below
// the empty holder.
func (t *Tree) CreateScope(holderID, activityID, activityInstanceID string) (*Execution, error) {
	if !t.IsEmptyHolder(holderID) {
		return nil, process.Internalf("execution '%s' is not empty and cannot hold scope '%s'", holderID, activityID)
	}
	scope := t.newNode(holderID, true, false)
	scope.ScopeActivityID = activityID
	scope.ScopeInstanceID = activityInstanceID
	return scope, nil
}

// SetLeaf places an activity instance on the execution.
func (t *Tree) SetLeaf(id, activityID, activityInstanceID string) error {
	e, ok := t.nodes[id]
	if !ok {
		return process.Validationf("Execution '%s' does not exist", id)
	}
	e.ActivityID = activityID
	e.ActivityInstanceID = activityInstanceID
	e.Transition = nil
	e.LeafSeq = t.nextSeq()
	return nil
}

// SetTransition parks a pending asynchronous continuation on the execution.
func (t *Tree) SetTransition(id string, tr Transition) error {
	e, ok := t.nodes[id]
	if !ok {
		return process.Validationf("Execution '%s' does not exist", id)
	}
	e.ActivityID = ""
	e.ActivityInstanceID = ""
	e.Transition = &tr
	e.LeafSeq = t.nextSeq()
	return nil
}

// ClearLeaf removes the leaf of the execution.
func (t *Tree) ClearLeaf(id string) {
	if e, ok := t.nodes[id]; ok {
		e.clearLeaf()
	}
}

// RemoveBranch prunes the empty holder. A concurrent holder is removed and
// its scope compacted. It returns the scope the holder belonged to and whether
// that scope is now empty.
func (t *Tree) RemoveBranch(holderID string) (*Execution, bool) {
	holder, ok := t.nodes[holderID]
	if !ok {
		return nil, false
	}
	if !holder.IsConcurrent {
		return holder, t.IsEmptyHolder(holder.ID)
	}
	scope := t.nodes[holder.ParentID]
	t.drop(holder, "", true)
	if scope == nil {
		return nil, false
	}
	remaining := t.Children(scope.ID)
	if len(remaining) == 0 {
		return scope, !scope.HasLeaf()
	}
	t.compact(scope)
	return scope, false
}

// RemoveScope removes a scope execution without children and returns its
// holder, which is empty afterwards.
func (t *Tree) RemoveScope(scopeID string, canceled bool) (*Execution, error) {
	scope, ok := t.nodes[scopeID]
	if !ok {
		return nil, process.Validationf("Execution '%s' does not exist", scopeID)
	}
	if scope.ParentID == "" {
		return nil, process.Internalf("the process instance execution cannot be removed")
	}
	for _, child := range t.Descendants(scopeID) {
		t.drop(child, "", true)
	}
	holder := t.nodes[scope.ParentID]
	t.drop(scope, "", canceled)
	return holder, nil
}

// compact folds a single remaining concurrent child back into its scope.
func (t *Tree) compact(scope *Execution) {
	children := t.Children(scope.ID)
	if len(children) != 1 || !children[0].IsConcurrent {
		return
	}
	only := children[0]
	grandchildren := t.Children(only.ID)
	switch {
	case only.HasLeaf():
		scope.ActivityID = only.ActivityID
		scope.ActivityInstanceID = only.ActivityInstanceID
		scope.Transition = only.Transition
		scope.LeafSeq = only.LeafSeq
	case len(grandchildren) == 1:
		grandchildren[0].ParentID = scope.ID
	}
	for k, v := range only.Variables {
		if scope.Variables == nil {
			scope.Variables = make(map[string]any)
		}
		scope.Variables[k] = v
	}
	t.drop(only, scope.ID, false)
}
