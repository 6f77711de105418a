package instance

import (
	"sort"

	"github.com/goliatone/go-process/execution"
)

// ActivityInstance is a logical occurrence of being at an activity. The root
// instance represents the process instance and carries the definition id as
// its activity id.
type ActivityInstance struct {
	ID                       string                `json:"id"`
	ActivityID               string                `json:"activityId"`
	ParentActivityInstanceID string                `json:"parentActivityInstanceId,omitempty"`
	ExecutionIDs             []string              `json:"executionIds"`
	Scope                    bool                  `json:"scope"`
	Children                 []*ActivityInstance   `json:"childActivityInstances,omitempty"`
	Transitions              []*TransitionInstance `json:"childTransitionInstances,omitempty"`

	seq int64
}

// TransitionInstance is a pending asynchronous continuation into ActivityID.
type TransitionInstance struct {
	ID                       string `json:"id"`
	ActivityID               string `json:"activityId"`
	ParentActivityInstanceID string `json:"parentActivityInstanceId"`
	ExecutionID              string `json:"executionId"`
	JobID                    string `json:"jobId,omitempty"`

	seq int64
}

// ExecutionID returns the execution backing the instance.
func (a *ActivityInstance) ExecutionID() string {
	if a == nil || len(a.ExecutionIDs) == 0 {
		return ""
	}
	return a.ExecutionIDs[0]
}

// View is the activity instance tree derived from an execution tree.
type View struct {
	root        *ActivityInstance
	activities  map[string]*ActivityInstance
	transitions map[string]*TransitionInstance
}

// From derives the view. It does not mutate the tree and returns identical
// ids for identical trees.
func From(tree *execution.Tree) *View {
	v := &View{
		activities:  make(map[string]*ActivityInstance),
		transitions: make(map[string]*TransitionInstance),
	}
	root := tree.Root()
	if root == nil {
		return v
	}
	v.root = &ActivityInstance{
		ID:           root.ScopeInstanceID,
		ActivityID:   tree.DefinitionID,
		ExecutionIDs: []string{root.ID},
		Scope:        true,
		seq:          root.Seq,
	}
	v.activities[v.root.ID] = v.root
	v.buildScope(tree, v.root, root)
	return v
}

func (v *View) buildScope(tree *execution.Tree, node *ActivityInstance, scope *execution.Execution) {
	v.addLeaf(node, scope)
	for _, child := range tree.Children(scope.ID) {
		if child.IsScope {
			v.addScope(tree, node, child)
			continue
		}
		v.addLeaf(node, child)
		for _, grandchild := range tree.Children(child.ID) {
			v.addScope(tree, node, grandchild)
		}
	}
	sort.SliceStable(node.Children, func(i, j int) bool { return node.Children[i].seq < node.Children[j].seq })
	sort.SliceStable(node.Transitions, func(i, j int) bool { return node.Transitions[i].seq < node.Transitions[j].seq })
}

func (v *View) addScope(tree *execution.Tree, parent *ActivityInstance, scope *execution.Execution) {
	node := &ActivityInstance{
		ID:                       scope.ScopeInstanceID,
		ActivityID:               scope.ScopeActivityID,
		ParentActivityInstanceID: parent.ID,
		ExecutionIDs:             []string{scope.ID},
		Scope:                    true,
		seq:                      scope.Seq,
	}
	parent.Children = append(parent.Children, node)
	v.activities[node.ID] = node
	v.buildScope(tree, node, scope)
}

func (v *View) addLeaf(parent *ActivityInstance, e *execution.Execution) {
	switch {
	case e.Transition != nil:
		ti := &TransitionInstance{
			ID:                       e.Transition.InstanceID,
			ActivityID:               e.Transition.ActivityID,
			ParentActivityInstanceID: parent.ID,
			ExecutionID:              e.ID,
			JobID:                    e.Transition.JobID,
			seq:                      e.LeafSeq,
		}
		parent.Transitions = append(parent.Transitions, ti)
		v.transitions[ti.ID] = ti
	case e.ActivityID != "" && !e.HoldsOwnScope():
		node := &ActivityInstance{
			ID:                       e.ActivityInstanceID,
			ActivityID:               e.ActivityID,
			ParentActivityInstanceID: parent.ID,
			ExecutionIDs:             []string{e.ID},
			seq:                      e.LeafSeq,
		}
		parent.Children = append(parent.Children, node)
		v.activities[node.ID] = node
	}
}

// Root returns the process instance node.
func (v *View) Root() *ActivityInstance {
	return v.root
}

// Find looks up an activity instance.
func (v *View) Find(id string) (*ActivityInstance, bool) {
	a, ok := v.activities[id]
	return a, ok
}

// FindTransition looks up a transition instance.
func (v *View) FindTransition(id string) (*TransitionInstance, bool) {
	t, ok := v.transitions[id]
	return t, ok
}

// ForActivity returns the instances of activityID in tree order.
func (v *View) ForActivity(activityID string) []*ActivityInstance {
	var out []*ActivityInstance
	v.Walk(func(a *ActivityInstance) {
		if a != v.root && a.ActivityID == activityID {
			out = append(out, a)
		}
	})
	return out
}

// TransitionsForActivity returns the transition instances into activityID.
func (v *View) TransitionsForActivity(activityID string) []*TransitionInstance {
	var out []*TransitionInstance
	v.Walk(func(a *ActivityInstance) {
		for _, t := range a.Transitions {
			if t.ActivityID == activityID {
				out = append(out, t)
			}
		}
	})
	return out
}

// ScopeInstances returns the instances of a scope activity. The empty scope
// id denotes the process instance.
func (v *View) ScopeInstances(scopeID string) []*ActivityInstance {
	if scopeID == "" {
		if v.root == nil {
			return nil
		}
		return []*ActivityInstance{v.root}
	}
	var out []*ActivityInstance
	for _, a := range v.ForActivity(scopeID) {
		if a.Scope {
			out = append(out, a)
		}
	}
	return out
}

// Walk visits activity instances depth first, parents before children.
func (v *View) Walk(fn func(*ActivityInstance)) {
	if v.root == nil {
		return
	}
	var visit func(*ActivityInstance)
	visit = func(a *ActivityInstance) {
		fn(a)
		for _, child := range a.Children {
			visit(child)
		}
	}
	visit(v.root)
}

// IDs returns all activity and transition instance ids.
func (v *View) IDs() []string {
	out := make([]string, 0, len(v.activities)+len(v.transitions))
	for id := range v.activities {
		out = append(out, id)
	}
	for id := range v.transitions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
