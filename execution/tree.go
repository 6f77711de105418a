package execution

import (
	"sort"

	process "github.com/goliatone/go-process"
)

// Tree is the arena of executions of one process instance. Nodes are
// addressed by id. Mutations happen on a clone that replaces the original
// only when the surrounding command succeeds.
type Tree struct {
	ProcessInstanceID string
	DefinitionID      string
	BusinessKey       string
	TenantID          string

	rootID  string
	nodes   map[string]*Execution
	removed map[string]*Execution
	seq     int64
	effects []Effect
	ids     process.IDGenerator
}

// Option configures a tree.
type Option func(*Tree)

// WithIDGenerator replaces the uuid generator, mostly for tests.
func WithIDGenerator(gen process.IDGenerator) Option {
	return func(t *Tree) {
		if gen != nil {
			t.ids = gen
		}
	}
}

// New creates a tree holding only an empty root scope execution. The root
// execution id doubles as the process instance id.
func New(definitionID string, opts ...Option) *Tree {
	t := &Tree{
		DefinitionID: definitionID,
		nodes:        make(map[string]*Execution),
		removed:      make(map[string]*Execution),
		ids:          process.NewID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	root := &Execution{
		ID:              t.ids(),
		IsScope:         true,
		IsActive:        true,
		ScopeInstanceID: process.ActivityInstanceID(t.ids, definitionID),
		Seq:             t.nextSeq(),
	}
	root.ProcessInstanceID = root.ID
	t.ProcessInstanceID = root.ID
	t.rootID = root.ID
	t.nodes[root.ID] = root
	return t
}

// NewID returns a fresh id from the tree generator.
func (t *Tree) NewID() string {
	return t.ids()
}

// NewActivityInstanceID returns a fresh activity instance id for activityID.
func (t *Tree) NewActivityInstanceID(activityID string) string {
	return process.ActivityInstanceID(t.ids, activityID)
}

// Clone returns an independent copy without tombstones or recorded effects.
func (t *Tree) Clone() *Tree {
	cp := &Tree{
		ProcessInstanceID: t.ProcessInstanceID,
		DefinitionID:      t.DefinitionID,
		BusinessKey:       t.BusinessKey,
		TenantID:          t.TenantID,
		rootID:            t.rootID,
		nodes:             make(map[string]*Execution, len(t.nodes)),
		removed:           make(map[string]*Execution),
		seq:               t.seq,
		ids:               t.ids,
	}
	for id, e := range t.nodes {
		cp.nodes[id] = e.clone()
	}
	return cp
}

// Root returns the process instance execution.
func (t *Tree) Root() *Execution {
	return t.nodes[t.rootID]
}

// Get returns a live execution.
func (t *Tree) Get(id string) (*Execution, bool) {
	e, ok := t.nodes[id]
	return e, ok
}

// Len returns the number of live executions.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Resolve returns the live execution for id, following ReplacedBy links of
// nodes removed by compaction. Nodes removed by cancellation or completion
// cannot be resolved.
func (t *Tree) Resolve(id string) (*Execution, error) {
	seen := map[string]bool{}
	for {
		if e, ok := t.nodes[id]; ok {
			return e, nil
		}
		gone, ok := t.removed[id]
		if !ok || gone.canceled || gone.ReplacedBy == "" || seen[id] {
			return nil, process.Validationf("Execution '%s' does not exist", id)
		}
		seen[id] = true
		id = gone.ReplacedBy
	}
}

// Executions returns live executions ordered by creation.
func (t *Tree) Executions() []*Execution {
	out := make([]*Execution, 0, len(t.nodes))
	for _, e := range t.nodes {
		out = append(out, e)
	}
	sortBySeq(out)
	return out
}

// Children returns the live children of id ordered by creation.
func (t *Tree) Children(id string) []*Execution {
	var out []*Execution
	for _, e := range t.nodes {
		if e.ParentID == id {
			out = append(out, e)
		}
	}
	sortBySeq(out)
	return out
}

// Descendants returns the subtree below id in depth-first order.
func (t *Tree) Descendants(id string) []*Execution {
	var out []*Execution
	for _, child := range t.Children(id) {
		out = append(out, child)
		out = append(out, t.Descendants(child.ID)...)
	}
	return out
}

// ScopeOf returns the nearest scope execution at or above id.
func (t *Tree) ScopeOf(id string) *Execution {
	e := t.nodes[id]
	for e != nil && !e.IsScope {
		e = t.nodes[e.ParentID]
	}
	return e
}

// Parent returns the parent of a live execution.
func (t *Tree) Parent(id string) *Execution {
	e := t.nodes[id]
	if e == nil || e.ParentID == "" {
		return nil
	}
	return t.nodes[e.ParentID]
}

// ParentInstanceID returns the activity instance id that contains a leaf held
// by id, or the scope instance owned by id when scopeInstance is false.
func (t *Tree) ParentInstanceID(id string, scopeInstance bool) string {
	e := t.nodes[id]
	if e == nil {
		return ""
	}
	if scopeInstance && e.IsScope {
		if parent := t.ScopeOf(e.ParentID); parent != nil {
			return parent.ScopeInstanceID
		}
		return ""
	}
	if scope := t.ScopeOf(id); scope != nil {
		return scope.ScopeInstanceID
	}
	return ""
}

// IsEmpty reports whether the root holds nothing, i.e. the instance ended.
func (t *Tree) IsEmpty() bool {
	root := t.Root()
	return root == nil || (!root.HasLeaf() && len(t.Children(root.ID)) == 0)
}

// IsEmptyHolder reports whether id holds neither a leaf nor children.
func (t *Tree) IsEmptyHolder(id string) bool {
	e := t.nodes[id]
	return e != nil && !e.HasLeaf() && len(t.Children(id)) == 0
}

func (t *Tree) nextSeq() int64 {
	t.seq++
	return t.seq
}

func (t *Tree) newNode(parentID string, scope, concurrent bool) *Execution {
	e := &Execution{
		ID:                t.ids(),
		ProcessInstanceID: t.ProcessInstanceID,
		ParentID:          parentID,
		IsScope:           scope,
		IsConcurrent:      concurrent,
		IsActive:          true,
		Seq:               t.nextSeq(),
	}
	t.nodes[e.ID] = e
	return e
}

func (t *Tree) drop(e *Execution, replacedBy string, canceled bool) {
	delete(t.nodes, e.ID)
	e.IsActive = false
	e.ReplacedBy = replacedBy
	e.canceled = canceled
	t.removed[e.ID] = e
}

func sortBySeq(list []*Execution) {
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
}
