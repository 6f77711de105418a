package execution

import (
	"encoding/json"
	"maps"

	process "github.com/goliatone/go-process"
)

// Transition is a pending asynchronous continuation held by a leaf execution.
type Transition struct {
	InstanceID string `json:"instanceId"`
	ActivityID string `json:"activityId"`
	JobID      string `json:"jobId,omitempty"`
}

// Subscription is an event subscription rooted at a scope execution.
type Subscription struct {
	ID                 string `json:"id"`
	EventType          string `json:"eventType"`
	ActivityID         string `json:"activityId"`
	ActivityInstanceID string `json:"activityInstanceId,omitempty"`
}

const EventTypeCompensate = "compensate"

// Execution is one node of the runtime tree of a process instance.
//
// A scope execution owns a variable scope and represents the instance of its
// ScopeActivityID (empty for the process root). A leaf is the activity the
// execution currently occupies (ActivityID) or a pending Transition. All
// non-scope executions are concurrent.
type Execution struct {
	ID                 string         `json:"id"`
	ProcessInstanceID  string         `json:"processInstanceId"`
	ParentID           string         `json:"parentId,omitempty"`
	ActivityID         string         `json:"activityId,omitempty"`
	ActivityInstanceID string         `json:"activityInstanceId,omitempty"`
	ScopeActivityID    string         `json:"scopeActivityId,omitempty"`
	ScopeInstanceID    string         `json:"scopeInstanceId,omitempty"`
	IsScope            bool           `json:"isScope"`
	IsConcurrent       bool           `json:"isConcurrent"`
	IsActive           bool           `json:"isActive"`
	Transition         *Transition    `json:"transition,omitempty"`
	Variables          map[string]any `json:"variables,omitempty"`
	Subscriptions      []Subscription `json:"subscriptions,omitempty"`
	Seq                int64          `json:"seq"`
	LeafSeq            int64          `json:"leafSeq,omitempty"`

	// ReplacedBy is set on nodes removed by compaction. It is never persisted.
	ReplacedBy string `json:"-"`
	canceled   bool
}

// HasLeaf reports whether the execution occupies an activity or holds a
// transition.
func (e *Execution) HasLeaf() bool {
	return e != nil && (e.ActivityID != "" || e.Transition != nil)
}

// HoldsOwnScope reports whether the leaf is the scope activity itself, as for
// a waiting scope task.
func (e *Execution) HoldsOwnScope() bool {
	return e != nil && e.IsScope && e.ActivityInstanceID != "" && e.ActivityInstanceID == e.ScopeInstanceID
}

// MarshalJSON writes the variables with their types so that loaded trees
// hold the same values the command set.
func (e *Execution) MarshalJSON() ([]byte, error) {
	type plain Execution
	return json.Marshal(struct {
		*plain
		Variables process.TypedVariables `json:"variables,omitempty"`
	}{plain: (*plain)(e), Variables: e.Variables})
}

func (e *Execution) UnmarshalJSON(data []byte) error {
	type plain Execution
	aux := struct {
		*plain
		Variables process.TypedVariables `json:"variables,omitempty"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Variables = aux.Variables
	return nil
}

func (e *Execution) clone() *Execution {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Transition != nil {
		t := *e.Transition
		cp.Transition = &t
	}
	cp.Variables = maps.Clone(e.Variables)
	if len(e.Subscriptions) > 0 {
		cp.Subscriptions = append([]Subscription(nil), e.Subscriptions...)
	}
	return &cp
}

func (e *Execution) clearLeaf() {
	e.ActivityID = ""
	e.ActivityInstanceID = ""
	e.Transition = nil
	e.LeafSeq = 0
}
