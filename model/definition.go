package model

import (
	"fmt"
	"strings"

	process "github.com/goliatone/go-process"
)

// ActivityType names the behaviour of an activity.
type ActivityType string

const (
	TypeStartEvent  ActivityType = "startEvent"
	TypeEndEvent    ActivityType = "endEvent"
	TypeTask        ActivityType = "task"
	TypeUserTask    ActivityType = "userTask"
	TypeServiceTask ActivityType = "serviceTask"
	TypeGateway     ActivityType = "parallelGateway"
	TypeSubProcess  ActivityType = "subProcess"
)

// ProcessScope is the scope id of the process definition itself in scope chains.
const ProcessScope = ""

// Mapping is an input or output mapping. Source copies a visible variable,
// otherwise Value is used as a literal.
type Mapping struct {
	Target string `json:"target" yaml:"target"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Value  any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Activity is a flow node. Sub processes nest activities and flows.
type Activity struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name,omitempty" yaml:"name,omitempty"`
	Type        ActivityType `json:"type" yaml:"type"`
	AsyncBefore bool         `json:"asyncBefore,omitempty" yaml:"asyncBefore,omitempty"`
	Scope       bool         `json:"scope,omitempty" yaml:"scope,omitempty"`
	Compensable bool         `json:"compensable,omitempty" yaml:"compensable,omitempty"`
	Inputs      []Mapping    `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs     []Mapping    `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Activities  []*Activity  `json:"activities,omitempty" yaml:"activities,omitempty"`
	Flows       []*Flow      `json:"flows,omitempty" yaml:"flows,omitempty"`

	flowScope string
}

// FlowScope returns the id of the sub process containing the activity, or
// ProcessScope.
func (a *Activity) FlowScope() string {
	if a == nil {
		return ProcessScope
	}
	return a.flowScope
}

// IsScope reports whether entering the activity creates a scope execution.
func (a *Activity) IsScope() bool {
	if a == nil {
		return false
	}
	return a.Type == TypeSubProcess || a.Scope || len(a.Inputs) > 0 || len(a.Outputs) > 0
}

// IsWaitState reports whether the activity waits for an external trigger.
func (a *Activity) IsWaitState() bool {
	return a != nil && (a.Type == TypeTask || a.Type == TypeUserTask)
}

// Flow is a sequence flow between two activities of the same scope.
type Flow struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`

	flowScope string
}

// FlowScope returns the scope id containing the flow.
func (f *Flow) FlowScope() string {
	if f == nil {
		return ProcessScope
	}
	return f.flowScope
}

// Definition is a deployed process definition. It is immutable once built.
type Definition struct {
	ID         string      `json:"id,omitempty" yaml:"id,omitempty"`
	Key        string      `json:"key" yaml:"key"`
	Name       string      `json:"name,omitempty" yaml:"name,omitempty"`
	Version    int         `json:"version,omitempty" yaml:"version,omitempty"`
	TenantID   string      `json:"tenantId,omitempty" yaml:"tenantId,omitempty"`
	Activities []*Activity `json:"activities" yaml:"activities"`
	Flows      []*Flow     `json:"flows,omitempty" yaml:"flows,omitempty"`

	activities map[string]*Activity
	flows      map[string]*Flow
	outgoing   map[string][]*Flow
	incoming   map[string][]*Flow
}

// Build validates the definition and indexes activities and flows.
func (d *Definition) Build() error {
	if d == nil {
		return process.Validationf("process definition is nil")
	}
	d.Key = strings.TrimSpace(d.Key)
	if d.Key == "" {
		return process.Validationf("process definition key is required")
	}
	d.activities = make(map[string]*Activity)
	d.flows = make(map[string]*Flow)
	d.outgoing = make(map[string][]*Flow)
	d.incoming = make(map[string][]*Flow)
	if err := d.index(ProcessScope, d.Activities, d.Flows); err != nil {
		return err
	}
	if len(d.Activities) == 0 {
		return process.Validationf("process definition '%s' has no activities", d.Key)
	}
	return nil
}

func (d *Definition) index(scope string, activities []*Activity, flows []*Flow) error {
	for _, a := range activities {
		if a == nil {
			continue
		}
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			return process.Validationf("activity id is required in scope '%s'", scopeName(scope))
		}
		if _, exists := d.activities[a.ID]; exists {
			return process.Validationf("duplicate activity id '%s'", a.ID)
		}
		switch a.Type {
		case TypeStartEvent, TypeEndEvent, TypeTask, TypeUserTask, TypeServiceTask, TypeGateway, TypeSubProcess:
		default:
			return process.Validationf("activity '%s' has unsupported type '%s'", a.ID, a.Type)
		}
		if a.Type != TypeSubProcess && (len(a.Activities) > 0 || len(a.Flows) > 0) {
			return process.Validationf("activity '%s' of type '%s' cannot contain activities", a.ID, a.Type)
		}
		a.flowScope = scope
		d.activities[a.ID] = a
	}
	for _, a := range activities {
		if a == nil || a.Type != TypeSubProcess {
			continue
		}
		if err := d.index(a.ID, a.Activities, a.Flows); err != nil {
			return err
		}
	}
	for _, f := range flows {
		if f == nil {
			continue
		}
		if f.ID == "" {
			return process.Validationf("flow id is required in scope '%s'", scopeName(scope))
		}
		if _, exists := d.flows[f.ID]; exists {
			return process.Validationf("duplicate flow id '%s'", f.ID)
		}
		source, ok := d.activities[f.Source]
		if !ok || source.flowScope != scope {
			return process.Validationf("flow '%s' source '%s' is not an activity of scope '%s'", f.ID, f.Source, scopeName(scope))
		}
		target, ok := d.activities[f.Target]
		if !ok || target.flowScope != scope {
			return process.Validationf("flow '%s' target '%s' is not an activity of scope '%s'", f.ID, f.Target, scopeName(scope))
		}
		f.flowScope = scope
		d.flows[f.ID] = f
		d.outgoing[f.Source] = append(d.outgoing[f.Source], f)
		d.incoming[f.Target] = append(d.incoming[f.Target], f)
	}
	for _, a := range activities {
		if a != nil && a.Type == TypeGateway && a.IsScope() && len(d.incoming[a.ID]) > 1 {
			return process.Validationf("joining gateway '%s' cannot declare a scope or mappings", a.ID)
		}
	}
	return nil
}

func scopeName(scope string) string {
	if scope == ProcessScope {
		return "process"
	}
	return scope
}

// Activity looks up an activity at any nesting level.
func (d *Definition) Activity(id string) (*Activity, bool) {
	if d == nil {
		return nil, false
	}
	a, ok := d.activities[id]
	return a, ok
}

// Flow looks up a sequence flow at any nesting level.
func (d *Definition) Flow(id string) (*Flow, bool) {
	if d == nil {
		return nil, false
	}
	f, ok := d.flows[id]
	return f, ok
}

// Outgoing returns the outgoing flows of an activity in declaration order.
func (d *Definition) Outgoing(activityID string) []*Flow {
	if d == nil {
		return nil
	}
	return d.outgoing[activityID]
}

// Incoming returns the flows targeting an activity in declaration order.
func (d *Definition) Incoming(activityID string) []*Flow {
	if d == nil {
		return nil
	}
	return d.incoming[activityID]
}

// ScopeChain lists scope ids from scope up to and including ProcessScope.
func (d *Definition) ScopeChain(scope string) []string {
	chain := []string{}
	for scope != ProcessScope {
		chain = append(chain, scope)
		a, ok := d.Activity(scope)
		if !ok {
			break
		}
		scope = a.flowScope
	}
	return append(chain, ProcessScope)
}

// ScopeActivities returns scopes strictly between ancestor (exclusive) and
// scope (inclusive), outermost first. ok is false when ancestor is not in the
// scope chain of scope.
func (d *Definition) ScopeActivities(ancestor, scope string) ([]*Activity, bool) {
	chain := d.ScopeChain(scope)
	var between []*Activity
	for _, id := range chain {
		if id == ancestor {
			for i, j := 0, len(between)-1; i < j; i, j = i+1, j-1 {
				between[i], between[j] = between[j], between[i]
			}
			return between, true
		}
		a, _ := d.Activity(id)
		between = append(between, a)
	}
	return nil, false
}

// InitialActivity returns the unique start event of a scope.
func (d *Definition) InitialActivity(scope string) (*Activity, error) {
	candidates := d.Activities
	if scope != ProcessScope {
		a, ok := d.Activity(scope)
		if !ok {
			return nil, process.Validationf("scope '%s' does not exist in process '%s'", scope, d.ID)
		}
		candidates = a.Activities
	}
	var initial *Activity
	for _, a := range candidates {
		if a == nil || a.Type != TypeStartEvent {
			continue
		}
		if initial != nil {
			return nil, process.Validationf("multiple start events not supported for scope '%s'", scopeName(scope))
		}
		initial = a
	}
	if initial == nil {
		return nil, process.Validationf("no start event found for scope '%s'", scopeName(scope))
	}
	return initial, nil
}

// String implements fmt.Stringer.
func (d *Definition) String() string {
	if d == nil {
		return "<nil definition>"
	}
	return fmt.Sprintf("%s (version %d)", d.ID, d.Version)
}
