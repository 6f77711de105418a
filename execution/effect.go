package execution

// EffectKind names a side effect produced while mutating a tree.
type EffectKind string

const (
	EffectActivityStarted     EffectKind = "activity-started"
	EffectActivityEnded       EffectKind = "activity-ended"
	EffectJobCreated          EffectKind = "job-created"
	EffectJobRemoved          EffectKind = "job-removed"
	EffectVariableSet         EffectKind = "variable-set"
	EffectSubscriptionAdded   EffectKind = "subscription-added"
	EffectSubscriptionRemoved EffectKind = "subscription-removed"
	EffectProcessEnded        EffectKind = "process-ended"
)

// Effect is recorded by the tree and its callers and applied to the store
// only when the surrounding command commits.
type Effect struct {
	Kind                     EffectKind `json:"kind"`
	ExecutionID              string     `json:"executionId,omitempty"`
	ActivityID               string     `json:"activityId,omitempty"`
	ActivityInstanceID       string     `json:"activityInstanceId,omitempty"`
	ParentActivityInstanceID string     `json:"parentActivityInstanceId,omitempty"`
	TransitionInstanceID     string     `json:"transitionInstanceId,omitempty"`
	JobID                    string     `json:"jobId,omitempty"`
	Name                     string     `json:"name,omitempty"`
	Value                    any        `json:"value,omitempty"`
	ScopeInstanceID          string     `json:"scopeInstanceId,omitempty"`
	Canceled                 bool       `json:"canceled,omitempty"`
}

// Record appends an effect.
func (t *Tree) Record(e Effect) {
	t.effects = append(t.effects, e)
}

// Effects returns the effects recorded since the tree was cloned or loaded.
func (t *Tree) Effects() []Effect {
	return append([]Effect(nil), t.effects...)
}

// EffectsOf filters recorded effects by kind.
func (t *Tree) EffectsOf(kind EffectKind) []Effect {
	var out []Effect
	for _, e := range t.effects {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
