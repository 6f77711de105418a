package modification

import (
	"encoding/json"
	"fmt"
	"strings"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/operation"
)

// Kind tags an Instruction variant.
type Kind string

const (
	KindCancelActivityInstance   Kind = "cancelActivityInstance"
	KindCancelTransitionInstance Kind = "cancelTransitionInstance"
	KindCancelAll                Kind = "cancelAllForActivity"
	KindStartBefore              Kind = "startBeforeActivity"
	KindStartAfter               Kind = "startAfterActivity"
	KindStartTransition          Kind = "startTransition"
)

// Instruction is one modification step. Kind selects which of the id fields
// is meaningful. Variables are set with propagation, VariablesLocal on the
// execution created or addressed by the instruction.
type Instruction struct {
	Kind                       Kind           `json:"type"`
	ActivityInstanceID         string         `json:"activityInstanceId,omitempty"`
	TransitionInstanceID       string         `json:"transitionInstanceId,omitempty"`
	ActivityID                 string         `json:"activityId,omitempty"`
	FlowID                     string         `json:"transitionId,omitempty"`
	AncestorActivityInstanceID string         `json:"ancestorActivityInstanceId,omitempty"`
	ExplicitAncestor           bool           `json:"explicitAncestor,omitempty"`
	Variables                  map[string]any `json:"variables,omitempty"`
	VariablesLocal             map[string]any `json:"variablesLocal,omitempty"`
}

func (i Instruction) MarshalJSON() ([]byte, error) {
	type plain Instruction
	return json.Marshal(struct {
		plain
		Variables      process.TypedVariables `json:"variables,omitempty"`
		VariablesLocal process.TypedVariables `json:"variablesLocal,omitempty"`
	}{plain: plain(i), Variables: i.Variables, VariablesLocal: i.VariablesLocal})
}

func (i *Instruction) UnmarshalJSON(data []byte) error {
	type plain Instruction
	aux := struct {
		*plain
		Variables      process.TypedVariables `json:"variables,omitempty"`
		VariablesLocal process.TypedVariables `json:"variablesLocal,omitempty"`
	}{plain: (*plain)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	i.Variables = aux.Variables
	i.VariablesLocal = aux.VariablesLocal
	return nil
}

func CancelActivityInstance(id string) Instruction {
	return Instruction{Kind: KindCancelActivityInstance, ActivityInstanceID: id}
}

func CancelTransitionInstance(id string) Instruction {
	return Instruction{Kind: KindCancelTransitionInstance, TransitionInstanceID: id}
}

func CancelAllForActivity(activityID string) Instruction {
	return Instruction{Kind: KindCancelAll, ActivityID: activityID}
}

func StartBeforeActivity(activityID string) Instruction {
	return Instruction{Kind: KindStartBefore, ActivityID: activityID}
}

func StartAfterActivity(activityID string) Instruction {
	return Instruction{Kind: KindStartAfter, ActivityID: activityID}
}

func StartTransition(flowID string) Instruction {
	return Instruction{Kind: KindStartTransition, FlowID: flowID}
}

// WithAncestor pins a start instruction below the given activity instance.
func (i Instruction) WithAncestor(ancestorActivityInstanceID string) Instruction {
	i.AncestorActivityInstanceID = ancestorActivityInstanceID
	i.ExplicitAncestor = true
	return i
}

// WithVariable adds a propagated variable.
func (i Instruction) WithVariable(name string, value any) Instruction {
	vars := make(map[string]any, len(i.Variables)+1)
	for k, v := range i.Variables {
		vars[k] = v
	}
	vars[name] = value
	i.Variables = vars
	return i
}

// WithVariableLocal adds a local variable.
func (i Instruction) WithVariableLocal(name string, value any) Instruction {
	vars := make(map[string]any, len(i.VariablesLocal)+1)
	for k, v := range i.VariablesLocal {
		vars[k] = v
	}
	vars[name] = value
	i.VariablesLocal = vars
	return i
}

// IsCancellation reports whether the instruction removes instances.
func (i Instruction) IsCancellation() bool {
	switch i.Kind {
	case KindCancelActivityInstance, KindCancelTransitionInstance, KindCancelAll:
		return true
	}
	return false
}

// Describe renders the instruction the way error messages name it.
func (i Instruction) Describe() string {
	var b strings.Builder
	switch i.Kind {
	case KindCancelActivityInstance:
		fmt.Fprintf(&b, "Cancel activity instance '%s'", i.ActivityInstanceID)
	case KindCancelTransitionInstance:
		fmt.Fprintf(&b, "Cancel transition instance '%s'", i.TransitionInstanceID)
	case KindCancelAll:
		fmt.Fprintf(&b, "Cancel all for activity '%s'", i.ActivityID)
	case KindStartBefore:
		fmt.Fprintf(&b, "Start before activity '%s'", i.ActivityID)
	case KindStartAfter:
		fmt.Fprintf(&b, "Start after activity '%s'", i.ActivityID)
	case KindStartTransition:
		fmt.Fprintf(&b, "Start transition '%s'", i.FlowID)
	default:
		fmt.Fprintf(&b, "Unknown instruction '%s'", i.Kind)
	}
	if i.AncestorActivityInstanceID != "" {
		fmt.Fprintf(&b, " with ancestor activity instance '%s'", i.AncestorActivityInstanceID)
	}
	return b.String()
}

// Validate checks the instruction in isolation.
func (i Instruction) Validate() error {
	switch i.Kind {
	case KindCancelActivityInstance:
		if i.ActivityInstanceID == "" {
			return process.Validationf("activityInstanceId is null")
		}
	case KindCancelTransitionInstance:
		if i.TransitionInstanceID == "" {
			return process.Validationf("transitionInstanceId is null")
		}
	case KindCancelAll, KindStartBefore, KindStartAfter:
		if i.ActivityID == "" {
			return process.Validationf("activityId is null")
		}
	case KindStartTransition:
		if i.FlowID == "" {
			return process.Validationf("transitionId is null")
		}
	default:
		return process.Validationf("unknown instruction type '%s'", i.Kind)
	}
	if i.ExplicitAncestor && i.AncestorActivityInstanceID == "" {
		return process.Validationf("ancestorActivityInstanceId is null")
	}
	return nil
}

// Command is an ordered list of instructions against one process instance.
// It is applied atomically.
type Command struct {
	ProcessInstanceID string          `json:"processInstanceId"`
	Instructions      []Instruction   `json:"instructions"`
	Flags             operation.Flags `json:"flags"`
	Annotation        string          `json:"annotation,omitempty"`
}

// Validate checks the command shape before any instruction runs.
func (c Command) Validate() error {
	if strings.TrimSpace(c.ProcessInstanceID) == "" {
		return process.Validationf("processInstanceId is null")
	}
	for _, ins := range c.Instructions {
		if err := ins.Validate(); err != nil {
			return instructionError(ins, err)
		}
	}
	return nil
}
