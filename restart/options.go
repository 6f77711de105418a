package restart

import (
	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/modification"
	"github.com/goliatone/go-process/operation"
)

// Options control how one historic instance is restarted.
type Options struct {
	Instructions []modification.Instruction `json:"instructions"`
	Flags        operation.Flags            `json:"flags"`
	// InitialSetOfVariables restores the variables the instance started with
	// instead of their latest values.
	InitialSetOfVariables bool `json:"initialSetOfVariables,omitempty"`
	WithoutBusinessKey    bool `json:"withoutBusinessKey,omitempty"`
}

// ValidateInstructions rejects empty instruction lists and cancellations.
// A restarted instance has nothing to cancel.
func ValidateInstructions(instructions []modification.Instruction) error {
	if len(instructions) == 0 {
		return process.Validationf("Restart instructions cannot be empty")
	}
	for _, ins := range instructions {
		if ins.IsCancellation() {
			return process.Validationf("Cannot restart process instance with cancel instruction: %s", ins.Describe())
		}
		if err := ins.Validate(); err != nil {
			return err
		}
	}
	return nil
}
