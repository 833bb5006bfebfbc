package builder

import (
	"errors"
	"fmt"
)

// BuildStep is one phase of the build pipeline.
type BuildStep int

const (
	StepInit BuildStep = iota
	StepValidation
	StepMounting
	StepExtraction
	StepCopying
	// StepCustomization and StepPackaging are reserved for build kinds that
	// modify or repackage the bundle. Nothing transitions into them yet.
	StepCustomization
	StepPackaging
	StepCleanup
)

var errInvalidTransition = errors.New("invalid build step transition")

//nolint:gochecknoglobals // Lookup table.
var stepNames = [...]string{
	StepInit:          "init",
	StepValidation:    "validation",
	StepMounting:      "mounting",
	StepExtraction:    "extraction",
	StepCopying:       "copying",
	StepCustomization: "customization",
	StepPackaging:     "packaging",
	StepCleanup:       "cleanup",
}

func (s BuildStep) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}

	return stepNames[s]
}

// IsTerminal reports whether no further transition is possible from s.
func (s BuildStep) IsTerminal() bool {
	return s == StepCleanup
}

// isAllowedTransition is the pipeline's transition table. Steps only move
// forward one at a time, and every non-terminal step may jump to Cleanup when
// a failure truncates the run. Cleanup itself only ever records warnings.
func isAllowedTransition(from, to BuildStep) bool {
	if to == StepCleanup {
		return !from.IsTerminal()
	}

	switch from {
	case StepInit:
		return to == StepValidation
	case StepValidation:
		return to == StepMounting
	case StepMounting:
		return to == StepExtraction
	case StepExtraction:
		return to == StepCopying
	default:
		return false
	}
}
