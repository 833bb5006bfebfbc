package builder

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// BuildState is the mutable record of a single pipeline run.
// It is owned by that run and never shared.
type BuildState struct {
	RunID       string
	StartedAt   time.Time
	BuildType   string
	SourcePath  string
	Destination string
	CurrentStep BuildStep
	// Bundle is the application bundle discovered in the mounted image.
	Bundle string
	// TempFiles lists every temporary path the run created, in creation order.
	TempFiles []string
	Errors    []error
	Warnings  []string
}

// NewBuildState starts a run record in StepInit.
func NewBuildState(buildType, source, destination string) *BuildState {
	return &BuildState{
		RunID:       uuid.NewString(),
		StartedAt:   time.Now(),
		BuildType:   buildType,
		SourcePath:  source,
		Destination: destination,
		CurrentStep: StepInit,
	}
}

// Transition moves the run to step to if the transition table allows it.
func (s *BuildState) Transition(to BuildStep) error {
	if !isAllowedTransition(s.CurrentStep, to) {
		return fmt.Errorf("%w: %s -> %s", errInvalidTransition, s.CurrentStep, to)
	}

	s.CurrentStep = to

	return nil
}

// AddTempFile tracks path for removal during cleanup.
func (s *BuildState) AddTempFile(path string) {
	s.TempFiles = append(s.TempFiles, path)
}

// AddError records a blocking error.
func (s *BuildState) AddError(err error) {
	if err != nil {
		s.Errors = append(s.Errors, err)
	}
}

// AddWarning records a non-blocking problem.
func (s *BuildState) AddWarning(message string) {
	s.Warnings = append(s.Warnings, message)
}

// Failed reports whether a blocking error was recorded.
func (s *BuildState) Failed() bool {
	return len(s.Errors) > 0
}

// CleanupTempFiles removes every tracked path with remove (os.RemoveAll when
// nil). A failure on one path becomes a warning and the remaining paths are
// still attempted. It returns the number of warnings added.
func (s *BuildState) CleanupTempFiles(remove func(string) error) int {
	if remove == nil {
		remove = os.RemoveAll
	}

	added := 0

	for _, path := range s.TempFiles {
		if err := remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.AddWarning(fmt.Sprintf("Failed to remove temporary path %s: %v", path, err))
			added++
		}
	}

	return added
}

// BuildResult is the immutable outcome of a pipeline run.
type BuildResult struct {
	Success    bool
	OutputPath string
	Duration   time.Duration
	State      BuildState
	Errors     []error
	Warnings   []string
}

// Err joins the result's errors, or returns nil on success.
func (r *BuildResult) Err() error {
	return errors.Join(r.Errors...)
}

func newResult(state *BuildState, outputPath string) *BuildResult {
	snapshot := *state
	snapshot.TempFiles = append([]string(nil), state.TempFiles...)
	snapshot.Errors = append([]error(nil), state.Errors...)
	snapshot.Warnings = append([]string(nil), state.Warnings...)

	success := state.CurrentStep == StepCleanup && !state.Failed()
	if !success {
		outputPath = ""
	}

	return &BuildResult{
		Success:    success,
		OutputPath: outputPath,
		Duration:   time.Since(state.StartedAt),
		State:      snapshot,
		Errors:     append([]error(nil), state.Errors...),
		Warnings:   append([]string(nil), state.Warnings...),
	}
}
