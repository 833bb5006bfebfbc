package metrics

import "time"

// OutcomeLabel enumerates pipeline outcome categories for counters.
type OutcomeLabel string

const (
	OutcomeSuccess OutcomeLabel = "success"
	OutcomeFailed  OutcomeLabel = "failed"
)

// VerdictLabel enumerates verification verdicts.
type VerdictLabel string

const (
	VerdictPassed VerdictLabel = "passed"
	VerdictFailed VerdictLabel = "failed"
)

// Recorder defines observability hooks for the build and verification pipelines.
type Recorder interface {
	ObserveStepDuration(step string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(buildType string, outcome OutcomeLabel)
	IncVerification(verdict VerdictLabel)
	IncWarnings(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStepDuration(string, time.Duration) {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)        {}
func (NoopRecorder) IncBuildOutcome(string, OutcomeLabel)      {}
func (NoopRecorder) IncVerification(VerdictLabel)              {}
func (NoopRecorder) IncWarnings(int)                           {}
