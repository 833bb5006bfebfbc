package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/matdotcx/carrus/internal/diskimage"
	"github.com/matdotcx/carrus/internal/executor"
	"github.com/matdotcx/carrus/internal/logger"
	"github.com/matdotcx/carrus/internal/metrics"
	"github.com/matdotcx/carrus/internal/repository/mounts"
)

// destinationDirMode is used when the destination directory has to be created.
const destinationDirMode os.FileMode = 0o755

var (
	// ErrSourceNotFound is returned when the source image does not exist.
	ErrSourceNotFound = errors.New("source file not found")
	// ErrSourceNotFile is returned when the source is not a regular file.
	ErrSourceNotFile = errors.New("source is not a regular file")

	errUnexpected = errors.New("unexpected error")
)

// Builder runs the disk image build pipeline. A Builder holds no per-run state
// and may serve concurrent runs for different images.
type Builder struct {
	runner    executor.Runner
	ledger    mounts.Repository
	recorder  metrics.Recorder
	tempDir   string
	processes processLister
	remove    func(string) error
}

// Option configures a Builder.
type Option func(*Builder)

// WithLedger records every mount in repo until it is released.
func WithLedger(repo mounts.Repository) Option {
	return func(b *Builder) {
		b.ledger = repo
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(b *Builder) {
		if recorder != nil {
			b.recorder = recorder
		}
	}
}

// WithTempDir places mount points and staged copies inside dir.
func WithTempDir(dir string) Option {
	return func(b *Builder) {
		b.tempDir = dir
	}
}

// New returns a Builder invoking external utilities through runner.
func New(runner executor.Runner, opts ...Option) *Builder {
	b := &Builder{
		runner:    runner,
		recorder:  metrics.NoopRecorder{},
		processes: ps.Processes,
		remove:    os.RemoveAll,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// run carries one invocation of the pipeline.
type run struct {
	*Builder

	state       *BuildState
	opts        Options
	stepStarted time.Time
}

// Build installs the application bundle found in the source disk image into
// the destination directory. It never returns an error: every failure,
// including a panic inside a step, is reported in the result. The mount is
// released and temporary paths are removed on every path.
func (b *Builder) Build(ctx context.Context, source string, opts *Options) (result *BuildResult) {
	resolved := ResolveOptions(opts)

	r := &run{
		Builder:     b,
		state:       NewBuildState(resolved.BuildType, source, resolved.Destination),
		opts:        resolved,
		stepStarted: time.Now(),
	}

	ctx = logger.WithKV(logger.WithName(ctx, "builder"), "run_id", r.state.RunID)

	logger.InfoKV(ctx, "Starting build", "source", source, "build_type", resolved.BuildType,
		"destination", resolved.Destination)

	var outputPath string

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.ErrorKV(ctx, "Build step panicked", "step", r.state.CurrentStep, "panic", recovered)
			r.state.AddError(fmt.Errorf("%w: %v", errUnexpected, recovered))
		}

		r.cleanup(ctx)

		result = newResult(r.state, outputPath)
		r.report(ctx, result)
	}()

	outputPath = r.execute(ctx)

	return
}

// execute runs Validation through Copying. The mount is released before it returns.
func (r *run) execute(ctx context.Context) string {
	if !r.advance(ctx, StepValidation) {
		return ""
	}

	image, err := r.validate(ctx)
	if err != nil {
		r.state.AddError(err)
		return ""
	}

	if !r.advance(ctx, StepMounting) {
		return ""
	}

	mount, err := diskimage.Attach(ctx, r.runner, image,
		diskimage.WithLedger(r.ledger),
		diskimage.WithTempDir(r.tempDir),
		diskimage.WithWarnings(r.state.AddWarning),
	)
	if err != nil {
		r.state.AddError(err)
		return ""
	}

	defer mount.Release(ctx)

	if !r.advance(ctx, StepExtraction) {
		return ""
	}

	r.state.Bundle = mount.Bundle

	if !r.advance(ctx, StepCopying) {
		return ""
	}

	outputPath, err := r.install(ctx, mount.Bundle)
	if err != nil {
		r.state.AddError(err)
		return ""
	}

	return outputPath
}

// validate checks the inputs and returns the image to mount.
func (r *run) validate(ctx context.Context) (string, error) {
	if _, err := ParseBuildType(r.opts.BuildType); err != nil {
		return "", err
	}

	source := r.state.SourcePath

	info, err := os.Stat(source)

	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	case err != nil:
		return "", fmt.Errorf("stat source: %w", err)
	case !info.Mode().IsRegular():
		return "", fmt.Errorf("%w: %s", ErrSourceNotFile, source)
	}

	if err = os.MkdirAll(r.opts.Destination, destinationDirMode); err != nil {
		return "", fmt.Errorf("create destination directory: %w", err)
	}

	if r.opts.Checksum == "" {
		return source, nil
	}

	staged, err := stageSource(r.state, r.tempDir, source, r.opts.Checksum)
	if err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Source checksum verified", "staged", staged)

	return staged, nil
}

// install replaces destination/<bundle name> with a copy of bundle.
func (r *run) install(ctx context.Context, bundle string) (string, error) {
	target := filepath.Join(r.opts.Destination, filepath.Base(bundle))

	if _, err := os.Lstat(target); err == nil {
		r.warnIfRunning(ctx, target)

		logger.InfoKV(ctx, "Removing existing bundle", "path", target)

		if err = os.RemoveAll(target); err != nil {
			return "", fmt.Errorf("remove existing bundle: %w", err)
		}
	}

	logger.InfoKV(ctx, "Copying bundle", "from", bundle, "to", target)

	if err := copyBundle(bundle, target); err != nil {
		if removeErr := os.RemoveAll(target); removeErr != nil {
			r.state.AddWarning(fmt.Sprintf("Failed to remove partial copy %s: %v", target, removeErr))
		}

		return "", fmt.Errorf("copy bundle: %w", err)
	}

	return target, nil
}

func (r *run) warnIfRunning(ctx context.Context, target string) {
	count, err := runningInstances(r.processes, target)
	if err != nil {
		logger.DebugKV(ctx, "Unable to list processes", "error", err)
		return
	}

	if count > 0 {
		r.state.AddWarning(fmt.Sprintf("Application %s is running and is being replaced", filepath.Base(target)))
	}
}

// cleanup moves the run into Cleanup and removes tracked temporary paths.
// Nothing here adds an error.
func (r *run) cleanup(ctx context.Context) {
	if err := r.transition(ctx, StepCleanup); err != nil {
		logger.WarnKV(ctx, "Cleanup transition rejected", "error", err)
	}

	if r.opts.PreserveTemp {
		logger.InfoKV(ctx, "Preserving temporary files", "paths", r.state.TempFiles)
		return
	}

	r.state.CleanupTempFiles(r.remove)
}

// advance moves to the next step. A rejected transition is a defect and fails the run.
func (r *run) advance(ctx context.Context, to BuildStep) bool {
	if err := r.transition(ctx, to); err != nil {
		r.state.AddError(err)
		return false
	}

	return true
}

// transition records the duration of the current step and moves to the next one.
func (r *run) transition(ctx context.Context, to BuildStep) error {
	from := r.state.CurrentStep

	if err := r.state.Transition(to); err != nil {
		return err
	}

	now := time.Now()
	r.recorder.ObserveStepDuration(from.String(), now.Sub(r.stepStarted))
	r.stepStarted = now

	logger.DebugKV(ctx, "Build step", "step", to)

	return nil
}

func (r *run) report(ctx context.Context, result *BuildResult) {
	outcome := metrics.OutcomeSuccess
	if !result.Success {
		outcome = metrics.OutcomeFailed
	}

	r.recorder.ObserveBuildDuration(result.Duration)
	r.recorder.IncBuildOutcome(r.opts.BuildType, outcome)
	r.recorder.IncWarnings(len(result.Warnings))

	for _, warning := range result.Warnings {
		logger.WarnKV(ctx, "Build warning", "warning", warning)
	}

	if result.Success {
		logger.InfoKV(ctx, "Build succeeded", "output", result.OutputPath, "duration", result.Duration)
		return
	}

	logger.ErrorKV(ctx, "Build failed", "error", result.Err(), "step", result.State.CurrentStep)
}
