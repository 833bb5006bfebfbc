package builder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"

	"github.com/matdotcx/carrus/internal/diskimage"
	"github.com/matdotcx/carrus/internal/executor/executortest"
	"github.com/matdotcx/carrus/internal/metrics"
	"github.com/matdotcx/carrus/internal/repository/mounts"
)

// fixture is one isolated pipeline environment.
type fixture struct {
	tempDir     string
	destination string
	source      string
	runner      *executortest.Fake
	builder     *Builder
}

// newFixture prepares a source image file, a destination and a simulated hdiutil.
func newFixture(t *testing.T, volume executortest.Volume, opts ...Option) *fixture {
	t.Helper()

	root := t.TempDir()
	f := &fixture{
		tempDir:     filepath.Join(root, "tmp"),
		destination: filepath.Join(root, "Applications"),
		source:      filepath.Join(root, "Foo.dmg"),
		runner: &executortest.Fake{
			Handler: executortest.Dispatch(map[string]executortest.Responder{
				diskimage.Utility: volume.Respond,
			}),
		},
	}

	require.NoError(t, os.Mkdir(f.tempDir, 0o755))
	require.NoError(t, os.WriteFile(f.source, []byte("disk image bytes"), 0o644))

	f.builder = New(f.runner, append([]Option{WithTempDir(f.tempDir)}, opts...)...)
	f.builder.processes = func() ([]ps.Process, error) { return nil, nil }

	return f
}

func (f *fixture) build(t *testing.T, opts *Options) *BuildResult {
	t.Helper()

	if opts == nil {
		opts = new(Options)
	}

	if opts.Destination == "" {
		opts.Destination = f.destination
	}

	result := f.builder.Build(context.Background(), f.source, opts)
	require.NotNil(t, result)
	require.Equal(t, StepCleanup, result.State.CurrentStep)

	return result
}

// requireNoTempLeft checks no mount point or staging directory survived the run.
func (f *fixture) requireNoTempLeft(t *testing.T) {
	t.Helper()

	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

type fakeProcess struct {
	pid        int
	executable string
}

func (p fakeProcess) Pid() int           { return p.pid }
func (p fakeProcess) PPid() int          { return 1 }
func (p fakeProcess) Executable() string { return p.executable }

var fooVolume = executortest.Volume{
	Bundles: []string{"Foo.app"},
	Files:   []string{"Foo.app/Contents/MacOS/Foo", "Foo.app/Contents/Resources/icon.icns"},
}

// TestBuild_Success checks the bundle lands in the destination under its own name.
func TestBuild_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fooVolume)

	result := f.build(t, nil)
	require.True(t, result.Success, "errors: %v", result.Errors)
	require.NoError(t, result.Err())
	require.Equal(t, filepath.Join(f.destination, "Foo.app"), result.OutputPath)
	require.Equal(t, "Foo.app", filepath.Base(result.State.Bundle))
	require.FileExists(t, filepath.Join(result.OutputPath, "Contents", "MacOS", "Foo"))
	require.FileExists(t, filepath.Join(result.OutputPath, "Contents", "Info.plist"))
	require.Empty(t, result.Warnings)
	require.NotEmpty(t, result.State.RunID)

	require.Equal(t, 1, f.runner.CountVerb("hdiutil", "attach"))
	require.Equal(t, 1, f.runner.CountVerb("hdiutil", "detach"))
	f.requireNoTempLeft(t)
}

// TestBuild_NoBundle verifies a bundle-less image fails and leaves no mount point.
func TestBuild_NoBundle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, executortest.Volume{Files: []string{"README.txt"}})

	result := f.build(t, nil)
	require.False(t, result.Success)
	require.Empty(t, result.OutputPath)
	require.ErrorIs(t, result.Err(), diskimage.ErrBundleNotFound)
	require.Equal(t, 1, f.runner.CountVerb("hdiutil", "detach"))
	f.requireNoTempLeft(t)
}

// TestBuild_MountFailure verifies a failed attach is reported and rolled back.
func TestBuild_MountFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, executortest.Volume{AttachExit: 1})

	result := f.build(t, nil)
	require.False(t, result.Success)
	require.ErrorIs(t, result.Err(), diskimage.ErrMountFailed)
	require.Zero(t, f.runner.CountVerb("hdiutil", "detach"))
	f.requireNoTempLeft(t)
}

// TestBuild_ReplacesExistingBundle checks a second run replaces rather than merges.
func TestBuild_ReplacesExistingBundle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fooVolume)

	first := f.build(t, nil)
	require.True(t, first.Success)

	stale := filepath.Join(first.OutputPath, "Contents", "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	second := f.build(t, nil)
	require.True(t, second.Success, "errors: %v", second.Errors)
	require.Equal(t, first.OutputPath, second.OutputPath)
	require.NoFileExists(t, stale)

	data, err := os.ReadFile(filepath.Join(second.OutputPath, "Contents", "MacOS", "Foo"))
	require.NoError(t, err)
	require.Equal(t, "Foo.app/Contents/MacOS/Foo", string(data))
}

// TestBuild_WarnsWhenApplicationRunning verifies the process guard warns and does not block.
func TestBuild_WarnsWhenApplicationRunning(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fooVolume)
	require.True(t, f.build(t, nil).Success)

	f.builder.processes = func() ([]ps.Process, error) {
		return []ps.Process{
			fakeProcess{pid: os.Getpid(), executable: "Foo"},
			fakeProcess{pid: 4242, executable: "Foo"},
			fakeProcess{pid: 4243, executable: "Bar"},
		}, nil
	}

	result := f.build(t, nil)
	require.True(t, result.Success)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "Foo.app is running")
}

// TestBuild_ValidationFailures checks bad inputs fail before any utility runs.
func TestBuild_ValidationFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		prepare    func(t *testing.T, f *fixture)
		opts       *Options
		wantErr    error
		wantMsg    string
		wantNoDest bool
	}{
		{
			name: "missing source",
			prepare: func(t *testing.T, f *fixture) {
				t.Helper()
				require.NoError(t, os.Remove(f.source))
			},
			wantErr: ErrSourceNotFound,
			wantMsg: "source file not found",
		},
		{
			name: "source is a directory",
			prepare: func(t *testing.T, f *fixture) {
				t.Helper()
				require.NoError(t, os.Remove(f.source))
				require.NoError(t, os.Mkdir(f.source, 0o755))
			},
			wantErr: ErrSourceNotFile,
		},
		{
			name:       "known but unsupported type",
			opts:       &Options{BuildType: "app_pkg"},
			wantErr:    ErrUnsupportedBuildType,
			wantMsg:    "unsupported build type: app_pkg",
			wantNoDest: true,
		},
		{
			name:       "unknown type",
			opts:       &Options{BuildType: "floppy"},
			wantErr:    ErrUnsupportedBuildType,
			wantMsg:    `invalid build type "floppy"`,
			wantNoDest: true,
		},
		{
			name:    "checksum mismatch",
			opts:    &Options{Checksum: strings.Repeat("ab", sha256.Size)},
			wantErr: ErrChecksumMismatch,
		},
		{
			name:    "malformed checksum",
			opts:    &Options{Checksum: "not-hex"},
			wantErr: errInvalidChecksum,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, fooVolume)
			if tt.prepare != nil {
				tt.prepare(t, f)
			}

			result := f.build(t, tt.opts)
			require.False(t, result.Success)
			require.Len(t, result.Errors, 1)
			require.ErrorIs(t, result.Errors[0], tt.wantErr)

			if tt.wantMsg != "" {
				require.ErrorContains(t, result.Errors[0], tt.wantMsg)
			}

			require.Empty(t, f.runner.Calls())
			f.requireNoTempLeft(t)

			if tt.wantNoDest {
				require.NoDirExists(t, f.destination)
			}
		})
	}
}

// TestBuild_ChecksumStaging verifies the verified staged copy is mounted and then removed.
func TestBuild_ChecksumStaging(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fooVolume)

	sum := sha256.Sum256([]byte("disk image bytes"))

	result := f.build(t, &Options{Checksum: hex.EncodeToString(sum[:])})
	require.True(t, result.Success, "errors: %v", result.Errors)
	require.Len(t, result.State.TempFiles, 2)

	calls := f.runner.Calls()
	require.NotEmpty(t, calls)

	mounted := calls[0][2]
	require.NotEqual(t, f.source, mounted)
	require.True(t, strings.HasPrefix(mounted, f.tempDir), mounted)
	require.Equal(t, "Foo.dmg", filepath.Base(mounted))
	f.requireNoTempLeft(t)
}

// TestBuild_ChecksumStagingLargeSource stages a multi-megabyte image and checks
// the staged copy is byte-identical to the source.
func TestBuild_ChecksumStagingLargeSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fooVolume)

	data := bytes.Repeat([]byte("0123456789abcdef"), 1<<18)
	require.NoError(t, os.WriteFile(f.source, data, 0o644))

	sum := sha256.Sum256(data)

	state := NewBuildState(string(DefaultBuildType), f.source, f.destination)
	staged, err := stageSource(state, f.tempDir, f.source, hex.EncodeToString(sum[:]))
	require.NoError(t, err)

	got, err := os.ReadFile(staged)
	require.NoError(t, err)
	require.Equal(t, data, got)

	state.CleanupTempFiles(os.RemoveAll)
	f.requireNoTempLeft(t)
}

// TestBuild_PreserveTemp checks tracked temporary paths survive when asked to.
func TestBuild_PreserveTemp(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fooVolume)

	sum := sha256.Sum256([]byte("disk image bytes"))

	result := f.build(t, &Options{Checksum: hex.EncodeToString(sum[:]), PreserveTemp: true})
	require.True(t, result.Success)

	for _, path := range result.State.TempFiles {
		_, err := os.Stat(path)
		require.NoError(t, err)
	}
}

// TestBuild_RecoversPanic verifies a panicking step is reported and the mount still released.
func TestBuild_RecoversPanic(t *testing.T) {
	t.Parallel()

	ledger := mounts.NewFileRepository(t.TempDir())
	f := newFixture(t, fooVolume, WithLedger(ledger))
	require.True(t, f.build(t, nil).Success)

	f.builder.processes = func() ([]ps.Process, error) {
		panic("process table exploded")
	}

	result := f.build(t, nil)
	require.False(t, result.Success)
	require.ErrorIs(t, result.Err(), errUnexpected)
	require.ErrorContains(t, result.Err(), "process table exploded")
	require.Equal(t, 2, f.runner.CountVerb("hdiutil", "detach"))
	f.requireNoTempLeft(t)

	records, err := ledger.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)
}

// TestBuild_CleanupWarningsDoNotFail checks removal failures stay warnings.
func TestBuild_CleanupWarningsDoNotFail(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fooVolume)
	f.builder.remove = func(string) error { return errors.New("device busy") }

	sum := sha256.Sum256([]byte("disk image bytes"))

	result := f.build(t, &Options{Checksum: hex.EncodeToString(sum[:])})
	require.True(t, result.Success)
	require.Len(t, result.Warnings, 2)
	require.Contains(t, result.Warnings[0], "device busy")
}

type countingRecorder struct {
	metrics.NoopRecorder

	steps    []string
	outcomes []metrics.OutcomeLabel
}

func (r *countingRecorder) ObserveStepDuration(step string, _ time.Duration) {
	r.steps = append(r.steps, step)
}

func (r *countingRecorder) IncBuildOutcome(_ string, outcome metrics.OutcomeLabel) {
	r.outcomes = append(r.outcomes, outcome)
}

// TestBuild_RecordsMetrics checks each finished step and the outcome are reported.
func TestBuild_RecordsMetrics(t *testing.T) {
	t.Parallel()

	recorder := new(countingRecorder)
	f := newFixture(t, fooVolume, WithRecorder(recorder))

	require.True(t, f.build(t, nil).Success)
	require.Equal(t, []string{"init", "validation", "mounting", "extraction", "copying"}, recorder.steps)
	require.Equal(t, []metrics.OutcomeLabel{metrics.OutcomeSuccess}, recorder.outcomes)
}
