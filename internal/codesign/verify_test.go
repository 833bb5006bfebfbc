package codesign

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matdotcx/carrus/internal/diskimage"
	"github.com/matdotcx/carrus/internal/executor"
	"github.com/matdotcx/carrus/internal/executor/executortest"
	"github.com/matdotcx/carrus/internal/metrics"
)

const signerDump = "Identifier=com.example.foo\n" +
	"Authority=Developer ID Application: Example Corp (ABC123)\n" +
	"Authority=Apple Root CA\n" +
	"TeamIdentifier=ABC123\n"

// codesignResponder answers the validity check with verifyExit and the detail dump with signerDump.
func codesignResponder(verifyExit int) executortest.Responder {
	return func(argv []string) executor.Result {
		if len(argv) > 1 && argv[1] == "-dvv" {
			return executor.Result{Stderr: signerDump}
		}

		if verifyExit != 0 {
			return executor.Result{ExitCode: verifyExit, Stderr: "code object is not signed at all"}
		}

		return executor.Result{Stderr: "valid on disk"}
	}
}

func newRunner(verifyExit, assessExit int, volume executortest.Volume) *executortest.Fake {
	return &executortest.Fake{
		Handler: executortest.Dispatch(map[string]executortest.Responder{
			SignTool:          codesignResponder(verifyExit),
			AssessTool:        executortest.Exit(assessExit, "", "rejected"),
			diskimage.Utility: volume.Respond,
		}),
	}
}

// TestVerify_Bundle checks the three checks run in order and set the snapshot.
func TestVerify_Bundle(t *testing.T) {
	t.Parallel()

	runner := newRunner(0, 3, executortest.Volume{})
	v := NewVerifier(runner)

	info := v.Verify(context.Background(), "/Applications/Foo.app", false)
	require.True(t, info.Signed)
	require.False(t, info.Notarized)
	require.Equal(t, "ABC123", info.TeamID)
	require.Equal(t, []string{"Developer ID Application: Example Corp (ABC123)", "Apple Root CA"}, info.Authority)
	require.Empty(t, info.RawOutput)
	require.Empty(t, info.Errors)

	require.Equal(t, [][]string{
		{"codesign", "--verify", "--verbose=2", "/Applications/Foo.app"},
		{"codesign", "-dvv", "/Applications/Foo.app"},
		{"spctl", "--assess", "--verbose=2", "--type", "execute", "/Applications/Foo.app"},
	}, runner.Calls())
}

// TestVerify_TeamIDDoesNotImplySigned verifies signed follows only the validity exit status.
func TestVerify_TeamIDDoesNotImplySigned(t *testing.T) {
	t.Parallel()

	info := NewVerifier(newRunner(1, 0, executortest.Volume{})).Verify(context.Background(), "/tmp/Foo.app", false)
	require.False(t, info.Signed)
	require.Equal(t, "ABC123", info.TeamID)
	require.True(t, info.Notarized)
}

// TestVerify_DebugOutput checks raw output is collected without changing verdicts.
func TestVerify_DebugOutput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	plain := NewVerifier(newRunner(0, 0, executortest.Volume{})).Verify(ctx, "/tmp/Foo.app", false)
	debug := NewVerifier(newRunner(0, 0, executortest.Volume{})).Verify(ctx, "/tmp/Foo.app", true)

	require.Equal(t, plain.Signed, debug.Signed)
	require.Equal(t, plain.Notarized, debug.Notarized)
	require.Equal(t, plain.TeamID, debug.TeamID)
	require.Contains(t, debug.RawOutput, "File type: other")
	require.Contains(t, debug.RawOutput, "Codesign verify output:")
	require.Contains(t, debug.RawOutput, "Notarization check output:")
	require.Contains(t, debug.RawOutput, "TeamIdentifier=ABC123")
	require.Contains(t, debug.RawOutput, "return code: 0")
}

// TestVerify_DiskImage checks the bundle inside an image is verified and the image released.
func TestVerify_DiskImage(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	runner := newRunner(0, 0, executortest.Volume{Bundles: []string{"Foo.app"}})
	v := NewVerifier(runner, WithTempDir(tempDir))

	info := v.Verify(context.Background(), "/downloads/Foo.DMG", true)
	require.True(t, info.Signed)
	require.True(t, info.Notarized)
	require.Contains(t, info.RawOutput, "File type: disk image")
	require.Contains(t, info.RawOutput, "Mounted disk image, found app:")

	calls := runner.Calls()
	require.Len(t, calls, 5)
	require.Equal(t, "attach", calls[0][1])
	require.Equal(t, "Foo.app", filepath.Base(calls[1][len(calls[1])-1]))
	require.Equal(t, "detach", calls[4][1])

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestVerify_DiskImageMountFailure verifies mount errors are captured, not propagated.
func TestVerify_DiskImageMountFailure(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	runner := newRunner(0, 0, executortest.Volume{AttachExit: 1})

	info := NewVerifier(runner, WithTempDir(tempDir)).Verify(context.Background(), "/downloads/Foo.dmg", false)
	require.False(t, info.Signed)
	require.Len(t, info.Errors, 1)
	require.Contains(t, info.Errors[0], "Failed to process disk image")
	require.Zero(t, runner.CountVerb("codesign", "--verify"))

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

type errRunner struct{}

func (errRunner) Run(context.Context, string, ...string) (executor.Result, error) {
	return executor.Result{}, executor.ErrCommandRejected
}

// TestVerify_RunnerErrors checks rejected invocations become errors and failed checks.
func TestVerify_RunnerErrors(t *testing.T) {
	t.Parallel()

	info := NewVerifier(errRunner{}).Verify(context.Background(), "/tmp/Foo.app", false)
	require.False(t, info.Signed)
	require.False(t, info.Notarized)
	require.Len(t, info.Errors, 3)
	require.Contains(t, info.Errors[0], executor.ErrCommandRejected.Error())
}

type verdictRecorder struct {
	metrics.NoopRecorder

	verdicts []metrics.VerdictLabel
}

func (r *verdictRecorder) IncVerification(verdict metrics.VerdictLabel) {
	r.verdicts = append(r.verdicts, verdict)
}

// TestCheckRequirements verifies evaluation runs on the fresh snapshot and verdicts are recorded.
func TestCheckRequirements(t *testing.T) {
	t.Parallel()

	recorder := new(verdictRecorder)
	policy := Policy{RequiredTeamID: "ABC123", RequireNotarized: true}

	passed, errs, info := NewVerifier(newRunner(0, 0, executortest.Volume{}), WithRecorder(recorder)).
		CheckRequirements(context.Background(), "/tmp/Foo.app", policy, false)
	require.True(t, passed)
	require.Empty(t, errs)
	require.True(t, info.Signed)

	passed, errs, _ = NewVerifier(newRunner(0, 1, executortest.Volume{}), WithRecorder(recorder)).
		CheckRequirements(context.Background(), "/tmp/Foo.app", policy, false)
	require.False(t, passed)
	require.Equal(t, []string{"File is not notarized"}, errs)

	require.Equal(t, []metrics.VerdictLabel{metrics.VerdictPassed, metrics.VerdictFailed}, recorder.verdicts)
}

// TestIsDiskImage checks extension matching ignores case.
func TestIsDiskImage(t *testing.T) {
	t.Parallel()

	require.True(t, IsDiskImage("/a/Foo.dmg"))
	require.True(t, IsDiskImage("/a/Foo.DMG"))
	require.False(t, IsDiskImage("/a/Foo.app"))
	require.False(t, IsDiskImage("/a/dmg"))
}
