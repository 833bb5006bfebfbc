package codesign

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/matdotcx/carrus/internal/diskimage"
	"github.com/matdotcx/carrus/internal/executor"
	"github.com/matdotcx/carrus/internal/logger"
	"github.com/matdotcx/carrus/internal/metrics"
	"github.com/matdotcx/carrus/internal/repository/mounts"
)

const (
	// SignTool checks signatures and dumps signer details.
	SignTool = "codesign"
	// AssessTool runs the Gatekeeper assessment.
	AssessTool = "spctl"
	// DiskImageExtension marks files that are mounted before verification.
	DiskImageExtension = ".dmg"

	teamIDMarker    = "TeamIdentifier="
	authorityMarker = "Authority="
)

// Utilities lists every program Verify may run.
func Utilities() []string {
	return []string{diskimage.Utility, SignTool, AssessTool}
}

// Verifier runs signature checks through an executor.Runner.
type Verifier struct {
	runner   executor.Runner
	ledger   mounts.Repository
	recorder metrics.Recorder
	tempDir  string
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLedger records disk image mounts in repo until they are released.
func WithLedger(repo mounts.Repository) Option {
	return func(v *Verifier) {
		v.ledger = repo
	}
}

// WithRecorder sets the metrics recorder for policy verdicts.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(v *Verifier) {
		if recorder != nil {
			v.recorder = recorder
		}
	}
}

// WithTempDir places disk image mount points inside dir.
func WithTempDir(dir string) Option {
	return func(v *Verifier) {
		v.tempDir = dir
	}
}

// NewVerifier returns a Verifier.
func NewVerifier(runner executor.Runner, opts ...Option) *Verifier {
	v := &Verifier{
		runner:   runner,
		recorder: metrics.NoopRecorder{},
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// IsDiskImage reports whether path names a disk image.
func IsDiskImage(path string) bool {
	return strings.EqualFold(filepath.Ext(path), DiskImageExtension)
}

// Verify reports the signing state of path. A disk image is mounted, the
// bundle inside is verified and the image is released before returning.
// Failures to mount are reported in SigningInfo.Errors. With debug set every
// check's raw output is collected in RawOutput.
func (v *Verifier) Verify(ctx context.Context, path string, debug bool) *SigningInfo {
	ctx = logger.WithKV(logger.WithName(ctx, "codesign"), "path", path)
	if debug {
		ctx = logger.WithDebug(ctx)
	}

	out := &debugOutput{enabled: debug}

	isImage := IsDiskImage(path)
	if isImage {
		out.line("File type: disk image")
	} else {
		out.line("File type: other")
	}

	logger.InfoKV(ctx, "Starting code sign verification", "disk_image", isImage)

	if !isImage {
		return v.verifyTarget(ctx, path, out)
	}

	mount, err := diskimage.Attach(ctx, v.runner, path,
		diskimage.WithLedger(v.ledger),
		diskimage.WithTempDir(v.tempDir),
	)
	if err != nil {
		message := fmt.Sprintf("Failed to process disk image: %v", err)

		logger.ErrorKV(ctx, "Code sign verification failed", "error", err)
		logger.Audit(ctx).Errorw("Code sign verification failed", "path", path, "error", message)

		return &SigningInfo{Errors: []string{message}, RawOutput: out.String()}
	}

	defer mount.Release(ctx)

	out.line("Mounted disk image, found app: " + mount.Bundle)

	return v.verifyTarget(ctx, mount.Bundle, out)
}

// verifyTarget runs the three checks against target, strictly in order.
func (v *Verifier) verifyTarget(ctx context.Context, target string, out *debugOutput) *SigningInfo {
	info := new(SigningInfo)

	result := v.run(ctx, info, "Verifying signature", SignTool, "--verify", "--verbose=2", target)
	info.Signed = result.Success()
	out.result("Codesign verify output", result)

	result = v.run(ctx, info, "Reading signer details", SignTool, "-dvv", target)
	info.TeamID, info.Authority = parseSignerDetails(result.Stderr)
	out.result("Codesign details output", result)

	result = v.run(ctx, info, "Assessing notarization", AssessTool, "--assess", "--verbose=2", "--type", "execute", target)
	info.Notarized = result.Success()
	out.result("Notarization check output", result)

	info.RawOutput = out.String()

	logger.InfoKV(ctx, "Code sign verification completed",
		"signed", info.Signed, "team_id", info.TeamID, "notarized", info.Notarized)
	logger.Audit(ctx).Infow("Code sign verification completed",
		"path", target, "signed", info.Signed, "team_id", info.TeamID, "notarized", info.Notarized)

	return info
}

// run invokes one check. A runner error is kept in info.Errors and treated as a failed check.
func (v *Verifier) run(ctx context.Context, info *SigningInfo, description string, argv ...string) executor.Result {
	result, err := v.runner.Run(ctx, description, argv...)
	if err != nil {
		logger.ErrorKV(ctx, "Check could not run", "check", description, "error", err)
		info.Errors = append(info.Errors, fmt.Sprintf("%s: %v", description, err))

		return executor.Result{Stderr: err.Error(), ExitCode: -1}
	}

	return result
}

// CheckRequirements verifies path and evaluates policy against the result.
// Violations are written to the audit log.
func (v *Verifier) CheckRequirements(ctx context.Context, path string, policy Policy, debug bool) (bool, []string, *SigningInfo) {
	logger.InfoKV(ctx, "Verifying signature requirements", "path", path,
		"team_id", policy.RequiredTeamID, "require_notarized", policy.RequireNotarized)

	info := v.Verify(ctx, path, debug)
	passed, errs := Evaluate(info, policy)

	if passed {
		v.recorder.IncVerification(metrics.VerdictPassed)
		logger.Audit(ctx).Infow("Signature verification passed",
			"path", path, "team_id", info.TeamID, "notarized", info.Notarized)

		return true, errs, info
	}

	v.recorder.IncVerification(metrics.VerdictFailed)
	logger.Audit(ctx).Errorw("Signature verification failed", "path", path, "errors", errs)

	return false, errs, info
}

// parseSignerDetails extracts the team identifier and authority chain from a
// signer dump. Values are taken verbatim after their marker.
func parseSignerDetails(text string) (string, []string) {
	var (
		teamID      string
		authorities []string
	)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")

		if _, value, ok := strings.Cut(line, teamIDMarker); ok {
			teamID = value
		}

		if _, value, ok := strings.Cut(line, authorityMarker); ok {
			authorities = append(authorities, value)
		}
	}

	return teamID, authorities
}

// debugOutput collects raw check output when enabled.
type debugOutput struct {
	enabled bool
	b       strings.Builder
}

func (d *debugOutput) line(text string) {
	if !d.enabled {
		return
	}

	if d.b.Len() > 0 {
		d.b.WriteByte('\n')
	}

	d.b.WriteString(text)
}

func (d *debugOutput) result(title string, result executor.Result) {
	d.line("")
	d.line(title + ":")
	d.line("stdout: " + result.Stdout)
	d.line("stderr: " + result.Stderr)
	d.line(fmt.Sprintf("return code: %d", result.ExitCode))
}

func (d *debugOutput) String() string {
	return d.b.String()
}
