package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/matdotcx/carrus/internal/codesign"
	"github.com/matdotcx/carrus/internal/logger"
	"github.com/matdotcx/carrus/internal/manifest"
	"github.com/matdotcx/carrus/internal/service/common"
)

// ErrPolicyViolation is returned when the file does not satisfy the policy.
var ErrPolicyViolation = errors.New("signature requirements not met")

// Options are inputs accepted by the verify entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// ManifestPath optionally supplies the policy from a package manifest.
	ManifestPath string
	// MetricsFile overrides the configured metrics output file.
	MetricsFile string
	// Path is the application bundle, binary or disk image to verify.
	Path string
	// Policy holds command line requirements; they are added to the manifest's.
	Policy codesign.Policy
	// Debug collects and prints the raw output of every check.
	Debug bool
	// Output receives the report. Defaults to stdout.
	Output io.Writer
}

// Run verifies Path, prints a report and returns ErrPolicyViolation when the policy fails.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "verify")

	policy, err := resolvePolicy(opts)
	if err != nil {
		return err
	}

	ctx, env, err := common.Prepare(ctx, &common.EnvironmentOptions{
		ConfigPath:  opts.ConfigPath,
		MetricsFile: opts.MetricsFile,
		Programs:    codesign.Utilities(),
	})
	if err != nil {
		return err
	}

	defer env.Close(ctx)

	verifier := codesign.NewVerifier(env.Runner,
		codesign.WithLedger(env.Ledger),
		codesign.WithRecorder(env.Recorder),
	)

	passed, errs, info := verifier.CheckRequirements(ctx, opts.Path, policy, opts.Debug)

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	if err = writeReport(out, opts.Path, info, passed, errs, opts.Debug); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if !passed {
		return fmt.Errorf("%w: %s", ErrPolicyViolation, strings.Join(errs, "; "))
	}

	return nil
}

// resolvePolicy merges the manifest's code_sign section with command line requirements.
func resolvePolicy(opts *Options) (codesign.Policy, error) {
	var policy codesign.Policy

	if opts.ManifestPath != "" {
		m, err := manifest.Load(opts.ManifestPath)
		if err != nil {
			return policy, err
		}

		policy = m.Policy()
	}

	if opts.Policy.RequiredTeamID != "" {
		policy.RequiredTeamID = opts.Policy.RequiredTeamID
	}

	policy.RequireNotarized = policy.RequireNotarized || opts.Policy.RequireNotarized
	policy.RequiredAuthorities = append(policy.RequiredAuthorities, opts.Policy.RequiredAuthorities...)

	return policy, nil
}

func writeReport(w io.Writer, path string, info *codesign.SigningInfo, passed bool, errs []string, debug bool) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Path:       %s\n", path)
	fmt.Fprintf(&b, "Signed:     %t\n", info.Signed)
	fmt.Fprintf(&b, "Team ID:    %s\n", valueOrDash(info.TeamID))
	fmt.Fprintf(&b, "Notarized:  %t\n", info.Notarized)

	for _, authority := range info.Authority {
		fmt.Fprintf(&b, "Authority:  %s\n", authority)
	}

	if passed {
		b.WriteString("Result:     passed\n")
	} else {
		b.WriteString("Result:     failed\n")
	}

	for _, e := range errs {
		fmt.Fprintf(&b, "Error:      %s\n", e)
	}

	if debug && info.RawOutput != "" {
		b.WriteString("\nDebug information:\n")
		b.WriteString(info.RawOutput)
		b.WriteByte('\n')
	}

	_, err := io.WriteString(w, b.String())

	return err
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
