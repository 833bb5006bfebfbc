package build

import (
	"context"
	"errors"
	"fmt"

	"github.com/matdotcx/carrus/internal/builder"
	"github.com/matdotcx/carrus/internal/diskimage"
	"github.com/matdotcx/carrus/internal/logger"
	"github.com/matdotcx/carrus/internal/manifest"
	"github.com/matdotcx/carrus/internal/service/common"
)

// errBuildFailed is returned when the pipeline reports failure.
var errBuildFailed = errors.New("build failed")

// Options are inputs accepted by the build entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// ManifestPath optionally supplies build settings from a package manifest.
	ManifestPath string
	// MetricsFile overrides the configured metrics output file.
	MetricsFile string
	// Source is the disk image to install from.
	Source string
	// Build holds command line build settings; set fields win over the manifest.
	Build builder.Options
}

// Run builds Source and logs the result. It returns an error when the build fails.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "build")

	buildOptions, err := resolveBuildOptions(opts)
	if err != nil {
		return err
	}

	ctx, env, err := common.Prepare(ctx, &common.EnvironmentOptions{
		ConfigPath:  opts.ConfigPath,
		MetricsFile: opts.MetricsFile,
		Programs:    []string{diskimage.Utility},
	})
	if err != nil {
		return err
	}

	defer env.Close(ctx)

	b := builder.New(env.Runner,
		builder.WithLedger(env.Ledger),
		builder.WithRecorder(env.Recorder),
	)

	result := b.Build(ctx, opts.Source, buildOptions)

	logger.Audit(ctx).Infow("Build finished",
		"source", opts.Source,
		"success", result.Success,
		"output", result.OutputPath,
		"errors", len(result.Errors),
		"warnings", len(result.Warnings),
	)

	if !result.Success {
		return fmt.Errorf("%w: %w", errBuildFailed, result.Err())
	}

	logger.InfoKV(ctx, "Installed application", "path", result.OutputPath)

	return nil
}

// resolveBuildOptions layers command line settings over the manifest's build section.
func resolveBuildOptions(opts *Options) (*builder.Options, error) {
	merged := new(builder.Options)

	if opts.ManifestPath != "" {
		m, err := manifest.Load(opts.ManifestPath)
		if err != nil {
			return nil, err
		}

		if fromManifest := m.BuildOptions(); fromManifest != nil {
			merged = fromManifest
		}
	}

	if opts.Build.BuildType != "" {
		merged.BuildType = opts.Build.BuildType
	}

	if opts.Build.Destination != "" {
		merged.Destination = opts.Build.Destination
	}

	if opts.Build.Checksum != "" {
		merged.Checksum = opts.Build.Checksum
	}

	merged.PreserveTemp = merged.PreserveTemp || opts.Build.PreserveTemp

	return merged, nil
}
