package sweep

import (
	"context"

	"github.com/matdotcx/carrus/internal/diskimage"
	"github.com/matdotcx/carrus/internal/logger"
	"github.com/matdotcx/carrus/internal/service/common"
)

// Options are inputs accepted by the sweep entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
}

// Run reclaims mounts left behind by earlier runs. Per-mount problems are
// logged as warnings; only setup and ledger read failures are returned.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "sweep")

	ctx, env, err := common.Prepare(ctx, &common.EnvironmentOptions{
		ConfigPath: opts.ConfigPath,
		Programs:   []string{diskimage.Utility},
	})
	if err != nil {
		return err
	}

	defer env.Close(ctx)

	report, err := diskimage.Sweep(ctx, env.Runner, env.Ledger)
	if err != nil {
		return err
	}

	for _, warning := range report.Warnings {
		logger.WarnKV(ctx, "Sweep warning", "warning", warning)
	}

	logger.Audit(ctx).Infow("Mount sweep finished",
		"cleaned", report.Cleaned, "active", report.Active, "warnings", len(report.Warnings))

	return nil
}
