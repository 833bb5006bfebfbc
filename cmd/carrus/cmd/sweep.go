package cmd

import (
	"github.com/spf13/cobra"

	"github.com/matdotcx/carrus/internal/service/sweep"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Detach and remove disk image mounts left behind by earlier runs.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		return sweep.Run(ctx, &sweep.Options{ConfigPath: configPath})
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(sweepCmd)
}
