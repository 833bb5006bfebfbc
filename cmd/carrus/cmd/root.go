package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matdotcx/carrus/internal/config"
	"github.com/matdotcx/carrus/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// metricsFile overrides where metrics are written after a run.
	metricsFile string

	// rootCmd represents the base command.
	rootCmd = &cobra.Command{
		Use:   "carrus",
		Short: "Install and verify macOS applications from disk images.",
		Long: `carrus extracts application bundles from disk images into a destination
directory and checks that applications are signed and notarized as required.

External utilities (hdiutil, codesign, spctl) are resolved once at startup from
a fixed search path and run with a minimal environment.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// Variables from .env never override the real environment.
			return config.LoadEnv()
		},
	}
)

// Execute runs the carrus CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default "+config.Dir()+"/"+config.DefaultConfigFilename+")")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write metrics in text exposition format to this file after the run")
}
