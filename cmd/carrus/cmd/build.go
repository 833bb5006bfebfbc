package cmd

import (
	"github.com/spf13/cobra"

	"github.com/matdotcx/carrus/internal/builder"
	"github.com/matdotcx/carrus/internal/service/build"
)

var (
	// buildOptions collects the build command's flags.
	buildOptions builder.Options
	// buildManifest is the optional package manifest for build settings.
	buildManifest string

	buildCmd = &cobra.Command{
		Use:   "build SOURCE",
		Short: "Install the application bundle from a disk image.",
		Long: `Mount the disk image read-only, find the application bundle inside and copy it
into the destination directory, replacing any existing copy. The image is always
detached and temporary files removed, unless --preserve-temp is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			return build.Run(ctx, &build.Options{
				ConfigPath:   configPath,
				ManifestPath: buildManifest,
				MetricsFile:  metricsFile,
				Source:       args[0],
				Build:        buildOptions,
			})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := buildCmd.Flags()
	flags.StringVarP(&buildOptions.BuildType, "type", "t", "", "build type (default "+string(builder.DefaultBuildType)+")")
	flags.StringVarP(&buildOptions.Destination, "dest", "d", "", "destination directory (default "+builder.DefaultDestination+")")
	flags.BoolVar(&buildOptions.PreserveTemp, "preserve-temp", false, "keep temporary files for inspection")
	flags.StringVar(&buildOptions.Checksum, "checksum", "", "expected SHA-256 of the source image, hex encoded")
	flags.StringVarP(&buildManifest, "manifest", "m", "", "package manifest providing build settings")

	rootCmd.AddCommand(buildCmd)
}
