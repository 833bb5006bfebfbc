package cmd

import (
	"github.com/spf13/cobra"

	"github.com/matdotcx/carrus/internal/codesign"
	"github.com/matdotcx/carrus/internal/service/verify"
)

var (
	// verifyPolicy collects the verify command's policy flags.
	verifyPolicy codesign.Policy
	// verifyManifest is the optional package manifest for the policy.
	verifyManifest string
	// verifyDebug prints raw utility output.
	verifyDebug bool

	verifyCmd = &cobra.Command{
		Use:   "verify PATH",
		Short: "Check the signature and notarization of an application.",
		Long: `Verify that an application bundle, binary or disk image is signed and,
optionally, notarized by the expected team. Disk images are mounted and the
bundle inside is checked. Exits with status 1 when the policy is not met.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			return verify.Run(ctx, &verify.Options{
				ConfigPath:   configPath,
				ManifestPath: verifyManifest,
				MetricsFile:  metricsFile,
				Path:         args[0],
				Policy:       verifyPolicy,
				Debug:        verifyDebug,
				Output:       cmd.OutOrStdout(),
			})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := verifyCmd.Flags()
	flags.StringVar(&verifyPolicy.RequiredTeamID, "team-id", "", "required team identifier")
	flags.BoolVar(&verifyPolicy.RequireNotarized, "require-notarized", false, "fail unless the Gatekeeper assessment passes")
	flags.StringArrayVar(&verifyPolicy.RequiredAuthorities, "authority", nil, "required signing authority (repeatable)")
	flags.BoolVar(&verifyDebug, "debug", false, "print raw output of every check")
	flags.StringVarP(&verifyManifest, "manifest", "m", "", "package manifest providing the code_sign policy")

	rootCmd.AddCommand(verifyCmd)
}
