package cmd

import (
	"github.com/spf13/cobra"

	"github.com/scx1332/pipe-updater/internal/service/packager"
)

var (
	// packageOptions collects the package flags.
	packageOptions packager.Options

	// packageCmd registers a binary build as an update target.
	packageCmd = &cobra.Command{
		Use:   "package <file> <url>",
		Short: "Register a binary as a checksum verified target.",
		Long: `Computes the SHA-512 of a local binary and adds or replaces a binary target
in the configuration file. The target downloads the file from the URL and
atomically replaces the output path after verifying the checksum.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			options := packageOptions
			options.ConfigPath = configPath
			options.File = args[0]
			options.URL = args[1]

			return packager.Run(ctx, &options)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	packageCmd.Flags().StringVarP(&packageOptions.Name, "name", "n", "", "target name (default file name)")
	packageCmd.Flags().StringVarP(&packageOptions.Output, "output", "o", "", "path replaced on the node")
	packageCmd.Flags().StringVarP(&packageOptions.Service, "service", "s", "", "systemd unit restarted after the update")
}
