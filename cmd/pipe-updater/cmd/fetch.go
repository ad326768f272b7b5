package cmd

import (
	"github.com/spf13/cobra"

	"github.com/scx1332/pipe-updater/internal/service/fetch"
)

// fetchCmd runs one update in the foreground.
var fetchCmd = &cobra.Command{
	Use:   "fetch [target]",
	Short: "Run one update in the foreground.",
	Long: `Stops the target's service, downloads and unpacks its artifact, and starts
the service again, logging progress until done. Without an argument the first
configured target is updated. Interrupting cancels the download but still
restarts the service.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(_ *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		var target string
		if len(args) > 0 {
			target = args[0]
		}

		options := &fetch.Options{
			ConfigPath:    configPath,
			Target:        target,
			LogDir:        logDir,
			SystemctlPath: systemctlPath,
		}

		return fetch.Run(ctx, options)
	},
}
