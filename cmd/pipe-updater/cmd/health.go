package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/scx1332/pipe-updater/internal/service/checker"
)

var (
	// healthWatch keeps polling instead of checking once.
	healthWatch bool
	// healthInterval between checks in watch mode.
	healthInterval time.Duration
	// healthTimeout bounds a single check.
	healthTimeout time.Duration

	// healthCmd queries the gRPC health service of a running daemon.
	healthCmd = &cobra.Command{
		Use:   "health [address]",
		Short: "Check the health service of a running updater.",
		Long: `Queries grpc.health.v1 on the given address or the configured health address.
Exits with an error unless the service is SERVING. With --watch the status is
logged every interval until interrupted.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			var address string
			if len(args) > 0 {
				address = args[0]
			}

			options := &checker.Options{
				ConfigPath:   configPath,
				Address:      address,
				PollInterval: healthInterval,
				Timeout:      healthTimeout,
				Once:         !healthWatch,
			}

			return checker.Run(ctx, options)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	healthCmd.Flags().BoolVarP(&healthWatch, "watch", "w", false, "poll until interrupted")
	healthCmd.Flags().DurationVar(&healthInterval, "interval", checker.DefaultPollInterval, "interval between checks")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "timeout of a single check")
}
