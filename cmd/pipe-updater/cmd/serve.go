package cmd

import (
	"github.com/spf13/cobra"

	"github.com/scx1332/pipe-updater/internal/config"
)

// serveCmd runs the HTTP control API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the update control API.",
	Long: `Serves the HTTP control API on 0.0.0.0:15100 unless configured otherwise.

GET /start, /progress and /pause drive the first configured target, while
/api/v1/targets exposes every target. With a health address set, a gRPC
health service reports NOT_SERVING while a unit is being stopped or restarted.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runServe,
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	serveCmd.Flags().StringVar(&listenAddress, "listen", "", "HTTP listen address (default "+config.DefaultListenAddress+")")
	serveCmd.Flags().StringVar(&healthAddress, "health-address", "", "gRPC health listen address")
}
