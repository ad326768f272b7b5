package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/scx1332/pipe-updater/internal/config"
	"github.com/scx1332/pipe-updater/internal/service/server"
	"github.com/scx1332/pipe-updater/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logDir enables rotated log files.
	logDir string
	// systemctlPath overrides the systemctl binary.
	systemctlPath string
	// listenAddress overrides the HTTP listen address.
	listenAddress string
	// healthAddress overrides the gRPC health listen address.
	healthAddress string

	// rootCmd runs the daemon when no subcommand is given.
	rootCmd = &cobra.Command{
		Use:   "pipe-updater",
		Short: "Stop a service, stream an artifact into place and start it again.",
		Long: `HTTP controlled updater for nodes.

For every configured target the updater stops the systemd unit, downloads the
artifact in parallel ranged chunks and unpacks it on the fly into the output
directory, then restarts the unit. Progress is logged and exposed over HTTP.

Without a subcommand the control API is served, like "pipe-updater serve".`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runServe,
	}
)

// Execute runs the pipe-updater CLI and exits with non-zero status on error.
func Execute() {
	loadDotEnv()

	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv imports .env from the working directory when present.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
}

// signalContext is canceled on SIGTERM or SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// runServe starts the daemon.
func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	options := &server.Options{
		ConfigPath:    configPath,
		ListenAddress: listenAddress,
		HealthAddress: healthAddress,
		LogDir:        logDir,
		SystemctlPath: systemctlPath,
	}

	return server.Run(ctx, options)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "",
		"path to configuration file (default "+config.DefaultConfigFilename+" when present)")
	flags.StringVarP(&logDir, "log-dir", "l", "", "directory for rotated log files")
	flags.StringVar(&systemctlPath, "systemctl-path", "",
		"path to systemctl (default "+config.DefaultSystemctlPath+")")

	rootCmd.Flags().StringVar(&listenAddress, "listen", "", "HTTP listen address (default "+config.DefaultListenAddress+")")
	rootCmd.Flags().StringVar(&healthAddress, "health-address", "", "gRPC health listen address")

	rootCmd.AddCommand(serveCmd, fetchCmd, healthCmd, packageCmd, initConfigCmd)
}
