package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scx1332/pipe-updater/internal/config"
)

var (
	// force overwrites an existing configuration file.
	force bool

	errConfigExists = errors.New("configuration file already exists, use --force to overwrite")

	// initConfigCmd writes the default configuration.
	initConfigCmd = &cobra.Command{
		Use:          "init-config",
		Short:        "Write a default configuration file.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultConfigFilename
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s: %w", path, errConfigExists)
			}

			cfg := config.Default()
			cfg.Targets = []config.Target{config.DefaultTarget()}

			if systemctlPath != "" {
				cfg.SystemctlPath = systemctlPath
			}

			if logDir != "" {
				cfg.Log.Dir = logDir
			}

			if err := config.Save(path, cfg); err != nil {
				return err
			}

			cmd.Printf("Configuration written to %s\n", path)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	initConfigCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
}
