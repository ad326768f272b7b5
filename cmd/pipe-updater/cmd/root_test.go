package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scx1332/pipe-updater/internal/config"
)

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	t.Cleanup(func() {
		configPath, logDir, systemctlPath = "", "", ""
		force = false
	})

	err := rootCmd.Execute()

	return out.String(), err
}

// TestInitConfig writes a loadable file and refuses to overwrite it.
func TestInitConfig(t *testing.T) { //nolint:paralleltest // Commands share package level flags.
	path := filepath.Join(t.TempDir(), "settings.yaml")

	out, err := execute(t, "init-config", "-c", path, "--systemctl-path", "/bin/systemctl")
	require.NoError(t, err)
	require.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/bin/systemctl", cfg.SystemctlPath)
	require.Len(t, cfg.Targets, 1)

	_, err = execute(t, "init-config", "-c", path)
	require.ErrorIs(t, err, errConfigExists)

	_, err = execute(t, "init-config", "-c", path, "--force")
	require.NoError(t, err)
}

// TestCommands lists every subcommand.
func TestCommands(t *testing.T) { //nolint:paralleltest // Commands share package level flags.
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, command := range rootCmd.Commands() {
		names = append(names, command.Name())
	}

	for _, name := range []string{"serve", "fetch", "health", "package", "init-config"} {
		require.Contains(t, names, name)
	}
}
