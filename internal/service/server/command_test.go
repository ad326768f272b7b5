package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scx1332/pipe-updater/internal/config"
)

// writeSettings stores a config with a single target in a temp directory.
func writeSettings(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultConfigFilename)

	cfg := config.Default()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.HistoryFile = filepath.Join(dir, "history.json")
	cfg.Targets = []config.Target{{
		Name:   "lighthouse",
		URL:    "http://127.0.0.1:1/snapshot.tar.lz4",
		Output: filepath.Join(dir, "output"),
	}}

	require.NoError(t, config.Save(path, cfg))

	return path, dir
}

// TestLoadSettings_Overrides lets command line values win over the file.
func TestLoadSettings_Overrides(t *testing.T) {
	t.Parallel()

	path, dir := writeSettings(t)

	settings, err := LoadSettings(&Options{
		ConfigPath:    path,
		ListenAddress: "127.0.0.1:15101",
		HealthAddress: "127.0.0.1:15102",
		LogDir:        filepath.Join(dir, "logs"),
		SystemctlPath: "/bin/systemctl",
	})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:15101", settings.Server.Address)
	require.Equal(t, "127.0.0.1:15102", settings.Server.HealthAddress)
	require.Equal(t, filepath.Join(dir, "logs"), settings.Log.Dir)
	require.Equal(t, "/bin/systemctl", settings.SystemctlPath)
	require.Len(t, settings.Targets, 1)

	settings, err = LoadSettings(&Options{ConfigPath: path})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:0", settings.Server.Address)
	require.Equal(t, config.DefaultSystemctlPath, settings.SystemctlPath)
}

// TestLoadSettings_Errors reports missing files and invalid overrides.
func TestLoadSettings_Errors(t *testing.T) {
	t.Parallel()

	_, err := LoadSettings(&Options{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")})
	require.Error(t, err)

	path, _ := writeSettings(t)

	_, err = LoadSettings(&Options{ConfigPath: path, ListenAddress: "no-port"})
	require.Error(t, err)
}

// TestRun_StopsOnCancel serves until the context is canceled.
func TestRun_StopsOnCancel(t *testing.T) { //nolint:paralleltest // Run replaces the global logger.
	path, dir := writeSettings(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := Run(ctx, &Options{
		ConfigPath:    path,
		HealthAddress: "127.0.0.1:0",
		LogDir:        filepath.Join(dir, "logs"),
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "logs"))
	require.NoError(t, err)
}
