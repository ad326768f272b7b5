package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validTarget() Target {
	return Target{
		Name:   "geth",
		URL:    "https://snapshots.example.com/geth.tar.zst",
		Output: "/var/lib/geth",
	}
}

// TestValidate checks required fields, defaults and format validations.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))

	// Empty configuration gets defaults.
	cfg := new(Config)
	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultListenAddress, cfg.Server.Address)
	require.Equal(t, DefaultSystemctlPath, cfg.SystemctlPath)
	require.Equal(t, time.Second, cfg.ProgressInterval)
	require.Equal(t, 4, cfg.Download.Parallelism)

	// Target defaults.
	cfg = &Config{Targets: []Target{validTarget()}}
	require.NoError(t, Validate(cfg))
	require.Equal(t, KindArchive, cfg.Targets[0].Kind)
	require.Equal(t, "auto", cfg.Targets[0].Format)

	cases := map[string]func(*Config){
		"bad address":     func(c *Config) { c.Server.Address = "no-port" },
		"bad health":      func(c *Config) { c.Server.HealthAddress = "nope" },
		"no name":         func(c *Config) { c.Targets[0].Name = " " },
		"relative url":    func(c *Config) { c.Targets[0].URL = "/geth.tar" },
		"ftp url":         func(c *Config) { c.Targets[0].URL = "ftp://host/geth.tar" },
		"no output":       func(c *Config) { c.Targets[0].Output = "" },
		"unknown kind":    func(c *Config) { c.Targets[0].Kind = "zip" },
		"unknown format":  func(c *Config) { c.Targets[0].Format = "tar.xz" },
		"short checksum":  func(c *Config) { c.Targets[0].Checksum = "abcd" },
		"duplicate names": func(c *Config) { c.Targets = append(c.Targets, validTarget()) },
		"tiny chunks":     func(c *Config) { c.Download.ChunkSize = 1024 },
		"no workers":      func(c *Config) { c.Download.Parallelism = -1 },
		"binary as tar": func(c *Config) {
			c.Targets[0].Kind = KindBinary
			c.Targets[0].Format = "tar.gz"
		},
	}

	for name, mutate := range cases {
		cfg := &Config{Targets: []Target{validTarget()}}
		mutate(cfg)
		require.Error(t, Validate(cfg), name)
	}

	// Valid checksum.
	cfg = &Config{Targets: []Target{validTarget()}}
	cfg.Targets[0].Kind = KindBinary
	cfg.Targets[0].Checksum = strings.Repeat("aB", 64)
	require.NoError(t, Validate(cfg))
}

// TestConfig_Target resolves default and named targets.
func TestConfig_Target(t *testing.T) {
	t.Parallel()

	cfg := new(Config)

	_, err := cfg.Target("")
	require.ErrorIs(t, err, ErrTargetNotFound)

	second := validTarget()
	second.Name = "erigon"
	cfg.Targets = []Target{validTarget(), second}

	target, err := cfg.Target("")
	require.NoError(t, err)
	require.Equal(t, "geth", target.Name)

	target, err = cfg.Target("erigon")
	require.NoError(t, err)
	require.Equal(t, "erigon", target.Name)

	_, err = cfg.Target("reth")
	require.ErrorIs(t, err, ErrTargetNotFound)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
//
//nolint:paralleltest // Load reads process environment.
func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	cfg := Default()
	cfg.Download.ChunkSize = 16 * 1024 * 1024
	cfg.Download.MaxSpeed = 1000
	cfg.Targets = []Target{validTarget()}
	cfg.Targets[0].Service = "geth.service"
	cfg.Targets[0].Processes = []string{"geth"}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Download.ChunkSize, loaded.Download.ChunkSize)
	require.Equal(t, cfg.Download.MaxSpeed, loaded.Download.MaxSpeed)
	require.Equal(t, cfg.Download.Retry, loaded.Download.Retry)
	require.Equal(t, cfg.Targets, loaded.Targets)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestLoad_FileAndEnvironment verifies the precedence of defaults, file and environment.
//
//nolint:paralleltest // t.Setenv is incompatible with t.Parallel.
func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	contents := `
server:
  address: 127.0.0.1:9000
progress_interval: 5s
download:
  chunk_size: 1 MiB
  retry:
    max_attempts: 2
targets:
  - name: geth
    url: https://snapshots.example.com/geth.tar.gz
    output: /var/lib/geth
    service: geth.service
`
	require.NoError(t, os.WriteFile(path, []byte(contents), DefaultFilePermissions))

	t.Setenv("PROXY_LOG", "debug")
	t.Setenv("PIPE_UPDATER_DOWNLOAD_PARALLELISM", "8")
	t.Setenv("PIPE_UPDATER_SERVER_HEALTH_ADDRESS", "127.0.0.1:9001")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
	require.Equal(t, "127.0.0.1:9001", cfg.Server.HealthAddress)
	require.Equal(t, 5*time.Second, cfg.ProgressInterval)
	require.Equal(t, ByteSize(1024*1024), cfg.Download.ChunkSize)
	require.Equal(t, 8, cfg.Download.Parallelism)
	require.Equal(t, 2, cfg.Download.Retry.MaxAttempts)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, DefaultSystemctlPath, cfg.SystemctlPath)
	require.Len(t, cfg.Targets, 1)
	require.Equal(t, "geth.service", cfg.Targets[0].Service)

	cfg, err = ReadFile(path)
	require.NoError(t, err)

	require.Empty(t, cfg.Server.HealthAddress)
	require.Equal(t, defaultParallelism, cfg.Download.Parallelism)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, 2, cfg.Download.Retry.MaxAttempts)
}

// TestLoad_MissingFile distinguishes the optional default file from an explicit path.
//
//nolint:paralleltest // t.Chdir is incompatible with t.Parallel.
func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []Target{DefaultTarget()}, cfg.Targets)

	_, err = Load("missing.yaml")
	require.Error(t, err)
}

// TestByteSize checks text encoding of sizes.
func TestByteSize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "8 MiB", ByteSize(8*1024*1024).String())
	require.Equal(t, "1500 B", ByteSize(1500).String())
	require.Equal(t, "0 B", ByteSize(0).String())

	var size ByteSize
	require.NoError(t, size.UnmarshalText([]byte("64 KiB")))
	require.Equal(t, MinChunkSize, size)
	require.Error(t, size.UnmarshalText([]byte("lots")))
}
