package packager

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/scx1332/pipe-updater/internal/config"
	"github.com/scx1332/pipe-updater/internal/downloader"
	"github.com/scx1332/pipe-updater/internal/logger"
)

// Options contains inputs for the packager entry point.
type Options struct {
	// ConfigPath is the settings file to update; created when missing.
	ConfigPath string
	// File is the local binary that will be uploaded.
	File string
	// Name of the target, the file name by default.
	Name string
	// URL the binary is served from.
	URL string
	// Output is the path replaced on the node.
	Output string
	// Service is an optional systemd unit restarted after the swap.
	Service string
}

var (
	errFileRequired = errors.New("binary file is required")
	errURLRequired  = errors.New("download URL is required")
)

// Run hashes the binary and writes the target into the settings file.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "packager")

	if opts.File == "" {
		return errFileRequired
	}

	if opts.URL == "" {
		return errURLRequired
	}

	checksum, err := Checksum(opts.File)
	if err != nil {
		return err
	}

	cfg, err := loadOrDefault(opts.ConfigPath)
	if err != nil {
		return err
	}

	target := config.Target{
		Name:     opts.Name,
		URL:      opts.URL,
		Output:   opts.Output,
		Kind:     config.KindBinary,
		Format:   "raw",
		Service:  opts.Service,
		Checksum: checksum,
	}

	if target.Name == "" {
		target.Name = filepath.Base(opts.File)
	}

	if target.Output == "" {
		target.Output = filepath.Join("/usr/local/bin", filepath.Base(opts.File))
	}

	replaced := upsert(cfg, target)

	if err = config.Save(opts.ConfigPath, cfg); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	logger.InfoKV(ctx, "Registered binary target",
		"target", target.Name,
		"checksum", checksum,
		"replaced", replaced)

	printNextSteps(ctx, opts, &target)

	return nil
}

// Checksum returns the hex encoded SHA-512 of the file.
func Checksum(path string) (string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	hash := downloader.ChecksumFunction.New()
	if _, err = io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// loadOrDefault reads the settings file without environment overrides, or
// starts from defaults without targets.
func loadOrDefault(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultConfigFilename
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}

	cfg, err := config.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	return cfg, nil
}

// upsert replaces the target with the same name or appends it.
func upsert(cfg *config.Config, target config.Target) bool {
	for i := range cfg.Targets {
		if cfg.Targets[i].Name == target.Name {
			cfg.Targets[i] = target
			return true
		}
	}

	cfg.Targets = append(cfg.Targets, target)

	return false
}

// printNextSteps logs human-readable guidance for next actions.
func printNextSteps(ctx context.Context, opts *Options, target *config.Target) {
	var builder strings.Builder

	builder.WriteString("You should upload ")
	builder.WriteString(opts.File)
	builder.WriteString(" so that it is served at:\n")
	builder.WriteString(target.URL)
	builder.WriteString("\n\nThen distribute the settings file and trigger the update with:\n")
	builder.WriteString("curl -X POST http://<node>:15100/api/v1/targets/")
	builder.WriteString(target.Name)
	builder.WriteString("/start")

	logger.Info(ctx, builder.String())
}
