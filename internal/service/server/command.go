package server

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/scx1332/pipe-updater/internal/api/grpc/health"
	httpapi "github.com/scx1332/pipe-updater/internal/api/http"
	"github.com/scx1332/pipe-updater/internal/config"
	domain "github.com/scx1332/pipe-updater/internal/domain/update"
	"github.com/scx1332/pipe-updater/internal/logger"
	"github.com/scx1332/pipe-updater/internal/service/updater"
	"github.com/scx1332/pipe-updater/internal/version"
)

// Options controls the daemon process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress overrides the HTTP listen address.
	ListenAddress string
	// HealthAddress overrides the gRPC health listen address.
	HealthAddress string
	// LogDir enables rotated log files in the directory.
	LogDir string
	// SystemctlPath overrides the systemctl binary.
	SystemctlPath string
}

// LoadSettings loads configuration and applies command line overrides.
func LoadSettings(opts *Options) (*config.Config, error) {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	applyOverrides(settings, opts)

	if err = config.Validate(settings); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	return settings, nil
}

// SetupLogging configures the global logger from settings.
func SetupLogging(settings *config.Config) (io.Closer, error) {
	return logger.Setup(logger.Options{
		Level:    settings.Log.Level,
		Dir:      settings.Log.Dir,
		MaxSize:  int64(settings.Log.MaxSize),
		MaxFiles: settings.Log.MaxFiles,
	})
}

// Run serves the control API until ctx is canceled, then cancels running
// tasks and waits for their services to be restarted.
func Run(ctx context.Context, opts *Options) error {
	settings, err := LoadSettings(opts)
	if err != nil {
		return err
	}

	logs, err := SetupLogging(settings)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	defer func() {
		logger.Sync()
		_ = logs.Close()
	}()

	ctx = logger.WithName(ctx, "pipe-updater")

	logger.InfoKV(ctx, "Starting pipe-updater",
		"version", version.Full(),
		"listen_address", settings.Server.Address,
		"systemctl_path", settings.SystemctlPath,
		"log_dir", settings.Log.Dir)

	var healthServer *health.Server
	if settings.Server.HealthAddress != "" {
		healthServer = health.NewServer()
	}

	var manager *updater.Manager

	// Tasks outlive ctx so that Shutdown cancels them through Task.Cancel.
	manager = updater.NewManager(context.WithoutCancel(ctx), settings, updater.Options{
		OnStatus: func(target string, status domain.Status) {
			logger.DebugKV(ctx, "Task status changed", "target", target, "status", status)

			if healthServer != nil {
				healthServer.SetBusy(manager.ServiceBusy())
			}
		},
	})

	httpServer := httpapi.NewServer(settings.Server, httpapi.NewRouter(httpapi.NewHandler(manager)))

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return httpServer.Start(groupCtx)
	})

	if healthServer != nil {
		group.Go(func() error {
			return healthServer.Start(groupCtx, settings.Server.HealthAddress)
		})
	}

	group.Go(func() error {
		manager.Report(groupCtx)

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx := context.WithoutCancel(ctx)

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorKV(ctx, "HTTP server shutdown failed", "error", err)
		}

		return manager.Shutdown(shutdownCtx)
	})

	if err = group.Wait(); err != nil {
		return err
	}

	logger.Info(ctx, "Pipe-updater stopped")

	return nil
}

// applyOverrides copies non-empty command line values over the settings.
func applyOverrides(settings *config.Config, opts *Options) {
	if opts.ListenAddress != "" {
		settings.Server.Address = opts.ListenAddress
	}

	if opts.HealthAddress != "" {
		settings.Server.HealthAddress = opts.HealthAddress
	}

	if opts.LogDir != "" {
		settings.Log.Dir = opts.LogDir
	}

	if opts.SystemctlPath != "" {
		settings.SystemctlPath = opts.SystemctlPath
	}
}
