package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/scx1332/pipe-updater/internal/logger"
	"github.com/scx1332/pipe-updater/internal/service/server"
	"github.com/scx1332/pipe-updater/internal/service/updater"
)

// Options configures a foreground update.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string
	// Target names the target to update; empty selects the first one.
	Target string
	// LogDir enables rotated log files in the directory.
	LogDir string
	// SystemctlPath overrides the systemctl binary.
	SystemctlPath string
}

// Run updates one target and blocks until it finishes. Canceling ctx cancels
// the task, which still restarts the service it stopped.
func Run(ctx context.Context, opts *Options) error {
	settings, err := server.LoadSettings(&server.Options{
		ConfigPath:    opts.ConfigPath,
		LogDir:        opts.LogDir,
		SystemctlPath: opts.SystemctlPath,
	})
	if err != nil {
		return err
	}

	logs, err := server.SetupLogging(settings)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	defer func() {
		logger.Sync()
		_ = logs.Close()
	}()

	ctx = logger.WithName(ctx, "fetch")

	// Tasks outlive ctx so that cancellation goes through Task.Cancel.
	manager := updater.NewManager(context.WithoutCancel(ctx), settings, updater.Options{})

	task, err := manager.Start(opts.Target)
	if err != nil {
		return fmt.Errorf("start update: %w", err)
	}

	done := make(chan struct{})

	go func() {
		_ = task.Wait(context.Background())
		close(done)
	}()

	ticker := time.NewTicker(settings.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			if err = task.Err(); err != nil {
				return fmt.Errorf("update %s: %w", task.Target().Name, err)
			}

			if snapshot, ok := task.Progress(); ok {
				logger.Info(ctx, "Update finished, "+snapshot.String())
			}

			return nil
		case <-ctx.Done():
			logger.Info(ctx, "Interrupted, canceling update")

			_ = task.Cancel()
			ctx = context.WithoutCancel(ctx)
		case <-ticker.C:
			if snapshot, ok := task.Progress(); ok {
				logger.InfoKV(ctx, "progress: "+snapshot.String(), "status", task.Status())
			}
		}
	}
}
