package checker

import (
	"context"
	"errors"
	"fmt"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/scx1332/pipe-updater/internal/api/grpc/health"
	"github.com/scx1332/pipe-updater/internal/config"
	"github.com/scx1332/pipe-updater/internal/logger"
)

// Options controls the checker polling behavior and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// Address overrides the health address from the settings.
	Address string
	// Service is the checked service name, health.ServiceName by default.
	Service string
	// PollInterval defines the interval between checks.
	PollInterval time.Duration
	// Timeout specifies the per-RPC timeout duration.
	Timeout time.Duration
	// Once checks a single time and fails unless the service is serving.
	Once bool
}

// DefaultPollInterval defines the polling interval when none is given.
const DefaultPollInterval = 5 * time.Second

var (
	// ErrNotServing is returned by a single check of a busy or unknown service.
	ErrNotServing = errors.New("service is not serving")
	// errNoAddress indicates that neither flags nor settings name an address.
	errNoAddress = errors.New("health address is not configured")
)

// Run checks the health service once or polls it until ctx is canceled.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "health-checker")

	address := opts.Address
	if address == "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		address = cfg.Server.HealthAddress
	}

	if address == "" {
		return errNoAddress
	}

	service := opts.Service
	if service == "" {
		service = health.ServiceName
	}

	client, err := health.Dial(address, health.WithCallTimeout(opts.Timeout))
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}

	defer func() {
		_ = client.Close()
	}()

	if opts.Once {
		return checkOnce(ctx, client, service)
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	logger.InfoKV(ctx, "Polling health", "address", address, "service", service, "interval", opts.PollInterval.String())

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")
			return nil
		case <-ticker.C:
			status, err := client.Check(ctx, service)
			if err != nil {
				logger.ErrorKV(ctx, "Health check failed", "error", err)
				continue
			}

			logger.Infof(ctx, "Service %s is %s", service, status)
		}
	}
}

// checkOnce logs the current status and maps anything but SERVING to ErrNotServing.
func checkOnce(ctx context.Context, client *health.Client, service string) error {
	status, err := client.Check(ctx, service)
	if err != nil {
		return err
	}

	logger.Infof(ctx, "Service %s is %s", service, status)

	if status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrNotServing, status)
	}

	return nil
}
