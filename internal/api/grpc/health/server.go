package health

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/scx1332/pipe-updater/internal/logger"
)

// ServiceName is the service reported by the health server.
const ServiceName = "pipe_updater"

// Server serves grpc.health.v1. The service turns NOT_SERVING while a unit is being stopped or restarted.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer creates a health server reporting SERVING.
func NewServer() *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
	}

	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return s
}

// SetBusy flips the service status.
func (s *Server) SetBusy(busy bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if busy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.health.SetServingStatus(ServiceName, status)
}

// Start listens on address and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context, address string) error {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx is canceled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	ctx = logger.WithName(ctx, "grpc-health")

	logger.InfoKV(ctx, "Health server listening", "address", lis.Addr().String())

	// Closed after GracefulStop so Serve returns only once the server is fully down.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
		close(done)
	}()

	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc: %w", err)
	}

	<-done
	logger.Info(ctx, "Health server stopped")

	return nil
}
