package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/scx1332/pipe-updater/internal/config"
	"github.com/scx1332/pipe-updater/internal/logger"
)

// Server wraps http.Server with graceful shutdown.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

// NewServer creates an HTTP server for handler listening on cfg.Address.
func NewServer(cfg config.ServerConfig, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Address,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Serve accepts connections on lis until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }

	logger.InfoKV(ctx, "HTTP server listening", "address", lis.Addr().String())

	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}

	return nil
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}

	return s.Serve(ctx, lis)
}

// Shutdown waits for in-flight requests within the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if timeout := s.shutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger.Info(ctx, "Shutting down HTTP server")

	return s.srv.Shutdown(ctx)
}
