package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// startServer serves a health server on a random local port.
func startServer(t *testing.T) (*Server, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer()
	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ctx, lis)
	}()

	t.Cleanup(func() {
		cancel()

		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("health server did not stop")
		}
	})

	return srv, lis.Addr().String()
}

// TestHealth_ReportsBusyService toggles the service status.
func TestHealth_ReportsBusyService(t *testing.T) {
	t.Parallel()

	srv, address := startServer(t)

	client, err := Dial(address, WithCallTimeout(2*time.Second))
	require.NoError(t, err)

	defer func() {
		_ = client.Close()
	}()

	ctx := context.Background()

	got, err := client.Check(ctx, ServiceName)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, got)

	srv.SetBusy(true)

	got, err = client.Check(ctx, ServiceName)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, got)

	got, err = client.Check(ctx, "")
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, got)

	srv.SetBusy(false)

	got, err = client.Check(ctx, ServiceName)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, got)
}

// TestHealth_UnknownService returns NotFound.
func TestHealth_UnknownService(t *testing.T) {
	t.Parallel()

	_, address := startServer(t)

	client, err := Dial(address)
	require.NoError(t, err)

	defer func() {
		_ = client.Close()
	}()

	_, err = client.Check(context.Background(), "other")
	require.Error(t, err)
	require.Equal(t, codes.NotFound, status.Code(err))
}

// TestDial_RequiresAddress rejects an empty address.
func TestDial_RequiresAddress(t *testing.T) {
	t.Parallel()

	_, err := Dial("")
	require.ErrorIs(t, err, errAddressRequired)

	var nilClient *Client
	require.NoError(t, nilClient.Close())
}
