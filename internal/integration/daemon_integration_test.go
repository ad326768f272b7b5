package integration

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"

	"github.com/scx1332/pipe-updater/internal/config"
	domain "github.com/scx1332/pipe-updater/internal/domain/update"
	"github.com/scx1332/pipe-updater/internal/repository/history"
	"github.com/scx1332/pipe-updater/internal/service/checker"
	"github.com/scx1332/pipe-updater/internal/service/packager"
	"github.com/scx1332/pipe-updater/internal/service/server"
	"github.com/scx1332/pipe-updater/internal/service/updater"
)

// fakeSystemctl records invocations next to itself.
const fakeSystemctl = `#!/bin/sh
echo "$@" >> "$(dirname "$0")/calls.log"
exit 0
`

// freeAddress reserves a local port and releases it for the daemon.
func freeAddress(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

// lz4Tarball packs files into a tar.lz4 stream.
func lz4Tarball(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := lz4.NewWriter(&buf)
	tw := tar.NewWriter(zw)

	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}))

		_, err := io.WriteString(tw, body)
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// serveArtifacts exposes each payload under its name with range support.
func serveArtifacts(t *testing.T, artifacts map[string][]byte) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")

		data, ok := artifacts[name]
		if !ok {
			http.NotFound(w, r)
			return
		}

		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)

	return srv.URL
}

// daemon is a running pipe-updater with its addresses.
type daemon struct {
	httpAddr   string
	healthAddr string
	dir        string
	stop       func()
}

// startDaemon runs server.Run with settings until the test ends.
func startDaemon(t *testing.T, settingsPath, dir string) *daemon {
	t.Helper()

	d := &daemon{
		httpAddr:   freeAddress(t),
		healthAddr: freeAddress(t),
		dir:        dir,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- server.Run(ctx, &server.Options{
			ConfigPath:    settingsPath,
			ListenAddress: d.httpAddr,
			HealthAddress: d.healthAddr,
		})
	}()

	var once sync.Once

	d.stop = func() {
		once.Do(func() {
			cancel()
			require.NoError(t, <-done)
		})
	}

	t.Cleanup(d.stop)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + d.httpAddr + "/health/live")
		if err != nil {
			return false
		}

		_ = resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	return d
}

// get returns the status and body of a request to the daemon.
func (d *daemon) get(t *testing.T, method, path string) (int, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, "http://"+d.httpAddr+path, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

// waitStatus polls the target until it reaches a terminal status.
func (d *daemon) waitStatus(t *testing.T, target string) updater.State {
	t.Helper()

	var state updater.State

	require.Eventually(t, func() bool {
		code, body := d.get(t, http.MethodGet, "/api/v1/targets/"+target)
		if code != http.StatusOK {
			return false
		}

		require.NoError(t, json.Unmarshal([]byte(body), &state))

		return state.Status.IsTerminal()
	}, 10*time.Second, 20*time.Millisecond)

	return state
}

// installSystemctl writes the fake systemctl into dir.
func installSystemctl(t *testing.T, dir string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}

	path := filepath.Join(dir, "systemctl")
	require.NoError(t, os.WriteFile(path, []byte(fakeSystemctl), 0o700)) //nolint:gosec // Test executable.

	return path
}

// TestDaemon_LegacyUpdateCycle drives the first target through /start and /progress.
//
//nolint:paralleltest // Daemon replaces the global logger and execs a fake systemctl.
func TestDaemon_LegacyUpdateCycle(t *testing.T) {
	dir := t.TempDir()
	base := serveArtifacts(t, map[string][]byte{
		"node.tar.lz4": lz4Tarball(t, map[string]string{
			"beacon/config.toml": "network = 'holesky'\n",
			"beacon/VERSION":     "v5.3.0\n",
		}),
	})

	cfg := config.Default()
	cfg.SystemctlPath = installSystemctl(t, dir)
	cfg.HistoryFile = filepath.Join(dir, "history.json")
	cfg.Targets = []config.Target{{
		Name:    "lighthouse",
		URL:     base + "/node.tar.lz4",
		Output:  filepath.Join(dir, "output"),
		Service: "lighthouse-bn.service",
	}}

	settings := filepath.Join(dir, "settings.yaml")
	require.NoError(t, config.Save(settings, cfg))

	d := startDaemon(t, settings, dir)

	code, body := d.get(t, http.MethodGet, "/hello/node")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Hello node!", body)

	_, body = d.get(t, http.MethodGet, "/start")
	require.Equal(t, "Update started!", body)

	state := d.waitStatus(t, "lighthouse")
	require.Equal(t, domain.StatusSucceeded, state.Status, state.Error)

	data, err := os.ReadFile(filepath.Join(dir, "output", "beacon", "VERSION"))
	require.NoError(t, err)
	require.Equal(t, "v5.3.0\n", string(data))

	_, body = d.get(t, http.MethodGet, "/progress")
	require.True(t, strings.HasPrefix(body, "progress: {"), body)

	calls, err := os.ReadFile(filepath.Join(dir, "calls.log"))
	require.NoError(t, err)
	require.Equal(t, "stop lighthouse-bn.service\nrestart lighthouse-bn.service\n", string(calls))

	code, body = d.get(t, http.MethodGet, "/api/v1/history")
	require.Equal(t, http.StatusOK, code)

	var records []domain.Record
	require.NoError(t, json.Unmarshal([]byte(body), &records))
	require.Len(t, records, 1)
	require.Equal(t, domain.StatusSucceeded, records[0].Status)

	require.NoError(t, checker.Run(context.Background(), &checker.Options{
		Address: d.healthAddr,
		Once:    true,
		Timeout: time.Second,
	}))
}

// TestDaemon_PackagedBinary registers a binary with the packager and installs it through the JSON API.
//
//nolint:paralleltest // Daemon replaces the global logger.
func TestDaemon_PackagedBinary(t *testing.T) {
	dir := t.TempDir()
	release := []byte("#!/bin/sh\necho v2\n")

	build := filepath.Join(dir, "agent")
	require.NoError(t, os.WriteFile(build, release, 0o600))

	base := serveArtifacts(t, map[string][]byte{"agent": release})

	installed := filepath.Join(dir, "bin", "agent")
	require.NoError(t, os.MkdirAll(filepath.Dir(installed), 0o755))
	require.NoError(t, os.WriteFile(installed, []byte("#!/bin/sh\necho v1\n"), 0o755)) //nolint:gosec // Test executable.

	cfg := config.Default()
	cfg.HistoryFile = filepath.Join(dir, "history.json")

	settings := filepath.Join(dir, "settings.yaml")
	require.NoError(t, config.Save(settings, cfg))

	require.NoError(t, packager.Run(context.Background(), &packager.Options{
		ConfigPath: settings,
		File:       build,
		URL:        base + "/agent",
		Output:     installed,
	}))

	d := startDaemon(t, settings, dir)

	code, _ := d.get(t, http.MethodPost, "/api/v1/targets/agent/start")
	require.Equal(t, http.StatusAccepted, code)

	state := d.waitStatus(t, "agent")
	require.Equal(t, domain.StatusSucceeded, state.Status, state.Error)

	data, err := os.ReadFile(installed)
	require.NoError(t, err)
	require.Equal(t, release, data)

	code, _ = d.get(t, http.MethodGet, "/api/v1/targets/missing")
	require.Equal(t, http.StatusNotFound, code)
}

// TestDaemon_ShutdownCancelsTask records an interrupted update as canceled and restarts its unit.
//
//nolint:paralleltest // Daemon replaces the global logger and execs a fake systemctl.
func TestDaemon_ShutdownCancelsTask(t *testing.T) {
	dir := t.TempDir()
	archive := lz4Tarball(t, map[string]string{"beacon/VERSION": "v5.3.0\n"})

	// Ranged chunk requests hang until the client goes away.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=0-0" {
			<-r.Context().Done()

			return
		}

		http.ServeContent(w, r, "node.tar.lz4", time.Time{}, bytes.NewReader(archive))
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.SystemctlPath = installSystemctl(t, dir)
	cfg.HistoryFile = filepath.Join(dir, "history.json")
	cfg.Download.Retry.MaxAttempts = 1
	cfg.Targets = []config.Target{{
		Name:    "lighthouse",
		URL:     srv.URL + "/node.tar.lz4",
		Output:  filepath.Join(dir, "output"),
		Service: "lighthouse-bn.service",
	}}

	settings := filepath.Join(dir, "settings.yaml")
	require.NoError(t, config.Save(settings, cfg))

	d := startDaemon(t, settings, dir)

	code, _ := d.get(t, http.MethodPost, "/api/v1/targets/lighthouse/start")
	require.Equal(t, http.StatusAccepted, code)

	require.Eventually(t, func() bool {
		_, body := d.get(t, http.MethodGet, "/api/v1/targets/lighthouse")

		return strings.Contains(body, `"status":"downloading"`)
	}, 5*time.Second, 20*time.Millisecond)

	d.stop()

	records, err := history.NewFileRepository(cfg.HistoryFile, 0).List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, domain.StatusCanceled, records[0].Status)

	calls, err := os.ReadFile(filepath.Join(dir, "calls.log"))
	require.NoError(t, err)
	require.Equal(t, "stop lighthouse-bn.service\nrestart lighthouse-bn.service\n", string(calls))
}
