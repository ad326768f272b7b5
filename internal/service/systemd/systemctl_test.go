package systemd

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scx1332/pipe-updater/internal/config"
)

// fakeSystemctl mimics systemctl exit codes and records invocations.
const fakeSystemctl = `#!/bin/sh
echo "$@" >> "$(dirname "$0")/calls.log"
case "$1" in
is-active)
	[ "$2" = "running.service" ] && { echo active; exit 0; }
	echo inactive
	exit 3
	;;
stop|restart|start)
	[ "$2" = "missing.service" ] && { echo "Unit missing.service not loaded." >&2; exit 5; }
	exit 0
	;;
esac
exit 1
`

// newFake installs the fake systemctl and returns a controller plus its call log path.
func newFake(t *testing.T) (*Systemctl, string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "systemctl")
	require.NoError(t, os.WriteFile(path, []byte(fakeSystemctl), 0o700)) //nolint:gosec // Test executable.

	return New(path), filepath.Join(dir, "calls.log")
}

func readCalls(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// TestSystemctl_StopRestart passes verbs and unit names through.
func TestSystemctl_StopRestart(t *testing.T) { //nolint:paralleltest // Concurrent write+exec of scripts fails with ETXTBSY.
	ctl, calls := newFake(t)
	ctx := context.Background()

	require.NoError(t, ctl.Stop(ctx, "lighthouse-bn.service"))
	require.NoError(t, ctl.Restart(ctx, "lighthouse-bn.service"))
	require.NoError(t, ctl.Start(ctx, "lighthouse-bn.service"))

	require.Equal(t, []string{
		"stop lighthouse-bn.service",
		"restart lighthouse-bn.service",
		"start lighthouse-bn.service",
	}, readCalls(t, calls))
}

// TestSystemctl_Failure surfaces the exit status and output.
func TestSystemctl_Failure(t *testing.T) { //nolint:paralleltest // Concurrent write+exec of scripts fails with ETXTBSY.
	ctl, _ := newFake(t)

	err := ctl.Stop(context.Background(), "missing.service")
	require.Error(t, err)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.Equal(t, []string{"stop", "missing.service"}, cmdErr.Args)
	require.Contains(t, cmdErr.Output, "not loaded")
	require.Contains(t, err.Error(), "systemctl stop missing.service")
}

// TestSystemctl_IsActive treats non-zero exit codes as inactive.
func TestSystemctl_IsActive(t *testing.T) { //nolint:paralleltest // Concurrent write+exec of scripts fails with ETXTBSY.
	ctl, _ := newFake(t)
	ctx := context.Background()

	active, err := ctl.IsActive(ctx, "running.service")
	require.NoError(t, err)
	require.True(t, active)

	active, err = ctl.IsActive(ctx, "stopped.service")
	require.NoError(t, err)
	require.False(t, active)
}

// TestSystemctl_Validation rejects empty units and missing binaries.
func TestSystemctl_Validation(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, New("/bin/true").Stop(context.Background(), " "), ErrEmptyUnit)
	require.Equal(t, config.DefaultSystemctlPath, New("").Path())

	_, err := New(filepath.Join(t.TempDir(), "absent")).IsActive(context.Background(), "x.service")
	require.Error(t, err)
}
