package systemd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/scx1332/pipe-updater/internal/config"
	"github.com/scx1332/pipe-updater/internal/logger"
)

// DefaultTimeout bounds a single systemctl invocation.
const DefaultTimeout = 2 * time.Minute

// ErrEmptyUnit is returned when no unit name is given.
var ErrEmptyUnit = errors.New("unit name is empty")

// CommandError describes a failed systemctl invocation.
type CommandError struct {
	// Args are the arguments passed to systemctl.
	Args []string
	// Output is the combined stdout and stderr.
	Output string
	// Err is the underlying execution error.
	Err error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("systemctl %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}

	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Systemctl runs systemctl commands against units.
type Systemctl struct {
	path    string
	timeout time.Duration
}

// New creates a controller for the systemctl binary at path.
// An empty path falls back to config.DefaultSystemctlPath.
func New(path string) *Systemctl {
	if path == "" {
		path = config.DefaultSystemctlPath
	}

	return &Systemctl{path: path, timeout: DefaultTimeout}
}

// Path returns the systemctl binary in use.
func (s *Systemctl) Path() string {
	return s.path
}

// Stop stops unit and waits for the job to finish.
func (s *Systemctl) Stop(ctx context.Context, unit string) error {
	_, err := s.run(ctx, "stop", unit)

	return err
}

// Start starts unit.
func (s *Systemctl) Start(ctx context.Context, unit string) error {
	_, err := s.run(ctx, "start", unit)

	return err
}

// Restart restarts unit, starting it if it was stopped.
func (s *Systemctl) Restart(ctx context.Context, unit string) error {
	_, err := s.run(ctx, "restart", unit)

	return err
}

// IsActive reports whether unit is active. An inactive or failed unit is not an error.
func (s *Systemctl) IsActive(ctx context.Context, unit string) (bool, error) {
	_, err := s.run(ctx, "is-active", unit)
	if err == nil {
		return true, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}

	return false, err
}

func (s *Systemctl) run(ctx context.Context, verb, unit string) (string, error) {
	if strings.TrimSpace(unit) == "" {
		return "", ErrEmptyUnit
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := []string{verb, unit}

	logger.DebugKV(ctx, "Running systemctl", "path", s.path, "args", args)

	var out bytes.Buffer

	cmd := exec.CommandContext(ctx, s.path, args...) //nolint:gosec // The binary path comes from trusted configuration.
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.String(), &CommandError{Args: args, Output: strings.TrimSpace(out.String()), Err: err}
	}

	return out.String(), nil
}
