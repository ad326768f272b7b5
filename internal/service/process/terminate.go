package process

import (
	"context"
	"fmt"
	"os"

	"github.com/mitchellh/go-ps"

	"github.com/scx1332/pipe-updater/internal/logger"
)

// Terminator kills processes whose executable name is in a given set.
type Terminator struct {
	list func() ([]ps.Process, error)
	kill func(pid int) error
	self int
}

// NewTerminator creates a terminator for the local system.
func NewTerminator() *Terminator {
	return &Terminator{
		list: ps.Processes,
		kill: killProcess,
		self: os.Getpid(),
	}
}

// Terminate kills every process named in names except the current one.
// It returns the number of processes killed.
func (t *Terminator) Terminate(ctx context.Context, names []string) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}

	wanted := sliceToSet(names)

	processList, err := t.list()
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}

	killed := 0

	for _, process := range processList {
		processID := process.Pid()
		if processID == t.self {
			continue
		}

		processName := process.Executable()
		if _, found := wanted[processName]; !found {
			continue
		}

		if err = t.kill(processID); err != nil {
			return killed, fmt.Errorf("kill %s (pid %d): %w", processName, processID, err)
		}

		logger.InfoKV(ctx, "Terminated process", "name", processName, "pid", processID)

		killed++
	}

	return killed, nil
}

func killProcess(pid int) error {
	runningProcess, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	return runningProcess.Kill()
}

// sliceToSet converts a slice to a set for quick lookups.
func sliceToSet[T comparable](elements []T) map[T]struct{} {
	result := make(map[T]struct{}, len(elements))
	for _, value := range elements {
		result[value] = struct{}{}
	}

	return result
}
