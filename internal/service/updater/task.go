package updater

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scx1332/pipe-updater/internal/config"
	domain "github.com/scx1332/pipe-updater/internal/domain/update"
	"github.com/scx1332/pipe-updater/internal/downloader"
	"github.com/scx1332/pipe-updater/internal/logger"
	"github.com/scx1332/pipe-updater/internal/progress"
)

var (
	// ErrAlreadyRunning is returned when a task for the target is in progress.
	ErrAlreadyRunning = errors.New("update task is already running")
	// ErrNotRunning is returned when controlling a task that is not running.
	ErrNotRunning = errors.New("update task is not running")
	// ErrNotDownloading is returned when pausing a task that has finished downloading.
	ErrNotDownloading = errors.New("update task is not downloading")
	// ErrCanceled is the cause of a task stopped through Cancel.
	ErrCanceled = errors.New("update task canceled")
)

// State is a point-in-time view of a task.
type State struct {
	ID         string             `json:"id,omitempty"`
	Target     string             `json:"target"`
	URL        string             `json:"url"`
	Service    string             `json:"service,omitempty"`
	Status     domain.Status      `json:"status"`
	Error      string             `json:"error,omitempty"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Progress   *progress.Snapshot `json:"progress,omitempty"`
}

// Task updates a single target. A finished task can be run again.
type Task struct {
	target config.Target
	deps   *dependencies

	mu             sync.Mutex
	id             string
	status         domain.Status
	err            error
	startedAt      time.Time
	finishedAt     time.Time
	dl             *downloader.Downloader
	pauseRequested bool
	cancel         context.CancelCauseFunc
	done           chan struct{}
}

func newTask(target config.Target, deps *dependencies) *Task {
	return &Task{
		target: target,
		deps:   deps,
		status: domain.StatusIdle,
	}
}

// Target returns the target configuration.
func (t *Task) Target() config.Target {
	return t.target
}

// Run starts the task in the background. It returns ErrAlreadyRunning if the task is active.
func (t *Task) Run(ctx context.Context) error {
	t.mu.Lock()

	if t.status.IsActive() {
		t.mu.Unlock()

		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})

	t.id = uuid.NewString()
	t.status = domain.StatusStopping
	t.err = nil
	t.startedAt = time.Now()
	t.finishedAt = time.Time{}
	t.dl = nil
	t.pauseRequested = false
	t.cancel = cancel
	t.done = done
	id := t.id

	t.mu.Unlock()

	t.notify(domain.StatusStopping)

	go func() {
		defer close(done)
		defer cancel(nil)

		t.execute(runCtx, id)
	}()

	return nil
}

// IsRunning reports whether the task is active.
func (t *Task) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.status.IsActive()
}

// Status returns the current lifecycle stage.
func (t *Task) Status() domain.Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.status
}

// Progress returns the download progress. The second value is false before the download starts.
func (t *Task) Progress() (progress.Snapshot, bool) {
	t.mu.Lock()
	dl := t.dl
	t.mu.Unlock()

	if dl == nil {
		return progress.Snapshot{TotalBytes: progress.UnknownSize}, false
	}

	return dl.Progress(), true
}

// State returns a snapshot of the task.
func (t *Task) State() State {
	t.mu.Lock()

	state := State{
		ID:      t.id,
		Target:  t.target.Name,
		URL:     t.target.URL,
		Service: t.target.Service,
		Status:  t.status,
	}

	if t.err != nil {
		state.Error = t.err.Error()
	}

	if !t.startedAt.IsZero() {
		startedAt := t.startedAt
		state.StartedAt = &startedAt
	}

	if !t.finishedAt.IsZero() {
		finishedAt := t.finishedAt
		state.FinishedAt = &finishedAt
	}

	dl := t.dl
	t.mu.Unlock()

	if dl != nil {
		snapshot := dl.Progress()
		state.Progress = &snapshot
	}

	return state
}

// Pause holds the download. A pause requested before the download starts applies once it does.
func (t *Task) Pause() error {
	t.mu.Lock()

	switch {
	case !t.status.IsActive():
		t.mu.Unlock()

		return ErrNotRunning
	case t.status == domain.StatusRestarting:
		t.mu.Unlock()

		return ErrNotDownloading
	case t.status == domain.StatusPaused:
		t.mu.Unlock()

		return nil
	}

	t.pauseRequested = true
	dl := t.dl

	changed := dl != nil && t.status == domain.StatusDownloading
	if changed {
		t.status = domain.StatusPaused
	}

	t.mu.Unlock()

	if dl != nil {
		dl.Pause()
	}

	if changed {
		t.notify(domain.StatusPaused)
	}

	return nil
}

// Resume continues a paused download.
func (t *Task) Resume() error {
	t.mu.Lock()

	if !t.status.IsActive() {
		t.mu.Unlock()

		return ErrNotRunning
	}

	t.pauseRequested = false
	dl := t.dl

	changed := t.status == domain.StatusPaused
	if changed {
		t.status = domain.StatusDownloading
	}

	t.mu.Unlock()

	if dl != nil {
		dl.Resume()
	}

	if changed {
		t.notify(domain.StatusDownloading)
	}

	return nil
}

// Cancel aborts the task. The service is still restarted if it was stopped.
func (t *Task) Cancel() error {
	t.mu.Lock()

	if !t.status.IsActive() {
		t.mu.Unlock()

		return ErrNotRunning
	}

	cancel := t.cancel
	t.mu.Unlock()

	cancel(ErrCanceled)

	return nil
}

// Wait blocks until the current run finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the error of the last finished run.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

// execute performs the update: stop, download, restart, record.
func (t *Task) execute(ctx context.Context, id string) {
	logCtx := logger.WithKV(logger.WithName(ctx, "updater"), "target", t.target.Name, "task", id)

	logger.InfoKV(logCtx, "Update task started", "url", t.target.URL, "output", t.target.Output)

	err := t.stopTarget(logCtx)
	if err == nil {
		if ctx.Err() != nil {
			err = context.Cause(ctx)
		} else {
			err = t.download(logCtx)
		}

		t.setStatus(domain.StatusRestarting)

		// The service must come back even when the download failed or was canceled.
		if restartErr := t.restartService(context.WithoutCancel(logCtx)); restartErr != nil {
			err = errors.Join(err, restartErr)
		}
	}

	t.finish(logCtx, id, err)
}

func (t *Task) stopTarget(ctx context.Context) error {
	if len(t.target.Processes) > 0 {
		logger.InfoKV(ctx, "Terminating processes", "processes", t.target.Processes)

		if _, err := t.deps.terminator.Terminate(ctx, t.target.Processes); err != nil {
			return fmt.Errorf("terminate processes: %w", err)
		}
	}

	if t.target.Service == "" {
		return nil
	}

	logger.InfoKV(ctx, "Stopping service", "service", t.target.Service)

	// systemd finishes a queued stop job even if the client dies. The caller
	// restarts the unit after a cancel.
	if err := t.deps.controller.Stop(context.WithoutCancel(ctx), t.target.Service); err != nil {
		return fmt.Errorf("error stopping service: %w", err)
	}

	logger.InfoKV(ctx, "Service stopped", "service", t.target.Service)

	return nil
}

func (t *Task) restartService(ctx context.Context) error {
	if t.target.Service == "" {
		return nil
	}

	logger.InfoKV(ctx, "Restarting service", "service", t.target.Service)

	if err := t.deps.controller.Restart(ctx, t.target.Service); err != nil {
		return fmt.Errorf("error starting service: %w", err)
	}

	logger.InfoKV(ctx, "Service restarted", "service", t.target.Service)

	return nil
}

func (t *Task) download(ctx context.Context) error {
	sink, err := t.newSink()
	if err != nil {
		return err
	}

	dl := downloader.New(t.target.URL, sink, t.deps.download)

	t.mu.Lock()

	t.dl = dl

	status := domain.StatusDownloading
	if t.pauseRequested {
		dl.Pause()

		status = domain.StatusPaused
	}

	t.status = status
	t.mu.Unlock()

	t.notify(status)

	logger.InfoKV(ctx, "Downloading artifact", "url", t.target.URL, "kind", t.target.Kind)

	if err = dl.Start(ctx); err != nil {
		return err
	}

	if err = dl.Wait(); err != nil {
		return fmt.Errorf("download %s: %w", t.target.URL, err)
	}

	logger.InfoKV(ctx, "Download finished", "progress", dl.Progress().String())

	return nil
}

func (t *Task) newSink() (downloader.Sink, error) {
	switch t.target.Kind {
	case config.KindBinary:
		var checksum []byte

		if t.target.Checksum != "" {
			decoded, err := hex.DecodeString(t.target.Checksum)
			if err != nil {
				return nil, fmt.Errorf("decode checksum: %w", err)
			}

			checksum = decoded
		}

		return &downloader.BinarySink{Path: t.target.Output, Checksum: checksum}, nil
	default:
		return &downloader.ArchiveSink{
			Dir:    t.target.Output,
			Format: downloader.Format(t.target.Format),
			URL:    t.target.URL,
			Clean:  t.target.CleanOutput,
		}, nil
	}
}

func (t *Task) setStatus(status domain.Status) {
	t.mu.Lock()
	t.status = status
	t.mu.Unlock()

	t.notify(status)
}

// finish appends the run to history, then publishes the terminal status.
func (t *Task) finish(ctx context.Context, id string, err error) {
	status := domain.StatusSucceeded

	switch {
	case errors.Is(context.Cause(ctx), ErrCanceled):
		status = domain.StatusCanceled

		if !errors.Is(err, ErrCanceled) {
			err = errors.Join(ErrCanceled, err)
		}
	case err != nil:
		status = domain.StatusFailed
	}

	finishedAt := time.Now()

	t.mu.Lock()

	record := &domain.Record{
		ID:         id,
		Target:     t.target.Name,
		URL:        t.target.URL,
		Status:     status,
		StartedAt:  t.startedAt,
		FinishedAt: finishedAt,
	}

	dl := t.dl
	t.mu.Unlock()

	if err != nil {
		record.Error = err.Error()
	}

	if dl != nil {
		snapshot := dl.Progress()
		record.Downloaded = snapshot.TotalDownloaded
		record.Unpacked = snapshot.TotalUnpacked
	}

	ctx = context.WithoutCancel(ctx)

	if t.deps.history != nil {
		if herr := t.deps.history.Append(ctx, record); herr != nil {
			logger.ErrorKV(ctx, "Failed to save task history", "error", herr)
		}
	}

	t.mu.Lock()
	t.status = status
	t.err = err
	t.finishedAt = finishedAt
	t.mu.Unlock()

	t.notify(status)

	if err != nil {
		logger.ErrorKV(ctx, "Update task finished", "status", status, "duration", record.Duration(), "error", err)

		return
	}

	logger.InfoKV(ctx, "Update task finished", "status", status, "duration", record.Duration())
}

func (t *Task) notify(status domain.Status) {
	if t.deps.onStatus != nil {
		t.deps.onStatus(t.target.Name, status)
	}
}
