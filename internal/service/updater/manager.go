package updater

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/scx1332/pipe-updater/internal/config"
	domain "github.com/scx1332/pipe-updater/internal/domain/update"
	"github.com/scx1332/pipe-updater/internal/downloader"
	"github.com/scx1332/pipe-updater/internal/logger"
	"github.com/scx1332/pipe-updater/internal/repository/history"
	"github.com/scx1332/pipe-updater/internal/service/process"
	"github.com/scx1332/pipe-updater/internal/service/systemd"
	"github.com/scx1332/pipe-updater/internal/version"
)

// ServiceController stops and restarts systemd units.
type ServiceController interface {
	Stop(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
}

// ProcessTerminator kills processes by executable name.
type ProcessTerminator interface {
	Terminate(ctx context.Context, names []string) (int, error)
}

// StatusFunc is called after every status change of any task.
type StatusFunc func(target string, status domain.Status)

// Options are optional collaborators of a Manager. Nil fields get production defaults.
type Options struct {
	// Controller manages systemd units; defaults to systemctl at cfg.SystemctlPath.
	Controller ServiceController
	// Terminator kills processes; defaults to the local process table.
	Terminator ProcessTerminator
	// History stores finished runs; defaults to cfg.HistoryFile.
	History history.Repository
	// HTTPClient downloads artifacts.
	HTTPClient *http.Client
	// OnStatus observes status changes.
	OnStatus StatusFunc
}

// dependencies are shared by all tasks of a manager.
type dependencies struct {
	controller ServiceController
	terminator ProcessTerminator
	history    history.Repository
	download   downloader.Options
	onStatus   StatusFunc
}

// Manager owns one task per configured target.
type Manager struct {
	ctx      context.Context //nolint:containedctx // Tasks outlive the requests that start them.
	interval time.Duration
	deps     *dependencies
	history  history.Repository

	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
}

// NewManager creates a manager for cfg.Targets. Tasks started through it derive from ctx.
func NewManager(ctx context.Context, cfg *config.Config, opts Options) *Manager {
	deps := &dependencies{
		controller: opts.Controller,
		terminator: opts.Terminator,
		history:    opts.History,
		download:   downloader.OptionsFromConfig(cfg.Download),
		onStatus:   opts.OnStatus,
	}

	if deps.controller == nil {
		deps.controller = systemd.New(cfg.SystemctlPath)
	}

	if deps.terminator == nil {
		deps.terminator = process.NewTerminator()
	}

	if deps.history == nil {
		deps.history = history.NewFileRepository(cfg.HistoryFile, history.DefaultLimit)
	}

	deps.download.Client = opts.HTTPClient

	interval := cfg.ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}

	m := &Manager{
		ctx:      ctx,
		interval: interval,
		deps:     deps,
		history:  deps.history,
		tasks:    make(map[string]*Task, len(cfg.Targets)),
		order:    make([]string, 0, len(cfg.Targets)),
	}

	for _, target := range cfg.Targets {
		m.tasks[target.Name] = newTask(target, deps)
		m.order = append(m.order, target.Name)
	}

	logger.InfoKV(ctx, "Update manager ready", "targets", m.order, "version", version.Short())

	return m
}

// Task returns the task for name. An empty name selects the first target.
func (m *Manager) Task(name string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if name == "" {
		if len(m.order) == 0 {
			return nil, config.ErrTargetNotFound
		}

		name = m.order[0]
	}

	task, ok := m.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, config.ErrTargetNotFound)
	}

	return task, nil
}

// Tasks returns all tasks in configuration order.
func (m *Manager) Tasks() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := make([]*Task, 0, len(m.order))
	for _, name := range m.order {
		tasks = append(tasks, m.tasks[name])
	}

	return tasks
}

// Running returns the tasks that are currently active.
func (m *Manager) Running() []*Task {
	tasks := m.Tasks()
	running := tasks[:0]

	for _, task := range tasks {
		if task.IsRunning() {
			running = append(running, task)
		}
	}

	return running
}

// Start runs the task for name.
func (m *Manager) Start(name string) (*Task, error) {
	task, err := m.Task(name)
	if err != nil {
		return nil, err
	}

	if err = task.Run(m.ctx); err != nil {
		return task, err
	}

	return task, nil
}

// Pause pauses the task for name.
func (m *Manager) Pause(name string) error {
	return m.control(name, (*Task).Pause)
}

// Resume resumes the task for name.
func (m *Manager) Resume(name string) error {
	return m.control(name, (*Task).Resume)
}

// Cancel cancels the task for name.
func (m *Manager) Cancel(name string) error {
	return m.control(name, (*Task).Cancel)
}

func (m *Manager) control(name string, action func(*Task) error) error {
	task, err := m.Task(name)
	if err != nil {
		return err
	}

	return action(task)
}

// ServiceBusy reports whether any task is stopping or restarting a service.
func (m *Manager) ServiceBusy() bool {
	for _, task := range m.Tasks() {
		if task.Status().TouchesService() {
			return true
		}
	}

	return false
}

// History returns finished runs, newest first.
func (m *Manager) History(ctx context.Context) ([]*domain.Record, error) {
	return m.history.List(ctx)
}

// Record returns a finished run by ID.
func (m *Manager) Record(ctx context.Context, id string) (*domain.Record, error) {
	return m.history.Get(ctx, id)
}

// Report logs the progress of running tasks every interval until ctx is done.
func (m *Manager) Report(ctx context.Context) {
	ctx = logger.WithName(ctx, "progress")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, task := range m.Running() {
				snapshot, ok := task.Progress()
				if !ok {
					continue
				}

				logger.InfoKV(ctx, "progress: "+snapshot.String(),
					"target", task.Target().Name, "status", task.Status())
			}
		}
	}
}

// Shutdown cancels running tasks and waits for them to restart their services.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error

	for _, task := range m.Running() {
		if err := task.Cancel(); err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, err)
		}

		if err := task.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for %s: %w", task.Target().Name, err))
		}
	}

	return errors.Join(errs...)
}
