package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scx1332/pipe-updater/internal/config"
	domain "github.com/scx1332/pipe-updater/internal/domain/update"
	"github.com/scx1332/pipe-updater/internal/logger"
	"github.com/scx1332/pipe-updater/internal/repository/history"
	"github.com/scx1332/pipe-updater/internal/service/updater"
	"github.com/scx1332/pipe-updater/internal/version"
)

// Manager is the part of the update manager the API drives.
type Manager interface {
	Start(name string) (*updater.Task, error)
	Task(name string) (*updater.Task, error)
	Tasks() []*updater.Task
	Pause(name string) error
	Resume(name string) error
	Cancel(name string) error
	ServiceBusy() bool
	History(ctx context.Context) ([]*domain.Record, error)
	Record(ctx context.Context, id string) (*domain.Record, error)
}

// Handler serves the API routes.
type Handler struct {
	manager Manager
}

// NewHandler creates handlers backed by manager.
func NewHandler(manager Manager) *Handler {
	return &Handler{manager: manager}
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

// healthResponse is the body of the health endpoints.
type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	ServiceBusy bool   `json:"service_busy"`
	Targets     int    `json:"targets"`
}

// Root answers 200 with an empty body.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Hello greets name.
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, fmt.Sprintf("Hello %s!", chi.URLParam(r, "name")))
}

// StartDefault starts the default target.
func (h *Handler) StartDefault(w http.ResponseWriter, r *http.Request) {
	_, err := h.manager.Start("")

	switch {
	case err == nil:
		writeText(w, http.StatusOK, "Update started!")
	case errors.Is(err, updater.ErrAlreadyRunning):
		writeText(w, http.StatusOK, "Already running")
	default:
		logger.ErrorKV(r.Context(), "Error starting update task", "error", err)
		writeText(w, http.StatusOK, "Error starting update task: "+err.Error())
	}
}

// ProgressDefault reports the progress of the default target.
func (h *Handler) ProgressDefault(w http.ResponseWriter, _ *http.Request) {
	task, err := h.manager.Task("")
	if err != nil {
		writeText(w, http.StatusOK, "Update started!")

		return
	}

	snapshot, ok := task.Progress()
	if !ok {
		writeText(w, http.StatusOK, "Update started!")

		return
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		writeText(w, http.StatusInternalServerError, err.Error())

		return
	}

	writeText(w, http.StatusOK, "progress: "+string(data))
}

// PauseDefault pauses the default target.
func (h *Handler) PauseDefault(w http.ResponseWriter, _ *http.Request) {
	switch err := h.manager.Pause(""); {
	case err == nil:
		writeText(w, http.StatusOK, "Update paused!")
	case errors.Is(err, updater.ErrNotRunning), errors.Is(err, updater.ErrNotDownloading):
		writeText(w, http.StatusOK, "Not running")
	default:
		writeText(w, http.StatusOK, "Error pausing update task: "+err.Error())
	}
}

// ListTargets returns the state of every target.
func (h *Handler) ListTargets(w http.ResponseWriter, _ *http.Request) {
	tasks := h.manager.Tasks()

	states := make([]updater.State, 0, len(tasks))
	for _, task := range tasks {
		states = append(states, task.State())
	}

	writeJSON(w, http.StatusOK, states)
}

// GetTarget returns the state of one target.
func (h *Handler) GetTarget(w http.ResponseWriter, r *http.Request) {
	task, err := h.manager.Task(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, task.State())
}

// StartTarget starts the named target.
func (h *Handler) StartTarget(w http.ResponseWriter, r *http.Request) {
	task, err := h.manager.Start(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusAccepted, task.State())
}

// PauseTarget pauses the named target.
func (h *Handler) PauseTarget(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.manager.Pause)
}

// ResumeTarget resumes the named target.
func (h *Handler) ResumeTarget(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.manager.Resume)
}

// CancelTarget cancels the named target.
func (h *Handler) CancelTarget(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.manager.Cancel)
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request, action func(string) error) {
	name := chi.URLParam(r, "name")

	if err := action(name); err != nil {
		writeError(w, r, err)

		return
	}

	task, err := h.manager.Task(name)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, task.State())
}

// ListHistory returns finished runs, newest first.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.manager.History(r.Context())
	if err != nil {
		writeError(w, r, err)

		return
	}

	if records == nil {
		records = []*domain.Record{}
	}

	writeJSON(w, http.StatusOK, records)
}

// GetHistory returns a single finished run.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	record, err := h.manager.Record(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, record)
}

// Liveness reports that the process is serving requests.
func (h *Handler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.Short()})
}

// Readiness reports whether targets are configured.
func (h *Handler) Readiness(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:      "ready",
		Version:     version.Short(),
		ServiceBusy: h.manager.ServiceBusy(),
		Targets:     len(h.manager.Tasks()),
	}

	status := http.StatusOK
	if resp.Targets == 0 {
		resp.Status = "no targets configured"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, config.ErrTargetNotFound), errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, updater.ErrAlreadyRunning),
		errors.Is(err, updater.ErrNotRunning),
		errors.Is(err, updater.ErrNotDownloading):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorKV(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf(context.Background(), "Failed to encode response: %v", err)
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
