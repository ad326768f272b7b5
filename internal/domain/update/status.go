package update

// Status is the lifecycle stage of an update task.
type Status string

const (
	// StatusIdle means the task has not been started.
	StatusIdle Status = "idle"
	// StatusStopping means processes and the service unit are being stopped.
	StatusStopping Status = "stopping"
	// StatusDownloading means the artifact is being streamed into place.
	StatusDownloading Status = "downloading"
	// StatusPaused means the download is paused.
	StatusPaused Status = "paused"
	// StatusRestarting means the service unit is being restarted.
	StatusRestarting Status = "restarting"
	// StatusSucceeded means the task finished without error.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the task finished with an error.
	StatusFailed Status = "failed"
	// StatusCanceled means the task was canceled.
	StatusCanceled Status = "canceled"
)

// IsTerminal reports whether the task is done.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the task currently holds the target.
func (s Status) IsActive() bool {
	switch s {
	case StatusStopping, StatusDownloading, StatusPaused, StatusRestarting:
		return true
	default:
		return false
	}
}

// TouchesService reports whether the service unit is being stopped or started.
func (s Status) TouchesService() bool {
	return s == StatusStopping || s == StatusRestarting
}
