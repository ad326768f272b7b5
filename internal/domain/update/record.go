package update

import "time"

// Record is the outcome of one finished update task.
type Record struct {
	// ID uniquely identifies the task run.
	ID string `json:"id"`
	// Target is the configured target name.
	Target string `json:"target"`
	// URL is the artifact that was installed.
	URL string `json:"url"`
	// Status is the terminal status.
	Status Status `json:"status"`
	// Error describes why the task failed.
	Error string `json:"error,omitempty"`
	// StartedAt is when the task was started.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is when the task reached its terminal status.
	FinishedAt time.Time `json:"finished_at"`
	// Downloaded is the number of artifact bytes received.
	Downloaded int64 `json:"downloaded"`
	// Unpacked is the number of bytes written to disk.
	Unpacked int64 `json:"unpacked"`
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	cloned := *r

	return &cloned
}

// Duration returns how long the task ran.
func (r *Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}

	return r.FinishedAt.Sub(r.StartedAt)
}
