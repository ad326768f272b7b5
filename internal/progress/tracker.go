package progress

import (
	"sync"
	"time"
)

// UnknownSize marks a download whose length the server did not report.
const UnknownSize int64 = -1

// Tracker accumulates download and unpack counters. It is safe for concurrent use.
type Tracker struct {
	mu  sync.Mutex
	now func() time.Time

	started    time.Time
	finished   time.Time
	totalBytes int64
	downloaded int64
	inFlight   int64
	unpacked   int64
	paused     bool

	downloadMeter *Meter
	unpackMeter   *Meter
}

// NewTracker creates a tracker using the wall clock.
func NewTracker() *Tracker {
	return NewTrackerWithClock(time.Now)
}

// NewTrackerWithClock creates a tracker reading time from now.
func NewTrackerWithClock(now func() time.Time) *Tracker {
	return &Tracker{
		now:           now,
		totalBytes:    UnknownSize,
		downloadMeter: NewMeter(DefaultWindow),
		unpackMeter:   NewMeter(DefaultWindow),
	}
}

// Start marks the beginning of the transfer and records the expected size.
func (t *Tracker) Start(totalBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started.IsZero() {
		t.started = t.now()
	}

	t.totalBytes = totalBytes
}

// Finish freezes the elapsed time used for average speeds.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished.IsZero() {
		t.finished = t.now()
	}
}

// Received records bytes read from the network that are not yet handed to the sink.
func (t *Tracker) Received(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inFlight += n
	t.downloadMeter.Add(n, t.now())
}

// Committed moves n received bytes into the downloaded total.
func (t *Tracker) Committed(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inFlight -= n
	t.downloaded += n
}

// Discarded drops n received bytes, e.g. after a failed chunk attempt.
func (t *Tracker) Discarded(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inFlight -= n
}

// Unpacked records n bytes written by the sink.
func (t *Tracker) Unpacked(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.unpacked += n
	t.unpackMeter.Add(n, t.now())
}

// SetPaused flags the transfer as paused.
func (t *Tracker) SetPaused(paused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.paused = paused
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	s := Snapshot{
		TotalBytes:      t.totalBytes,
		TotalDownloaded: t.downloaded,
		ChunkDownloaded: t.inFlight,
		TotalUnpacked:   t.unpacked,
		DownloadSpeed:   t.downloadMeter.Speed(now),
		UnpackSpeed:     t.unpackMeter.Speed(now),
		Started:         t.started,
		Paused:          t.paused,
	}

	if t.started.IsZero() {
		return s
	}

	end := now
	if !t.finished.IsZero() {
		end = t.finished
	}

	s.Elapsed = end.Sub(t.started)

	if seconds := s.Elapsed.Seconds(); seconds > 0 {
		s.AvgDownloadSpeed = float64(t.downloaded+t.inFlight) / seconds
		s.AvgUnpackSpeed = float64(t.unpacked) / seconds
	}

	return s
}
