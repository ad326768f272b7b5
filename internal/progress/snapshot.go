package progress

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Snapshot is a point-in-time copy of a Tracker.
type Snapshot struct {
	// TotalBytes is the artifact size, or UnknownSize.
	TotalBytes int64 `json:"total_bytes"`
	// TotalDownloaded counts bytes already handed to the sink in order.
	TotalDownloaded int64 `json:"total_downloaded"`
	// ChunkDownloaded counts bytes of chunks still being fetched or waiting for their turn.
	ChunkDownloaded int64 `json:"chunk_downloaded"`
	// TotalUnpacked counts bytes written by the sink.
	TotalUnpacked int64 `json:"total_unpacked"`

	DownloadSpeed    float64 `json:"download_speed"`
	UnpackSpeed      float64 `json:"unpack_speed"`
	AvgDownloadSpeed float64 `json:"avg_download_speed"`
	AvgUnpackSpeed   float64 `json:"avg_unpack_speed"`

	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed"`
	Paused  bool          `json:"paused"`
}

// Received returns every byte read from the network so far.
func (s Snapshot) Received() int64 {
	return s.TotalDownloaded + s.ChunkDownloaded
}

// Percent returns download completion in percent, or -1 if the size is unknown.
func (s Snapshot) Percent() float64 {
	if s.TotalBytes <= 0 {
		return -1
	}

	return float64(s.TotalDownloaded) * 100 / float64(s.TotalBytes)
}

// String renders the snapshot the way the progress reporter logs it.
func (s Snapshot) String() string {
	return fmt.Sprintf(
		"downloaded: %s speed[current: %s/s total: %s/s], unpacked: %s [current: %s/s total: %s/s]",
		humanize.IBytes(nonNegative(s.Received())),
		humanize.IBytes(nonNegative(int64(s.DownloadSpeed))),
		humanize.IBytes(nonNegative(int64(s.AvgDownloadSpeed))),
		humanize.IBytes(nonNegative(s.TotalUnpacked)),
		humanize.IBytes(nonNegative(int64(s.UnpackSpeed))),
		humanize.IBytes(nonNegative(int64(s.AvgUnpackSpeed))),
	)
}

func nonNegative(v int64) uint64 {
	if v < 0 {
		return 0
	}

	return uint64(v)
}
