package progress

import "time"

// DefaultWindow is the number of one-second buckets a Meter averages over.
const DefaultWindow = 10

// Meter estimates a rate over a sliding window of one-second buckets.
// It is not safe for concurrent use; Tracker serialises access.
type Meter struct {
	counts []int64
	stamps []int64
	first  int64
	used   bool
}

// NewMeter creates a meter averaging over window seconds.
func NewMeter(window int) *Meter {
	if window < 1 {
		window = DefaultWindow
	}

	return &Meter{
		counts: make([]int64, window),
		stamps: make([]int64, window),
	}
}

// Add records n units at time now.
func (m *Meter) Add(n int64, now time.Time) {
	sec := now.Unix()
	if !m.used {
		m.first = sec
		m.used = true
	}

	i := bucketIndex(sec, len(m.counts))
	if m.stamps[i] != sec {
		m.stamps[i] = sec
		m.counts[i] = 0
	}

	m.counts[i] += n
}

// Speed returns units per second over the window ending at now.
func (m *Meter) Speed(now time.Time) float64 {
	if !m.used {
		return 0
	}

	sec := now.Unix()
	window := int64(len(m.counts))

	var sum int64

	for i, stamp := range m.stamps {
		if stamp > sec-window && stamp <= sec {
			sum += m.counts[i]
		}
	}

	span := min(window, sec-m.first+1)
	if span < 1 {
		span = 1
	}

	return float64(sum) / float64(span)
}

func bucketIndex(sec int64, n int) int {
	i := int(sec % int64(n))
	if i < 0 {
		i += n
	}

	return i
}
