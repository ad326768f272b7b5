package downloader

import (
	"context"
	"io"

	"golang.org/x/time/rate"

	"github.com/scx1332/pipe-updater/internal/progress"
)

// meteredReader throttles reads through limiter and reports them to tracker.
type meteredReader struct {
	ctx     context.Context //nolint:containedctx // Read has no context parameter.
	r       io.Reader
	limiter *rate.Limiter
	tracker *progress.Tracker
	n       int64
}

func (m *meteredReader) Read(p []byte) (int, error) {
	if len(p) > readBufferSize {
		p = p[:readBufferSize]
	}

	if m.limiter != nil {
		if err := m.limiter.WaitN(m.ctx, len(p)); err != nil {
			return 0, err
		}
	}

	n, err := m.r.Read(p)
	if n > 0 {
		m.n += int64(n)
		m.tracker.Received(int64(n))
	}

	return n, err
}
