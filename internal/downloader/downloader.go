package downloader

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/scx1332/pipe-updater/internal/config"
	"github.com/scx1332/pipe-updater/internal/progress"
)

// readBufferSize is the size of a single network read.
const readBufferSize = 32 * 1024

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("download already started")
	// ErrStopped is the cause reported when Stop aborts a download.
	ErrStopped = errors.New("download stopped")

	errAttemptTimeout = errors.New("request attempt timed out")
)

// Sink consumes the artifact stream. Consume runs concurrently with the
// download and must read r until io.EOF unless it fails.
type Sink interface {
	Consume(ctx context.Context, r io.Reader, tracker *progress.Tracker) error
}

// Options tune a Downloader.
type Options struct {
	// ChunkSize is the size of a single ranged request.
	ChunkSize int64
	// Parallelism is the number of chunks fetched at once.
	Parallelism int
	// MaxSpeed caps the download rate in bytes per second; zero means unlimited.
	MaxSpeed int64
	// Timeout bounds a single chunk attempt.
	Timeout time.Duration
	// BreakerFailures is the number of consecutive failed attempts that aborts the download.
	BreakerFailures int
	// Retry configures backoff between attempts.
	Retry RetryPolicy
	// Client performs the requests; a default client is used when nil.
	Client *http.Client
}

// OptionsFromConfig converts configuration into downloader options.
func OptionsFromConfig(cfg config.DownloadConfig) Options {
	return Options{
		ChunkSize:       int64(cfg.ChunkSize),
		Parallelism:     cfg.Parallelism,
		MaxSpeed:        int64(cfg.MaxSpeed),
		Timeout:         cfg.Timeout,
		BreakerFailures: cfg.BreakerFailures,
		Retry: RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			Multiplier:      cfg.Retry.Multiplier,
		},
	}
}

// Downloader streams one URL into a Sink.
type Downloader struct {
	url     string
	sink    Sink
	opts    Options
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
	tracker *progress.Tracker
	gate    *gate

	mu      sync.Mutex
	started bool
	cancel  context.CancelCauseFunc
	done    chan struct{}
	err     error
}

// New creates a downloader for rawURL. Nothing happens until Start.
func New(rawURL string, sink Sink, opts Options) *Downloader {
	def := OptionsFromConfig(config.Default().Download)

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}

	if opts.Parallelism <= 0 {
		opts.Parallelism = def.Parallelism
	}

	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = def.Retry
	}

	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = def.BreakerFailures
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: time.Minute,
				MaxIdleConnsPerHost:   opts.Parallelism,
			},
		}
	}

	d := &Downloader{
		url:     rawURL,
		sink:    sink,
		opts:    opts,
		client:  client,
		tracker: progress.NewTracker(),
		gate:    newGate(),
		done:    make(chan struct{}),
	}

	d.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name: rawURL,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= opts.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	if opts.MaxSpeed > 0 {
		burst := max(int(opts.MaxSpeed), readBufferSize)
		d.limiter = rate.NewLimiter(rate.Limit(opts.MaxSpeed), burst)
	}

	return d
}

// Start begins the download in the background.
func (d *Downloader) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}

	d.started = true

	runCtx, cancel := context.WithCancelCause(ctx)
	d.cancel = cancel

	go func() {
		err := d.run(runCtx)
		cancel(nil)

		d.mu.Lock()
		d.err = err
		d.mu.Unlock()

		close(d.done)
	}()

	return nil
}

// Wait blocks until the download has finished and returns its error.
func (d *Downloader) Wait() error {
	<-d.done

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.err
}

// Done is closed once the download has finished.
func (d *Downloader) Done() <-chan struct{} {
	return d.done
}

// IsFinished reports whether the download has finished.
func (d *Downloader) IsFinished() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Pause holds all workers at the next chunk boundary.
func (d *Downloader) Pause() {
	if d.gate.Pause() {
		d.tracker.SetPaused(true)
	}
}

// Resume releases a paused download.
func (d *Downloader) Resume() {
	if d.gate.Resume() {
		d.tracker.SetPaused(false)
	}
}

// Paused reports whether the download is paused.
func (d *Downloader) Paused() bool {
	return d.gate.Paused()
}

// Stop aborts a running download. Wait returns an error wrapping ErrStopped.
func (d *Downloader) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel(ErrStopped)
	}
}

// Progress returns the current progress.
func (d *Downloader) Progress() progress.Snapshot {
	return d.tracker.Snapshot()
}

// run pipes the fetched bytes into the sink and reports the most relevant error.
func (d *Downloader) run(ctx context.Context) error {
	defer d.tracker.Finish()

	src, err := d.probe(ctx)
	if err != nil {
		return d.withCause(ctx, err)
	}

	d.tracker.Start(src.size)

	pr, pw := io.Pipe()
	group, groupCtx := errgroup.WithContext(ctx)

	var fetchErr, sinkErr error

	group.Go(func() error {
		sinkErr = d.sink.Consume(groupCtx, pr, d.tracker)
		if sinkErr != nil {
			pr.CloseWithError(sinkErr)
		} else {
			_ = pr.Close()
		}

		return sinkErr
	})

	group.Go(func() error {
		if src.body != nil {
			fetchErr = d.stream(groupCtx, pw, src.body)
		} else {
			fetchErr = d.fetchChunks(groupCtx, pw, src.size)
		}

		pw.CloseWithError(fetchErr)

		return fetchErr
	})

	_ = group.Wait()

	switch {
	case fetchErr != nil && !errors.Is(fetchErr, io.ErrClosedPipe) && !errors.Is(fetchErr, context.Canceled):
		return d.withCause(ctx, fetchErr)
	case sinkErr != nil:
		return d.withCause(ctx, sinkErr)
	default:
		return d.withCause(ctx, fetchErr)
	}
}

// withCause attaches the cancellation cause, e.g. ErrStopped, to err.
func (d *Downloader) withCause(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	cause := context.Cause(ctx)
	if cause == nil || errors.Is(err, cause) || errors.Is(cause, context.Canceled) {
		return err
	}

	return errors.Join(cause, err)
}
