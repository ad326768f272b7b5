package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/scx1332/pipe-updater/internal/logger"
	"github.com/scx1332/pipe-updater/internal/progress"
	"github.com/scx1332/pipe-updater/internal/version"
)

var errRangeIgnored = errors.New("server ignored range request")

// source is the result of probing the URL.
// A nil body means the server supports ranges and size is known.
type source struct {
	size int64
	body io.ReadCloser
}

// probe learns the artifact size and whether ranged requests work.
func (d *Downloader) probe(ctx context.Context) (source, error) {
	for attempt := 1; ; attempt++ {
		src, err := d.probeOnce(ctx)
		if err == nil {
			return src, nil
		}

		if ctx.Err() != nil || !isRetryable(err) || attempt >= d.opts.Retry.MaxAttempts {
			return source{}, fmt.Errorf("probe %s: %w", d.url, err)
		}

		delay := backoff(attempt, d.opts.Retry)
		logger.WarnKV(ctx, "Probe failed, retrying", "url", d.url, "attempt", attempt, "delay", delay, "error", err)

		if err := sleep(ctx, delay); err != nil {
			return source{}, err
		}
	}
}

func (d *Downloader) probeOnce(ctx context.Context) (source, error) {
	resp, err := d.get(ctx, "bytes=0-0")
	if err != nil {
		return source{}, err
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		drain(resp.Body)

		total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || total <= 0 {
			return d.openStream(ctx)
		}

		return source{size: total}, nil
	case http.StatusOK:
		size := resp.ContentLength
		if size < 0 {
			size = progress.UnknownSize
		}

		return source{size: size, body: resp.Body}, nil
	case http.StatusRequestedRangeNotSatisfiable:
		// Empty resources cannot satisfy any range.
		drain(resp.Body)

		return d.openStream(ctx)
	default:
		drain(resp.Body)

		return source{}, &StatusError{URL: d.url, Code: resp.StatusCode}
	}
}

// openStream issues a plain GET for sequential mode.
func (d *Downloader) openStream(ctx context.Context) (source, error) {
	resp, err := d.get(ctx, "")
	if err != nil {
		return source{}, err
	}

	if resp.StatusCode != http.StatusOK {
		drain(resp.Body)

		return source{}, &StatusError{URL: d.url, Code: resp.StatusCode}
	}

	size := resp.ContentLength
	if size < 0 {
		size = progress.UnknownSize
	}

	return source{size: size, body: resp.Body}, nil
}

func (d *Downloader) get(ctx context.Context, byteRange string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, permanent(fmt.Errorf("build request: %w", err))
	}

	req.Header.Set("User-Agent", version.UserAgent())

	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", d.url, err)
	}

	return resp, nil
}

// stream copies a single response body into w.
func (d *Downloader) stream(ctx context.Context, w io.Writer, body io.ReadCloser) error {
	defer body.Close()

	r := &meteredReader{ctx: ctx, r: body, limiter: d.limiter, tracker: d.tracker}
	buf := make([]byte, readBufferSize)

	for {
		if err := d.gate.Wait(ctx); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}

			d.tracker.Committed(int64(n))
		}

		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read %s: %w", d.url, err)
		}
	}
}

// fetchChunks downloads size bytes in parallel ranges and writes them to w in order.
// At most Parallelism chunks are in flight or buffered at any time.
func (d *Downloader) fetchChunks(ctx context.Context, w io.Writer, size int64) error {
	count := int((size + d.opts.ChunkSize - 1) / d.opts.ChunkSize)

	slots := make([]chan []byte, count)
	for i := range slots {
		slots[i] = make(chan []byte, 1)
	}

	tokens := make(chan struct{}, d.opts.Parallelism)
	jobs := make(chan int)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(jobs)

		for i := range count {
			select {
			case tokens <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}

			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return nil
	})

	for range d.opts.Parallelism {
		group.Go(func() error {
			for i := range jobs {
				data, err := d.fetchChunk(ctx, i, size)
				if err != nil {
					return fmt.Errorf("chunk %d: %w", i, err)
				}

				slots[i] <- data
			}

			return nil
		})
	}

	group.Go(func() error {
		for i := range count {
			var data []byte

			select {
			case data = <-slots[i]:
			case <-ctx.Done():
				return ctx.Err()
			}

			if err := d.gate.Wait(ctx); err != nil {
				return err
			}

			if _, err := w.Write(data); err != nil {
				return err
			}

			d.tracker.Committed(int64(len(data)))
			<-tokens
		}

		return nil
	})

	return group.Wait()
}

// fetchChunk downloads chunk i with retries.
func (d *Downloader) fetchChunk(ctx context.Context, i int, size int64) ([]byte, error) {
	start := int64(i) * d.opts.ChunkSize
	end := min(start+d.opts.ChunkSize, size) - 1
	byteRange := fmt.Sprintf("bytes=%d-%d", start, end)

	for attempt := 1; ; attempt++ {
		if err := d.gate.Wait(ctx); err != nil {
			return nil, err
		}

		data, err := d.breaker.Execute(func() ([]byte, error) {
			return d.fetchRange(ctx, byteRange, end-start+1)
		})
		if err == nil {
			return data, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !isRetryable(err) || attempt >= d.opts.Retry.MaxAttempts {
			return nil, err
		}

		delay := backoff(attempt, d.opts.Retry)
		logger.WarnKV(ctx, "Chunk request failed, retrying",
			"range", byteRange, "attempt", attempt, "delay", delay, "error", err)

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// fetchRange performs a single attempt. Bytes read by a failed attempt are discarded.
func (d *Downloader) fetchRange(ctx context.Context, byteRange string, length int64) ([]byte, error) {
	attemptCtx := ctx

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc

		attemptCtx, cancel = context.WithTimeoutCause(ctx, d.opts.Timeout, errAttemptTimeout)
		defer cancel()
	}

	data, err := d.readRange(attemptCtx, byteRange, length)
	if err != nil && ctx.Err() == nil && errors.Is(context.Cause(attemptCtx), errAttemptTimeout) {
		err = fmt.Errorf("%w: %w", errAttemptTimeout, err)
	}

	return data, err
}

func (d *Downloader) readRange(ctx context.Context, byteRange string, length int64) ([]byte, error) {
	resp, err := d.get(ctx, byteRange)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		return nil, permanent(fmt.Errorf("%s: %w", byteRange, errRangeIgnored))
	default:
		return nil, &StatusError{URL: d.url, Code: resp.StatusCode}
	}

	r := &meteredReader{ctx: ctx, r: resp.Body, limiter: d.limiter, tracker: d.tracker}
	data := make([]byte, length)

	if _, err := io.ReadFull(r, data); err != nil {
		d.tracker.Discarded(r.n)

		return nil, fmt.Errorf("read %s: %w", byteRange, err)
	}

	return data, nil
}

// parseContentRange extracts the complete length from "bytes 0-0/1234".
// An unknown length ("*") reports -1.
func parseContentRange(header string) (int64, bool) {
	_, total, found := strings.Cut(header, "/")
	if !found || !strings.HasPrefix(header, "bytes ") {
		return 0, false
	}

	if total == "*" {
		return progress.UnknownSize, true
	}

	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}

	return n, true
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, readBufferSize))
	_ = body.Close()
}
