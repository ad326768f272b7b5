package downloader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// jitterFraction is the maximum jitter as a fraction of the delay (±25%).
const jitterFraction = 0.25

// RetryPolicy configures exponential backoff between attempts.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected http status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// isRetryable decides whether another attempt may succeed.
// Server errors (5xx), 429, short reads and network errors are retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// A per-attempt timeout shows up as DeadlineExceeded too; callers
		// check the parent context before retrying.
		return errors.Is(err, errAttemptTimeout)
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= http.StatusInternalServerError
	}

	return true
}

// backoff calculates the delay before the given retry. attempt is 1 for the first retry.
func backoff(attempt int, policy RetryPolicy) time.Duration {
	delay := float64(policy.InitialInterval) * math.Pow(policy.Multiplier, float64(attempt-1))

	if delay > float64(policy.MaxInterval) {
		delay = float64(policy.MaxInterval)
	}

	jitter := delay * jitterFraction
	delay += jitter * (2*rand.Float64() - 1) //nolint:gosec // Jitter does not need a secure source.

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
