package upload

import (
	"context"
	"errors"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/metrics"
)

// DefaultAttempts is the number of tries for presign and PUT calls
const DefaultAttempts = 3

// DefaultDelays is the backoff schedule; delay i follows failed attempt i
var DefaultDelays = []time.Duration{1 * time.Second, 3 * time.Second, 10 * time.Second}

// Retrier runs an operation with a fixed backoff schedule
type Retrier struct {
	Attempts int
	Delays   []time.Duration
	// Sleep waits between attempts; replaced in tests
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns the default 3 attempt policy
func NewRetrier() *Retrier {
	return &Retrier{
		Attempts: DefaultAttempts,
		Delays:   DefaultDelays,
		Sleep:    sleepContext,
	}
}

// Do calls fn until it succeeds, fails permanently, or attempts run out.
// It returns the number of attempts made and the last error.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !Retryable(err) || ctx.Err() != nil || attempt == attempts-1 {
			return attempt + 1, err
		}

		metrics.RecordUploadRetry(op)
		if serr := sleep(ctx, r.delay(attempt)); serr != nil {
			return attempt + 1, serr
		}
	}
	return attempts, err
}

func (r *Retrier) delay(attempt int) time.Duration {
	if len(r.Delays) == 0 {
		return 0
	}
	if attempt >= len(r.Delays) {
		return r.Delays[len(r.Delays)-1]
	}
	return r.Delays[attempt]
}

// Retryable reports whether err may succeed on another attempt
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotConfigured):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
