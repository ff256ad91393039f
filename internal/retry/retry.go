// Package retry implements exponential backoff with optional jitter. The
// sleep function is injectable so tests can assert on the exact delay
// schedule without waiting.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

// Options tunes a retry loop. Zero values fall back to the defaults.
type Options struct {
	// Retries is the number of retries after the first attempt; total
	// attempts = Retries + 1.
	Retries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// Multiplier scales the delay per attempt: delay(i) = BaseDelay * Multiplier^i.
	Multiplier float64
	// Jitter applies +/-50% randomization to each delay.
	Jitter bool
	// Sleep waits for the given duration or until the context is done.
	// Tests replace it with a recorder.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnDelay observes each computed delay before sleeping.
	OnDelay func(attempt int, delay time.Duration)
}

const (
	defaultRetries    = 3
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMultiplier = 2.0
)

func (o Options) withDefaults() Options {
	if o.Retries < 0 {
		o.Retries = 0
	} else if o.Retries == 0 {
		o.Retries = defaultRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
	if o.Multiplier <= 0 {
		o.Multiplier = defaultMultiplier
	}
	if o.Sleep == nil {
		o.Sleep = SleepContext
	}
	return o
}

// Do runs fn until it succeeds or the attempt budget is exhausted. The last
// error is returned. Cancellation is checked before every attempt and
// interrupts retry sleeps; it surfaces as a CancelledError and suppresses
// further attempts.
func Do(ctx context.Context, op string, fn func(ctx context.Context) error, opts Options) error {
	_, err := DoValue(ctx, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts)
	return err
}

// DoValue is Do for functions that produce a value.
func DoValue[T any](ctx context.Context, op string, fn func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T
	o := opts.withDefaults()

	var lastErr error
	for attempt := 0; attempt <= o.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, raggerrors.NewCancelled(op, err)
		}

		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		if cancelled(err) {
			return zero, raggerrors.NewCancelled(op, err)
		}
		lastErr = err

		if attempt == o.Retries {
			break
		}

		delay := o.delayFor(attempt)
		if o.OnDelay != nil {
			o.OnDelay(attempt, delay)
		}
		if err := o.Sleep(ctx, delay); err != nil {
			return zero, raggerrors.NewCancelled(op, err)
		}
	}
	return zero, lastErr
}

func (o Options) delayFor(attempt int) time.Duration {
	delay := float64(o.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= o.Multiplier
	}
	if o.Jitter {
		// Uniform in [0.5, 1.5) of the nominal delay.
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

func cancelled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ce *raggerrors.CancelledError
	return errors.As(err, &ce)
}

// SleepContext waits for d or until the context is done, whichever comes
// first.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
