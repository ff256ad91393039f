package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

func noSleep() (func(ctx context.Context, d time.Duration) error, *[]time.Duration) {
	var delays []time.Duration
	return func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}, &delays
}

func TestRetryTimingWithoutJitter(t *testing.T) {
	t.Parallel()

	sleep, delays := noSleep()
	attempts := 0

	err := Do(context.Background(), "always-fails", func(_ context.Context) error {
		attempts++
		return fmt.Errorf("boom %d", attempts)
	}, Options{Retries: 3, BaseDelay: 100 * time.Millisecond, Multiplier: 2, Sleep: sleep})

	require.Error(t, err)
	require.Equal(t, "boom 4", err.Error())
	require.Equal(t, 4, attempts)
	require.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, *delays)
}

func TestRetrySucceedsMidway(t *testing.T) {
	t.Parallel()

	sleep, delays := noSleep()
	attempts := 0

	value, err := DoValue(context.Background(), "flaky", func(_ context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, Options{Retries: 5, BaseDelay: 10 * time.Millisecond, Multiplier: 2, Sleep: sleep})

	require.NoError(t, err)
	require.Equal(t, "ok", value)
	require.Equal(t, 3, attempts)
	require.Len(t, *delays, 2)
}

func TestRetryJitterStaysWithinBounds(t *testing.T) {
	t.Parallel()

	sleep, delays := noSleep()

	_ = Do(context.Background(), "jittered", func(_ context.Context) error {
		return errors.New("fail")
	}, Options{Retries: 3, BaseDelay: 100 * time.Millisecond, Multiplier: 2, Jitter: true, Sleep: sleep})

	require.Len(t, *delays, 3)
	nominal := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for i, d := range *delays {
		low := nominal[i] / 2
		high := nominal[i] + nominal[i]/2
		require.GreaterOrEqual(t, d, low, "delay %d below -50%% bound", i)
		require.LessOrEqual(t, d, high, "delay %d above +50%% bound", i)
	}
}

func TestRetryOnDelayObserver(t *testing.T) {
	t.Parallel()

	sleep, _ := noSleep()
	var observed []int

	_ = Do(context.Background(), "observed", func(_ context.Context) error {
		return errors.New("fail")
	}, Options{Retries: 2, BaseDelay: time.Millisecond, Multiplier: 2, Sleep: sleep,
		OnDelay: func(attempt int, _ time.Duration) {
			observed = append(observed, attempt)
		}})

	require.Equal(t, []int{0, 1}, observed)
}

func TestRetryCancelledBeforeAttempt(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, "cancelled", func(_ context.Context) error {
		attempts++
		return errors.New("never seen")
	}, Options{Retries: 3, BaseDelay: time.Millisecond, Sleep: func(_ context.Context, _ time.Duration) error {
		return nil
	}})

	require.Equal(t, 0, attempts)
	require.ErrorIs(t, err, &raggerrors.CancelledError{})
}

func TestRetryCancelledDuringSleepSuppressesFurtherAttempts(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), "sleep-cancel", func(_ context.Context) error {
		attempts++
		return errors.New("fail")
	}, Options{Retries: 3, BaseDelay: time.Millisecond, Sleep: func(_ context.Context, _ time.Duration) error {
		return context.Canceled
	}})

	require.Equal(t, 1, attempts)
	require.ErrorIs(t, err, &raggerrors.CancelledError{})
}

func TestRetryCancelledFunctionErrorNotRetried(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), "ctx-err", func(_ context.Context) error {
		attempts++
		return context.DeadlineExceeded
	}, Options{Retries: 3, BaseDelay: time.Millisecond, Sleep: func(_ context.Context, _ time.Duration) error {
		return nil
	}})

	require.Equal(t, 1, attempts)
	require.ErrorIs(t, err, &raggerrors.CancelledError{})
}

func TestRetryDefaults(t *testing.T) {
	t.Parallel()

	sleep, delays := noSleep()
	attempts := 0

	_ = Do(context.Background(), "defaults", func(_ context.Context) error {
		attempts++
		return errors.New("fail")
	}, Options{Sleep: sleep})

	require.Equal(t, 4, attempts)
	require.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, *delays)
}
