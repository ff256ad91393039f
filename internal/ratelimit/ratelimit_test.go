package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLimiter(t *testing.T, opts Options) *Limiter {
	t.Helper()
	l := New(opts, nil)
	t.Cleanup(l.Close)
	return l
}

func TestAllowCountsDownAndBlocks(t *testing.T) {
	t.Parallel()

	l := testLimiter(t, Options{
		MaxAttempts:   3,
		Window:        time.Second,
		BlockDuration: 2 * time.Second,
	})
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := base
	l.clock = func() time.Time { return now }

	for i, wantRemaining := range []int{2, 1, 0} {
		d := l.Allow("user@example.com")
		require.True(t, d.Allowed, "attempt %d", i+1)
		require.Equal(t, wantRemaining, d.Remaining)
	}

	denied := l.Allow("user@example.com")
	require.False(t, denied.Allowed)
	require.Equal(t, 2*time.Second, denied.RetryAfter)

	// Still blocked shortly after, with retryAfter shrinking.
	now = base.Add(500 * time.Millisecond)
	stillDenied := l.Allow("user@example.com")
	require.False(t, stillDenied.Allowed)
	require.Equal(t, 1500*time.Millisecond, stillDenied.RetryAfter)
}

func TestResetClearsBlock(t *testing.T) {
	t.Parallel()

	l := testLimiter(t, Options{MaxAttempts: 3, Window: time.Second, BlockDuration: 2 * time.Second})
	for i := 0; i < 4; i++ {
		l.Allow("user@example.com")
	}
	require.False(t, l.Allow("user@example.com").Allowed)

	l.Reset("user@example.com")
	d := l.Allow("user@example.com")
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Remaining)
}

func TestWindowRolloverForgetsOldAttempts(t *testing.T) {
	t.Parallel()

	l := testLimiter(t, Options{MaxAttempts: 2, Window: time.Minute, BlockDuration: time.Hour})
	base := time.Now()
	now := base
	l.clock = func() time.Time { return now }

	require.True(t, l.Allow("id").Allowed)
	require.True(t, l.Allow("id").Allowed)

	// Window has rolled over, so the counter starts fresh.
	now = base.Add(2 * time.Minute)
	d := l.Allow("id")
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Remaining)
}

func TestIdentifiersAreIndependent(t *testing.T) {
	t.Parallel()

	l := testLimiter(t, Options{MaxAttempts: 1, Window: time.Minute, BlockDuration: time.Hour})
	require.True(t, l.Allow("alpha").Allowed)
	require.False(t, l.Allow("alpha").Allowed)
	require.True(t, l.Allow("beta").Allowed)
}

func TestBlockExpiresAfterDuration(t *testing.T) {
	t.Parallel()

	l := testLimiter(t, Options{MaxAttempts: 1, Window: time.Second, BlockDuration: 10 * time.Second})
	base := time.Now()
	now := base
	l.clock = func() time.Time { return now }

	require.True(t, l.Allow("id").Allowed)
	require.False(t, l.Allow("id").Allowed) // sets the block

	now = base.Add(11 * time.Second)
	require.True(t, l.Allow("id").Allowed)
}

func TestCleanupDropsExpiredRecords(t *testing.T) {
	t.Parallel()

	l := testLimiter(t, Options{MaxAttempts: 5, Window: time.Minute, BlockDuration: time.Minute})
	base := time.Now()
	now := base
	l.clock = func() time.Time { return now }

	l.Allow("stale")
	l.Allow("fresh")
	require.Equal(t, 2, l.Size())

	now = base.Add(2 * time.Minute)
	l.Allow("fresh") // new attempt keeps this record in the window
	l.Cleanup()

	require.Equal(t, 1, l.Size())
}

func TestCleanupKeepsActiveBlocks(t *testing.T) {
	t.Parallel()

	l := testLimiter(t, Options{MaxAttempts: 1, Window: time.Millisecond, BlockDuration: time.Hour})
	base := time.Now()
	now := base
	l.clock = func() time.Time { return now }

	l.Allow("id")
	l.Allow("id") // blocked for an hour

	now = base.Add(time.Minute)
	l.Cleanup()
	require.Equal(t, 1, l.Size())
	require.False(t, l.Allow("id").Allowed)
}
