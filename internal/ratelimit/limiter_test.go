package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/krxwatch/disclosure-radar/backend/internal/ratelimit"
)

func TestFirstCallReturnsImmediately(t *testing.T) {
	limiter := ratelimit.New(time.Second)

	start := time.Now()
	require.NoError(t, limiter.WaitIfNeeded(context.Background()))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSecondCallWaitsOutSpacing(t *testing.T) {
	limiter := ratelimit.New(50 * time.Millisecond)

	require.NoError(t, limiter.WaitIfNeeded(context.Background()))

	start := time.Now()
	require.NoError(t, limiter.WaitIfNeeded(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestNoWaitAfterSpacingElapsed(t *testing.T) {
	limiter := ratelimit.New(20 * time.Millisecond)

	require.NoError(t, limiter.WaitIfNeeded(context.Background()))
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	require.NoError(t, limiter.WaitIfNeeded(context.Background()))
	require.Less(t, time.Since(start), 15*time.Millisecond)
}

func TestResetClearsState(t *testing.T) {
	limiter := ratelimit.New(time.Second)

	require.NoError(t, limiter.WaitIfNeeded(context.Background()))
	limiter.Reset()

	start := time.Now()
	require.NoError(t, limiter.WaitIfNeeded(context.Background()))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestCancelledWaitDoesNotAdvancePacingClock(t *testing.T) {
	limiter := ratelimit.New(60 * time.Millisecond)

	require.NoError(t, limiter.WaitIfNeeded(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, limiter.WaitIfNeeded(ctx))

	// The spacing from the first (only successful) call has elapsed, so the
	// next call must not pay for the cancelled one.
	time.Sleep(60 * time.Millisecond)
	start := time.Now()
	require.NoError(t, limiter.WaitIfNeeded(context.Background()))
	require.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	limiter := ratelimit.New(5 * time.Second)

	require.NoError(t, limiter.WaitIfNeeded(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.WaitIfNeeded(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
