// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/krxwatch/disclosure-radar/backend/internal/faults"
)

// Options tune one retry loop.
type Options struct {
	// MaxRetries is the number of re-attempts after the first try.
	// Total attempts never exceed MaxRetries+1.
	MaxRetries int
	// InitialDelay is the backoff before the first re-attempt.
	InitialDelay time.Duration
	// Multiplier scales the delay after each failed attempt. Values below 1
	// are treated as 1.
	Multiplier float64
	// Jitter replaces each computed delay with a uniform random value in
	// [0, delay).
	Jitter bool
	// ShouldRetry decides whether a failed attempt is worth repeating.
	// Defaults to faults.IsRetryable. Validation and not-found faults are
	// never retried, even when the predicate approves them.
	ShouldRetry func(error) bool
}

// Do executes op until it succeeds, the retry budget runs out, or the error is
// classified non-retryable. The last error is returned unmodified.
func Do(ctx context.Context, op func() error, opts Options) error {
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = faults.IsRetryable
	}
	multiplier := opts.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := opts.InitialDelay
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		// Validation and not-found faults are terminal no matter what the
		// caller's predicate says.
		if faults.IsValidation(err) || faults.IsNotFound(err) {
			return err
		}
		if attempt >= opts.MaxRetries || !shouldRetry(err) {
			return err
		}

		sleep := delay
		if opts.Jitter && sleep > 0 {
			sleep = time.Duration(rand.Int63n(int64(sleep)))
		}

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()

		delay = time.Duration(float64(delay) * multiplier)
	}
}
