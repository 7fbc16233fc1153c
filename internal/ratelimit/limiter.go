// Package ratelimit paces calls to the external disclosure source. Each
// logical outbound stream owns its own Limiter instance; there is no shared
// global.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a minimum spacing between consecutive calls.
type Limiter struct {
	mu      sync.Mutex
	spacing time.Duration
	last    time.Time
}

// New creates a limiter with the given minimum inter-call spacing.
func New(spacing time.Duration) *Limiter {
	return &Limiter{spacing: spacing}
}

// WaitIfNeeded returns immediately on the first call of a lifetime. On later
// calls it sleeps out the remainder of the configured spacing measured from
// the previous call's start, then stamps a fresh timestamp. The stamp happens
// only once the wait completes: a ctx-cancelled wait leaves the pacing clock
// untouched, since no call went out.
func (l *Limiter) WaitIfNeeded(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	var wait time.Duration
	if !l.last.IsZero() {
		if elapsed := now.Sub(l.last); elapsed < l.spacing {
			wait = l.spacing - elapsed
		}
	}
	if wait <= 0 {
		l.last = now
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mu.Lock()
	l.last = time.Now()
	l.mu.Unlock()
	return nil
}

// Reset clears the last-call timestamp so the next call behaves as the first.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.last = time.Time{}
	l.mu.Unlock()
}
