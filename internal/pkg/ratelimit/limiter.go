// Package ratelimit implements the per-credential call gate for the
// relay transport: calls sharing a credential are serialized at least
// one interval apart, while distinct credentials proceed independently.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a minimum-interval gate keyed by credential.
//
// It is not a token bucket: bursts on one key are fully serialized,
// each caller reserving the slot one interval after the previous one.
type Limiter struct {
	interval time.Duration

	mu   sync.Mutex
	next map[string]time.Time

	// now and sleep are injection points for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter enforcing the given minimum interval per key.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		next:     make(map[string]time.Time),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Wait blocks until the key's slot is available or ctx is done.
// The slot is reserved before sleeping, so concurrent waiters on the
// same key queue up one interval apart instead of racing.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	now := l.now()
	slot := l.next[key]
	if slot.Before(now) {
		slot = now
	}
	l.next[key] = slot.Add(l.interval)
	l.mu.Unlock()

	if wait := slot.Sub(now); wait > 0 {
		return l.sleep(ctx, wait)
	}
	return ctx.Err()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
