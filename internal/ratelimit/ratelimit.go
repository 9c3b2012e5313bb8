// Package ratelimit spaces out calls to metered upstream APIs.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter blocks until the next call may proceed or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Unlimited never waits.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}

// IntervalLimiter enforces a minimum interval between calls. When maxDelay
// exceeds minDelay each interval is drawn uniformly from [minDelay, maxDelay).
// RecordError adds a penalty to every interval. The first error sets it to
// minDelay (one second when minDelay is zero) and each further error doubles
// it, up to maxBackoff. RecordSuccess clears the penalty.
type IntervalLimiter struct {
	mu         sync.Mutex
	minDelay   time.Duration
	maxDelay   time.Duration
	penalty    time.Duration
	maxBackoff time.Duration
	lastAction time.Time
	now        func() time.Time
	after      func(time.Duration) <-chan time.Time
}

func NewIntervalLimiter(minDelay, maxDelay time.Duration) *IntervalLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &IntervalLimiter{
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		maxBackoff: 2 * time.Minute,
		now:        time.Now,
		after:      time.After,
	}
}

func (r *IntervalLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastAction.IsZero() {
		elapsed := r.now().Sub(r.lastAction)
		delay := r.calculateDelay()

		if elapsed < delay {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.after(delay - elapsed):
			}
		}
	}

	r.lastAction = r.now()
	return nil
}

// RecordError doubles the extra delay applied on top of the interval.
func (r *IntervalLimiter) RecordError() {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.penalty == 0:
		r.penalty = r.minDelay
		if r.penalty == 0 {
			r.penalty = time.Second
		}
	default:
		r.penalty *= 2
	}
	if r.penalty > r.maxBackoff {
		r.penalty = r.maxBackoff
	}
}

// RecordSuccess clears any backoff.
func (r *IntervalLimiter) RecordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.penalty = 0
}

func (r *IntervalLimiter) calculateDelay() time.Duration {
	delay := r.minDelay
	if r.maxDelay > r.minDelay {
		delay += time.Duration(rand.Int63n(int64(r.maxDelay - r.minDelay)))
	}
	return delay + r.penalty
}
