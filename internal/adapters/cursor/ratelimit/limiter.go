package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"usagecache/pkg/errors"
)

// Limiter spaces out calls to the dashboard API. Page fetches go through
// it sequentially, so a burst of 1 gives a fixed delay between pages.
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// New creates a limiter that allows one call per interval
func New(name string, interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		name:    name,
	}
}

// Wait blocks until the rate limiter allows the request
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(err, "rate limiter %s", l.name)
	}
	return nil
}

// Allow checks if a request is allowed without blocking
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}
