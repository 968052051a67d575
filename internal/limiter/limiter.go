// Package limiter is a token bucket with a priority lane, shared by one or more providers.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// PriorityLimiter hands out one token per query. While any priority caller is blocked,
// ordinary callers wait even if tokens are available. A nil limiter never blocks.
type PriorityLimiter struct {
	clk      clock.Clock
	capacity int
	period   time.Duration

	mu          sync.Mutex
	bucket      *rate.Limiter
	prioWaiters int
	waiting     int
	wake        chan struct{}
}

type Option func(*PriorityLimiter)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(l *PriorityLimiter) { l.clk = c }
}

// New returns a bucket of capacity tokens refilled at capacity/period tokens per second.
func New(capacity int, period time.Duration, opts ...Option) (*PriorityLimiter, error) {
	if capacity <= 0 || period <= 0 {
		return nil, fmt.Errorf("limiter: capacity %d and period %s must be positive", capacity, period)
	}
	l := &PriorityLimiter{
		clk:      clock.New(),
		capacity: capacity,
		period:   period,
		wake:     make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	perSecond := float64(capacity) / period.Seconds()
	l.bucket = rate.NewLimiter(rate.Limit(perSecond), capacity)
	return l, nil
}

func (l *PriorityLimiter) Capacity() int         { return l.capacity }
func (l *PriorityLimiter) Period() time.Duration { return l.period }

// Acquire takes one token, blocking until one is available or ctx is done.
func (l *PriorityLimiter) Acquire(ctx context.Context, priority bool) error {
	if l == nil {
		return nil
	}
	registered := false
	defer func() {
		if registered {
			l.mu.Lock()
			l.unregisterLocked()
			l.mu.Unlock()
		}
	}()
	for {
		l.mu.Lock()
		now := l.clk.Now()
		if (priority || l.prioWaiters == 0) && l.bucket.AllowN(now, 1) {
			if registered {
				l.unregisterLocked()
				registered = false
			}
			l.mu.Unlock()
			return nil
		}
		if priority && !registered {
			l.prioWaiters++
			registered = true
		}
		timer := l.clk.Timer(l.waitLocked(now))
		wake := l.wake
		l.waiting++
		l.mu.Unlock()

		var err error
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
		l.mu.Lock()
		l.waiting--
		l.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

// waitLocked is how long until the next token, or one token interval when a token
// exists but is reserved for priority callers.
func (l *PriorityLimiter) waitLocked(now time.Time) time.Duration {
	interval := time.Duration(float64(l.period) / float64(l.capacity))
	tokens := l.bucket.TokensAt(now)
	if tokens >= 1 {
		return interval
	}
	d := time.Duration((1 - tokens) / float64(l.bucket.Limit()) * float64(time.Second))
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

func (l *PriorityLimiter) unregisterLocked() {
	l.prioWaiters--
	if l.prioWaiters == 0 {
		close(l.wake)
		l.wake = make(chan struct{})
	}
}

// Tokens reports the tokens available now.
func (l *PriorityLimiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bucket.TokensAt(l.clk.Now())
}

func (l *PriorityLimiter) PriorityWaiters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prioWaiters
}

// Waiting is the number of callers currently blocked, of either kind.
func (l *PriorityLimiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting
}
