// Package ratelimit provides the byte budget shared by every install worker.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRetryAfter is used when the bucket cannot say how long to wait
const DefaultRetryAfter = 100 * time.Millisecond

// Limiter is a token bucket measured in bytes. One Limiter is shared by all
// concurrently installing titles.
type Limiter struct {
	mu    sync.Mutex
	lim   *rate.Limiter
	bps   int64
	burst int
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleep replaces the wait function used by WaitN
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// New creates a limiter allowing bytesPerSecond with at most burst bytes per
// acquisition. bytesPerSecond <= 0 means unlimited.
func New(bytesPerSecond int64, burst int, opts ...Option) *Limiter {
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		burst: burst,
		bps:   normalize(bytesPerSecond),
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lim = rate.NewLimiter(toLimit(l.bps), burst)
	return l
}

// SetLimit changes the ceiling for every consumer immediately
func (l *Limiter) SetLimit(bytesPerSecond int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.bps = normalize(bytesPerSecond)
	l.lim.SetLimitAt(l.now(), toLimit(l.bps))
}

// Limit returns the ceiling in bytes per second, 0 when unlimited
func (l *Limiter) Limit() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bps
}

// Burst returns the largest amount a single acquisition can take
func (l *Limiter) Burst() int {
	return l.burst
}

// TryAcquire takes n bytes from the bucket without blocking. When there are
// not enough tokens nothing is taken and retryAfter says when to ask again.
// Requests above Burst are charged as Burst.
func (l *Limiter) TryAcquire(n int) (granted bool, retryAfter time.Duration) {
	if n <= 0 {
		return true, 0
	}
	if n > l.burst {
		n = l.burst
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bps == 0 {
		return true, 0
	}

	now := l.now()
	r := l.lim.ReserveN(now, n)
	if !r.OK() {
		return false, DefaultRetryAfter
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

// WaitN blocks until n bytes have been acquired, in Burst sized pieces
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	for n > 0 {
		chunk := n
		if chunk > l.burst {
			chunk = l.burst
		}
		for {
			ok, after := l.TryAcquire(chunk)
			if ok {
				break
			}
			if after <= 0 {
				after = DefaultRetryAfter
			}
			if err := l.sleep(ctx, after); err != nil {
				return err
			}
		}
		n -= chunk
	}
	return nil
}

func normalize(bps int64) int64 {
	if bps < 0 {
		return 0
	}
	return bps
}

func toLimit(bps int64) rate.Limit {
	if bps == 0 {
		return rate.Inf
	}
	return rate.Limit(bps)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
