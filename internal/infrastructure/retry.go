package infrastructure

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

// RetryPolicy controls bounded exponential backoff for transient failures
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64 // ±fraction of delay to randomize (e.g. 0.3 = ±30%)
}

// DefaultRetryPolicy returns the policy used for CDN transfers
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   5,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// RetryPolicyFromConfig builds a policy from the http section
func RetryPolicyFromConfig(cfg *domain.HTTPConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.RetryAttempts > 0 {
		p.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryBackoff > 0 {
		p.InitialDelay = cfg.RetryBackoff
	}
	if cfg.RetryMaxBackoff > 0 {
		p.MaxDelay = cfg.RetryMaxBackoff
	}
	return p
}

// Delay returns the un-jittered wait before the given retry (1-based)
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := float64(p.InitialDelay)
	for i := 1; i < retry; i++ {
		delay *= factor
		if delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Wait sleeps for the jittered delay of the given retry or until ctx ends
func (p RetryPolicy) Wait(ctx context.Context, retry int) error {
	d := applyJitter(p.Delay(retry), p.JitterFrac)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	jitter := (rand.Float64()*2 - 1) * frac * float64(d)
	return d + time.Duration(jitter)
}

// isRetryableStatus returns true for HTTP status codes that are safe to retry
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout ||
		code >= http.StatusInternalServerError
}
