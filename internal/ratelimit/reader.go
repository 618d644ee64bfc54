package ratelimit

import (
	"context"
	"io"
)

// Reader charges every read against a shared Limiter. Reads are capped at
// the limiter's burst so a single call never exceeds one bucket.
type Reader struct {
	ctx context.Context
	r   io.Reader
	lim *Limiter
}

// NewReader wraps r. A nil limiter passes reads through.
func NewReader(ctx context.Context, r io.Reader, lim *Limiter) *Reader {
	return &Reader{ctx: ctx, r: r, lim: lim}
}

func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.lim == nil {
		return r.r.Read(p)
	}
	if max := r.lim.Burst(); len(p) > max {
		p = p[:max]
	}
	if err := r.lim.WaitN(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
