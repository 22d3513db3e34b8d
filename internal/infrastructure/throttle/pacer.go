// Package throttle spaces out upstream calls so that consecutive requests are
// at least a fixed interval apart.
package throttle

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a minimum gap between calls to Wait. It is safe for
// concurrent use; a zero interval disables pacing.
type Pacer struct {
	interval time.Duration
	bucket   *rate.Limiter
}

// NewPacer builds a pacer allowing one call per interval.
func NewPacer(interval time.Duration) *Pacer {
	p := &Pacer{interval: interval}
	if interval > 0 {
		p.bucket = rate.NewLimiter(rate.Every(interval), 1)
	}
	return p
}

// Wait blocks until the next call is allowed or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.bucket == nil {
		return ctx.Err()
	}
	return p.bucket.Wait(ctx)
}

// Interval returns the configured gap.
func (p *Pacer) Interval() time.Duration {
	if p == nil {
		return 0
	}
	return p.interval
}
