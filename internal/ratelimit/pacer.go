// Package ratelimit paces delivery attempts. A Pacer is a single-token
// limiter: an attempt may start only once the configured interval has passed
// since the previous attempt finished.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Pacer enforces a minimum gap between consecutive attempts. It is shared by
// every recipient of a campaign.
type Pacer struct {
	clock    Clock
	interval time.Duration

	mu   sync.Mutex
	last time.Time
	used bool
}

// NewPacer creates a pacer. A nil clock means the wall clock.
func NewPacer(interval time.Duration, clock Clock) *Pacer {
	if clock == nil {
		clock = SystemClock{}
	}
	if interval < 0 {
		interval = 0
	}
	return &Pacer{clock: clock, interval: interval}
}

// Interval returns the minimum gap between attempts
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Wait blocks until the next attempt may start and returns how long it
// waited. The first attempt never waits.
func (p *Pacer) Wait(ctx context.Context) (time.Duration, error) {
	p.mu.Lock()
	delay := time.Duration(0)
	if p.used {
		delay = p.last.Add(p.interval).Sub(p.clock.Now())
	}
	p.mu.Unlock()

	if delay <= 0 {
		return 0, ctx.Err()
	}
	if err := p.clock.Sleep(ctx, delay); err != nil {
		return 0, err
	}
	return delay, nil
}

// Release marks the end of an attempt, successful or not
func (p *Pacer) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = p.clock.Now()
	p.used = true
}

// Backoff returns min(limit, base·2^(attempt-1)) for attempt >= 1.
// A zero limit leaves the delay uncapped.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		if (limit > 0 && d >= limit) || d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
