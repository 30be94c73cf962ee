package collector

import (
	"context"
	"sync"
	"time"
)

// Pacer is the adaptive cooldown between rounds. Healthy rounds pay the base
// pause; gate timeouts and lost rounds double it up to max; each clean round
// halves it back toward base. The asymmetry is deliberate: pressure from the
// upstream ramps the pace down fast and recovers it slowly.
type Pacer struct {
	mu   sync.Mutex
	base time.Duration
	max  time.Duration
	cur  time.Duration
}

// NewPacer creates a pacer bounded by [base, max].
func NewPacer(base, max time.Duration) *Pacer {
	if base <= 0 {
		base = 2 * time.Second
	}
	if max < base {
		max = base
	}
	return &Pacer{base: base, max: max, cur: base}
}

// Backoff doubles the cooldown up to max.
func (p *Pacer) Backoff() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur *= 2
	if p.cur > p.max {
		p.cur = p.max
	}
}

// Relax halves the cooldown back toward base.
func (p *Pacer) Relax() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur /= 2
	if p.cur < p.base {
		p.cur = p.base
	}
}

// Current returns the cooldown the next Wait will pay.
func (p *Pacer) Current() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

// Wait sleeps the current cooldown, returning early when ctx is canceled.
// Reports whether the full pause elapsed.
func (p *Pacer) Wait(ctx context.Context) bool {
	d := p.Current()
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
