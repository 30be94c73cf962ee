package gate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/harvester/internal/core/domain"
)

// waiter is one queued caller. Its outcome (grant, timeout, cancel, close) is
// decided exactly once under the gate mutex; done marks the decision.
type waiter struct {
	callerID string
	ch       chan domain.Permit // buffered 1, written once
	done     bool
}

// MemoryGate serializes callers within a single process. Waiters are granted
// strictly in arrival order.
type MemoryGate struct {
	cfg Config

	mu            sync.Mutex
	queue         []*waiter
	holderID      string // lease id, "" when free
	holderTimer   *time.Timer
	cooldownTimer *time.Timer
	lastGrantAt   time.Time
	lastRelease   time.Time
	grants        uint64
	timeouts      uint64
	expirations   uint64
	closed        bool
}

// NewMemoryGate creates an in-process gate. Zero config fields fall back to
// DefaultConfig values.
func NewMemoryGate(cfg Config) *MemoryGate {
	return &MemoryGate{cfg: cfg.withDefaults()}
}

// WaitForPermit implements Gate.
func (g *MemoryGate) WaitForPermit(ctx context.Context, callerID string, timeout time.Duration) domain.Permit {
	g.mu.Lock()

	if g.closed {
		g.mu.Unlock()
		return domain.Permit{Granted: false, Reason: ReasonClosed}
	}

	// Instant check: grant only if the gate is free, nobody is queued ahead,
	// and the cooldown window has passed.
	if timeout == 0 {
		if reason := g.denyReasonLocked(); reason != "" {
			g.mu.Unlock()
			return domain.Permit{Granted: false, Reason: reason}
		}
		p := g.grantLocked(time.Now())
		g.mu.Unlock()
		return p
	}

	w := &waiter{callerID: callerID, ch: make(chan domain.Permit, 1)}
	g.queue = append(g.queue, w)
	g.dispatchLocked()
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p := <-w.ch:
		return p
	case <-timer.C:
		return g.settle(w, ReasonTimeout)
	case <-ctx.Done():
		return g.settle(w, ReasonCanceled)
	}
}

// settle resolves the race between an expiring wait and a concurrent grant.
// If the dispatcher already granted, the grant happened first in lock order
// and the caller takes it; otherwise the waiter is removed and never granted.
func (g *MemoryGate) settle(w *waiter, reason string) domain.Permit {
	g.mu.Lock()
	if w.done {
		g.mu.Unlock()
		return <-w.ch
	}
	w.done = true
	g.removeWaiterLocked(w)
	if reason == ReasonTimeout {
		g.timeouts++
	}
	g.mu.Unlock()
	return domain.Permit{Granted: false, Reason: reason}
}

// Release implements Gate.
func (g *MemoryGate) Release(_ context.Context, leaseID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if leaseID == "" || g.holderID != leaseID {
		return ErrNotHolder
	}
	g.clearHolderLocked()
	g.dispatchLocked()
	return nil
}

// Stats implements Gate.
func (g *MemoryGate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	depth := 0
	for _, w := range g.queue {
		if !w.done {
			depth++
		}
	}
	return Stats{
		QueueDepth:  depth,
		Held:        g.holderID != "",
		LastGrantAt: g.lastGrantAt,
		LastRelease: g.lastRelease,
		Grants:      g.grants,
		Timeouts:    g.timeouts,
		Expirations: g.expirations,
	}
}

// Close implements Gate. Queued callers receive ReasonClosed; a currently
// held lease may still be released afterwards.
func (g *MemoryGate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	for _, w := range g.queue {
		if !w.done {
			w.done = true
			w.ch <- domain.Permit{Granted: false, Reason: ReasonClosed}
		}
	}
	g.queue = nil
	if g.cooldownTimer != nil {
		g.cooldownTimer.Stop()
		g.cooldownTimer = nil
	}
	if g.holderTimer != nil {
		g.holderTimer.Stop()
		g.holderTimer = nil
	}
	return nil
}

// ============================================================================
// Internal dispatch
// ============================================================================

// denyReasonLocked explains why an instant grant is impossible, or returns ""
// when one is allowed.
func (g *MemoryGate) denyReasonLocked() string {
	if g.holderID != "" {
		return ReasonHeld
	}
	for _, w := range g.queue {
		if !w.done {
			return ReasonQueued
		}
	}
	if !g.lastRelease.IsZero() && time.Since(g.lastRelease) < g.cfg.MinInterval {
		return ReasonCooldown
	}
	return ""
}

// dispatchLocked grants the lease to the head of the queue if the gate is
// free and the cooldown window has passed. When the window is still open it
// arms a timer to retry dispatch at the exact boundary.
func (g *MemoryGate) dispatchLocked() {
	if g.closed || g.holderID != "" {
		return
	}

	// Drop settled waiters from the head.
	for len(g.queue) > 0 && g.queue[0].done {
		g.queue = g.queue[1:]
	}
	if len(g.queue) == 0 {
		return
	}

	now := time.Now()
	if !g.lastRelease.IsZero() {
		if remaining := g.cfg.MinInterval - now.Sub(g.lastRelease); remaining > 0 {
			g.armCooldownLocked(remaining)
			return
		}
	}

	w := g.queue[0]
	g.queue = g.queue[1:]
	w.done = true
	w.ch <- g.grantLocked(now)
}

// grantLocked mints a lease, marks the gate held, and arms the expiry timer.
func (g *MemoryGate) grantLocked(now time.Time) domain.Permit {
	leaseID := uuid.New().String()
	g.holderID = leaseID
	g.lastGrantAt = now
	g.grants++

	expiresAt := now.Add(g.cfg.MaxHold)
	g.holderTimer = time.AfterFunc(g.cfg.MaxHold, func() {
		g.expireLease(leaseID)
	})

	return domain.Permit{Granted: true, LeaseID: leaseID, ExpiresAt: expiresAt}
}

// expireLease reclaims a lease the holder never released. Expiry counts as a
// release for cooldown purposes.
func (g *MemoryGate) expireLease(leaseID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.holderID != leaseID {
		return
	}
	g.expirations++
	g.clearHolderLocked()
	g.dispatchLocked()
}

func (g *MemoryGate) clearHolderLocked() {
	g.holderID = ""
	g.lastRelease = time.Now()
	if g.holderTimer != nil {
		g.holderTimer.Stop()
		g.holderTimer = nil
	}
}

func (g *MemoryGate) armCooldownLocked(d time.Duration) {
	if g.cooldownTimer != nil {
		g.cooldownTimer.Stop()
	}
	g.cooldownTimer = time.AfterFunc(d, func() {
		g.mu.Lock()
		g.cooldownTimer = nil
		g.dispatchLocked()
		g.mu.Unlock()
	})
}

func (g *MemoryGate) removeWaiterLocked(target *waiter) {
	for i, w := range g.queue {
		if w == target {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			return
		}
	}
}
