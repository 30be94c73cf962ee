// Package gate serializes the globally rate-limited search action.
//
// # Purpose
//
// Every session wants to search, but the upstream treats rapid searches from
// one account pool as abuse. The gate converts unbounded concurrent demand
// into bounded, serialized demand: one mutual-exclusion lease, grants spaced
// by a minimum interval, callers queued FIFO. It is the only lock shared
// between sessions.
//
// # Guarantees
//
//   - At most one permit is granted at any instant.
//   - Consecutive grants are separated by at least MinInterval, measured from
//     the previous release (explicit or expiry).
//   - A caller whose timeout elapses before grant gets Granted=false and never
//     receives a late grant; the grant/timeout race is decided under one lock
//     so exactly one outcome wins.
//   - A crashed holder cannot wedge the gate: leases expire after MaxHold.
//
// # Backends
//
// MemoryGate coordinates goroutines within one process. RedisGate coordinates
// sibling processes through a shared lease key; FIFO order is approximate
// across processes since waiters poll.
//
// # Package Structure
//
//   - gate.go   - Gate interface, config, stats
//   - memory.go - In-process FIFO gate
//   - redis.go  - Cross-process lease gate
//   - budget.go - Daily search quota accounting
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
)

// Denial reasons reported on Permit.Reason. The collect loop keys its
// cooldown branch off ReasonTimeout, so it is part of the contract.
const (
	ReasonTimeout  = "timeout waiting for permit"
	ReasonHeld     = "lease held"
	ReasonCooldown = "cooling down since last release"
	ReasonQueued   = "queued behind earlier callers"
	ReasonCanceled = "canceled while waiting"
	ReasonClosed   = "gate closed"
)

// ErrNotHolder is returned by Release when the lease id is not the current
// holder (already released, expired, or never granted).
var ErrNotHolder = errors.New("gate: lease not held")

// Gate admits callers to the scarce action one at a time.
type Gate interface {
	// WaitForPermit blocks until a permit is granted, the timeout elapses,
	// or ctx is canceled. timeout == 0 performs a single instant check.
	// Expected failures come back as Permit{Granted: false, Reason: ...},
	// never as an error.
	WaitForPermit(ctx context.Context, callerID string, timeout time.Duration) domain.Permit

	// Release returns the lease so the next caller can be admitted after the
	// minimum interval. Releasing a lease that is no longer held returns
	// ErrNotHolder.
	Release(ctx context.Context, leaseID string) error

	// Stats reports gate counters for health and logging.
	Stats() Stats

	// Close fails all waiting callers and stops background timers.
	Close() error
}

// Config holds gate timing configuration.
type Config struct {
	// MinInterval is the minimum spacing between a release and the next
	// grant (the T_min of the admission policy).
	MinInterval time.Duration `yaml:"min_interval"`

	// MaxHold is the hard lease expiry protecting against crashed holders.
	MaxHold time.Duration `yaml:"max_hold"`

	// PollInterval is how often cross-process backends re-check the lease.
	// Unused by the in-process gate.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns sensible defaults: searches at most every 30s, a
// holder gets two minutes before the lease is presumed leaked.
func DefaultConfig() Config {
	return Config{
		MinInterval:  30 * time.Second,
		MaxHold:      2 * time.Minute,
		PollInterval: 500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinInterval <= 0 {
		c.MinInterval = d.MinInterval
	}
	if c.MaxHold <= 0 {
		c.MaxHold = d.MaxHold
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Stats holds gate counters.
type Stats struct {
	QueueDepth  int
	Held        bool
	LastGrantAt time.Time
	LastRelease time.Time
	Grants      uint64
	Timeouts    uint64
	Expirations uint64
}
