package gate

import (
	"sync"
	"time"
)

// BudgetTracker accounts for the daily search quota. The gate spaces searches
// out; the budget caps how many happen at all. Counts reset at UTC midnight.
type BudgetTracker struct {
	mu         sync.Mutex
	dailyLimit int
	used       int
	resetAt    time.Time
}

// UsageStats is a point-in-time snapshot of budget consumption.
type UsageStats struct {
	Used       int
	Limit      int
	Percentage float64
	ResetAt    time.Time
}

// NewBudgetTracker creates a tracker with the given daily search limit.
// A limit <= 0 means unlimited.
func NewBudgetTracker(dailyLimit int) *BudgetTracker {
	return &BudgetTracker{
		dailyLimit: dailyLimit,
		resetAt:    nextUTCMidnight(time.Now()),
	}
}

// RecordSearch counts one executed search against today's budget.
func (b *BudgetTracker) RecordSearch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	b.used++
}

// Remaining returns how many searches are left today. Unlimited budgets
// report -1.
func (b *BudgetTracker) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	if b.dailyLimit <= 0 {
		return -1
	}
	r := b.dailyLimit - b.used
	if r < 0 {
		r = 0
	}
	return r
}

// UsagePercent returns consumption as 0..100. Unlimited budgets report 0.
func (b *BudgetTracker) UsagePercent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	if b.dailyLimit <= 0 {
		return 0
	}
	return float64(b.used) / float64(b.dailyLimit) * 100
}

// Exhausted reports whether today's budget is spent.
func (b *BudgetTracker) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.dailyLimit > 0 && b.used >= b.dailyLimit
}

// ThrottleDelay suggests extra cooldown as the budget runs low, so the last
// searches of the day are spread out instead of burned in a burst.
func (b *BudgetTracker) ThrottleDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	if b.dailyLimit <= 0 {
		return 0
	}
	pct := float64(b.used) / float64(b.dailyLimit) * 100
	switch {
	case pct >= 95:
		return 5 * time.Minute
	case pct >= 90:
		return 2 * time.Minute
	case pct >= 80:
		return 30 * time.Second
	default:
		return 0
	}
}

// Stats returns a snapshot for health and status reporting.
func (b *BudgetTracker) Stats() UsageStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	s := UsageStats{Used: b.used, Limit: b.dailyLimit, ResetAt: b.resetAt}
	if b.dailyLimit > 0 {
		s.Percentage = float64(b.used) / float64(b.dailyLimit) * 100
	}
	return s
}

// rollLocked resets the counter when the UTC day has rolled over.
func (b *BudgetTracker) rollLocked() {
	now := time.Now()
	if now.Before(b.resetAt) {
		return
	}
	b.used = 0
	b.resetAt = nextUTCMidnight(now)
}

func nextUTCMidnight(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}
