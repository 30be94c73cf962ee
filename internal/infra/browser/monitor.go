package browser

import (
	"strings"
	"sync"
	"time"
)

// DriverStatus represents the health state of a browser backend.
type DriverStatus int

const (
	StatusHealthy   DriverStatus = iota // Backend is working normally
	StatusDegraded                      // Backend is slow but working
	StatusThrottled                     // Upstream is rate limiting us
	StatusBlocked                       // Upstream rejects the session outright
)

func (s DriverStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// MonitorStats holds monitoring statistics for one driver.
type MonitorStats struct {
	Status          DriverStatus
	AverageLatency  time.Duration
	RateLimitHits   int
	AuthFailures    int
	ActionsLastHour int
	LastThrottleAt  time.Time
}

// Monitored is implemented by drivers that track their own health. Health
// reporting type-asserts against it, so fakes without a monitor stay cheap.
type Monitored interface {
	MonitorStats() MonitorStats
}

// Monitor tracks driver latencies and upstream pushback in sliding windows.
type Monitor struct {
	mu sync.RWMutex

	latencies []time.Duration
	maxWindow int

	actionTimes []time.Time

	rateLimitHits int
	authFailures  int
	lastThrottle  time.Time
	holdoff       time.Duration

	slowThreshold time.Duration
}

var throttlePhrases = []string{
	"rate limit",
	"too many requests",
	"slow down",
	"try again later",
}

// NewMonitor creates a monitor with default thresholds.
func NewMonitor() *Monitor {
	return &Monitor{
		latencies:     make([]time.Duration, 0, 100),
		maxWindow:     100,
		slowThreshold: 5 * time.Second,
	}
}

// RecordAction records a completed driver action with its latency.
func (m *Monitor) RecordAction(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencies = append(m.latencies, latency)
	if len(m.latencies) > m.maxWindow {
		m.latencies = m.latencies[1:]
	}

	now := time.Now()
	m.actionTimes = append(m.actionTimes, now)
	cutoff := now.Add(-time.Hour)
	for len(m.actionTimes) > 0 && m.actionTimes[0].Before(cutoff) {
		m.actionTimes = m.actionTimes[1:]
	}
}

// RecordRateLimit records upstream rate-limit pushback.
func (m *Monitor) RecordRateLimit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitHits++
	m.lastThrottle = time.Now()
	m.holdoff = time.Minute
}

// RecordAuthFailure records an auth rejection. These hold the status down far
// longer than throttling, since re-login needs operator action.
func (m *Monitor) RecordAuthFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authFailures++
	m.lastThrottle = time.Now()
	m.holdoff = 10 * time.Minute
}

// DetectThrottleMessage reports whether an upstream message looks like rate
// limiting even without an explicit status code.
func (m *Monitor) DetectThrottleMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range throttlePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Status classifies the driver's current health.
func (m *Monitor) Status() DriverStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() DriverStatus {
	inHoldoff := !m.lastThrottle.IsZero() && time.Since(m.lastThrottle) < m.holdoff

	if m.authFailures > 0 && inHoldoff {
		return StatusBlocked
	}
	if m.rateLimitHits > 3 && inHoldoff {
		return StatusThrottled
	}

	if len(m.latencies) > 10 {
		var total time.Duration
		for _, l := range m.latencies {
			total += l
		}
		if total/time.Duration(len(m.latencies)) > m.slowThreshold {
			return StatusDegraded
		}
	}
	return StatusHealthy
}

// Stats returns a snapshot of the monitor.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := MonitorStats{
		Status:          m.statusLocked(),
		RateLimitHits:   m.rateLimitHits,
		AuthFailures:    m.authFailures,
		ActionsLastHour: len(m.actionTimes),
		LastThrottleAt:  m.lastThrottle,
	}
	if len(m.latencies) > 0 {
		var total time.Duration
		for _, l := range m.latencies {
			total += l
		}
		s.AverageLatency = total / time.Duration(len(m.latencies))
	}
	return s
}
