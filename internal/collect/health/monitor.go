package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/harvester/internal/collect/gate"
	"github.com/vietddude/harvester/internal/core/progress"
	"github.com/vietddude/harvester/internal/infra/browser"
	"github.com/vietddude/harvester/internal/infra/storage"
)

// SessionSource is the per-session wiring the monitor reads from. Driver is
// the browser.Monitored view of the session's driver and may be nil.
type SessionSource struct {
	SessionID string
	Target    int
	Tracker   *progress.Tracker
	Driver    browser.Monitored
}

// Monitor aggregates health status from the collectors and their shared
// resources.
type Monitor struct {
	sessions   []SessionSource
	failedRepo storage.FailedItemRepository
	gate       gate.Gate
	budget     *gate.BudgetTracker

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a new health monitor.
func NewMonitor(
	sessions []SessionSource,
	failedRepo storage.FailedItemRepository,
	g gate.Gate,
	budget *gate.BudgetTracker,
) *Monitor {
	return &Monitor{
		sessions:   sessions,
		failedRepo: failedRepo,
		gate:       g,
		budget:     budget,
	}
}

// CheckHealth builds a full report. Checks are rate limited to once per 10s;
// callers inside the window get the cached report.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport != nil {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Sessions:     make(map[string]SessionHealth),
	}

	if m.gate != nil {
		gs := m.gate.Stats()
		report.Gate = GateHealth{
			QueueDepth:  gs.QueueDepth,
			Held:        gs.Held,
			Grants:      gs.Grants,
			Timeouts:    gs.Timeouts,
			Expirations: gs.Expirations,
		}
	}
	if m.budget != nil {
		bs := m.budget.Stats()
		report.Budget = BudgetHealth{
			Used:       bs.Used,
			Limit:      bs.Limit,
			Percentage: bs.Percentage,
		}
	}

	for _, src := range m.sessions {
		sh := m.checkSession(ctx, src)
		report.Sessions[src.SessionID] = sh

		if sh.Status == StatusCritical {
			report.SystemStatus = StatusCritical
		} else if sh.Status == StatusDegraded && report.SystemStatus == StatusHealthy {
			report.SystemStatus = StatusDegraded
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}

func (m *Monitor) checkSession(ctx context.Context, src SessionSource) SessionHealth {
	sh := SessionHealth{
		SessionID: src.SessionID,
		Status:    StatusHealthy,
		Target:    src.Target,
	}

	if src.Tracker != nil {
		sh.RunState = string(src.Tracker.State())
		sh.Collected = src.Tracker.CollectedCount()
		_, sh.Round = src.Tracker.Position()
	}

	if m.failedRepo != nil {
		if count, err := m.failedRepo.Count(ctx, src.SessionID); err == nil {
			sh.FailedItems = count
		}
	}

	driverStatus := browser.StatusHealthy
	if src.Driver != nil {
		driverStatus = src.Driver.MonitorStats().Status
		sh.DriverStatus = driverStatus.String()
	}

	// Evaluate status, worst signal wins.
	switch {
	case sh.RunState == string(progress.StateAborted) || driverStatus == browser.StatusBlocked:
		sh.Status = StatusCritical
	case sh.FailedItems > 0,
		sh.RunState == string(progress.StatePaused),
		driverStatus == browser.StatusThrottled,
		driverStatus == browser.StatusDegraded:
		sh.Status = StatusDegraded
	}
	return sh
}
