package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vietddude/harvester/internal/collect/gate"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/core/progress"
	"github.com/vietddude/harvester/internal/infra/browser"
)

// =============================================================================
// Mocks
// =============================================================================

type stubFailedRepo struct {
	count int
}

func (s *stubFailedRepo) Count(ctx context.Context, sessionID string) (int, error) {
	return s.count, nil
}
func (s *stubFailedRepo) Add(ctx context.Context, item *domain.FailedItem) error { return nil }
func (s *stubFailedRepo) GetNext(ctx context.Context, sessionID string) (*domain.FailedItem, error) {
	return nil, nil
}
func (s *stubFailedRepo) IncrementRetry(ctx context.Context, id string) error { return nil }
func (s *stubFailedRepo) MarkResolved(ctx context.Context, id string) error   { return nil }
func (s *stubFailedRepo) MarkIgnored(ctx context.Context, id string) error    { return nil }
func (s *stubFailedRepo) GetAll(ctx context.Context, sessionID string) ([]*domain.FailedItem, error) {
	return nil, nil
}

type stubMonitored struct {
	status browser.DriverStatus
}

func (s *stubMonitored) MonitorStats() browser.MonitorStats {
	return browser.MonitorStats{Status: s.status}
}

func runningTracker(t *testing.T, sessionID string) *progress.Tracker {
	t.Helper()
	tr := progress.NewTracker(progress.NewMemoryStore(), sessionID)
	if err := tr.SetState(progress.StateRunning, "test"); err != nil {
		t.Fatalf("failed to start tracker: %v", err)
	}
	return tr
}

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_Healthy(t *testing.T) {
	monitor := NewMonitor(
		[]SessionSource{{
			SessionID: "s1",
			Target:    50,
			Tracker:   runningTracker(t, "s1"),
			Driver:    &stubMonitored{status: browser.StatusHealthy},
		}},
		&stubFailedRepo{count: 0},
		gate.NewMemoryGate(gate.DefaultConfig()),
		gate.NewBudgetTracker(100),
	)

	report := monitor.CheckHealth(context.Background())
	sh := report.Sessions["s1"]

	if sh.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", sh.Status)
	}
	if report.SystemStatus != StatusHealthy {
		t.Errorf("expected system healthy, got %s", report.SystemStatus)
	}
	if report.Budget.Limit != 100 {
		t.Errorf("expected budget limit 100, got %d", report.Budget.Limit)
	}
}

func TestMonitor_DegradedOnFailedItems(t *testing.T) {
	monitor := NewMonitor(
		[]SessionSource{{
			SessionID: "s1",
			Tracker:   runningTracker(t, "s1"),
		}},
		&stubFailedRepo{count: 3},
		nil,
		nil,
	)

	report := monitor.CheckHealth(context.Background())
	sh := report.Sessions["s1"]

	if sh.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", sh.Status)
	}
	if sh.FailedItems != 3 {
		t.Errorf("expected 3 failed items, got %d", sh.FailedItems)
	}
	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected system degraded, got %s", report.SystemStatus)
	}
}

func TestMonitor_CriticalOnAbortOrBlock(t *testing.T) {
	aborted := runningTracker(t, "s1")
	if err := aborted.SetState(progress.StateAborted, "auth wall"); err != nil {
		t.Fatalf("failed to abort tracker: %v", err)
	}

	monitor := NewMonitor(
		[]SessionSource{
			{SessionID: "s1", Tracker: aborted},
			{SessionID: "s2", Tracker: runningTracker(t, "s2"), Driver: &stubMonitored{status: browser.StatusBlocked}},
		},
		&stubFailedRepo{},
		nil,
		nil,
	)

	report := monitor.CheckHealth(context.Background())

	if report.Sessions["s1"].Status != StatusCritical {
		t.Errorf("aborted session: expected critical, got %s", report.Sessions["s1"].Status)
	}
	if report.Sessions["s2"].Status != StatusCritical {
		t.Errorf("blocked driver: expected critical, got %s", report.Sessions["s2"].Status)
	}
	if report.SystemStatus != StatusCritical {
		t.Errorf("expected system critical, got %s", report.SystemStatus)
	}
}

func TestMonitor_CachesReports(t *testing.T) {
	repo := &stubFailedRepo{count: 0}
	monitor := NewMonitor(
		[]SessionSource{{SessionID: "s1", Tracker: runningTracker(t, "s1")}},
		repo,
		nil,
		nil,
	)

	first := monitor.CheckHealth(context.Background())
	repo.count = 5
	second := monitor.CheckHealth(context.Background())

	if first.SystemStatus != second.SystemStatus {
		t.Error("expected cached report inside the rate-limit window")
	}
	if second.Sessions["s1"].FailedItems != 0 {
		t.Errorf("cached report should not see new failures, got %d", second.Sessions["s1"].FailedItems)
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	aborted := runningTracker(t, "s1")
	if err := aborted.SetState(progress.StateAborted, "auth wall"); err != nil {
		t.Fatalf("failed to abort tracker: %v", err)
	}
	monitor := NewMonitor(
		[]SessionSource{{SessionID: "s1", Tracker: aborted}},
		&stubFailedRepo{},
		nil,
		nil,
	)
	s := NewServer(monitor, 0)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for critical system, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body["status"] != string(StatusCritical) {
		t.Errorf("expected critical status, got %s", body["status"])
	}
}
