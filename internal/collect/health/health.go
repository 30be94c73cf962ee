// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// SessionHealth contains health metrics for one collect session.
type SessionHealth struct {
	SessionID    string       `json:"session_id"`
	Status       SystemStatus `json:"status"`
	RunState     string       `json:"run_state"`
	Collected    int          `json:"collected"`
	Target       int          `json:"target"`
	Round        int          `json:"round"`
	FailedItems  int          `json:"failed_items"`
	DriverStatus string       `json:"driver_status,omitempty"`
}

// GateHealth is the shared search gate seen from outside.
type GateHealth struct {
	QueueDepth  int    `json:"queue_depth"`
	Held        bool   `json:"held"`
	Grants      uint64 `json:"grants"`
	Timeouts    uint64 `json:"timeouts"`
	Expirations uint64 `json:"expirations"`
}

// BudgetHealth reports daily search budget consumption.
type BudgetHealth struct {
	Used       int     `json:"used"`
	Limit      int     `json:"limit"`
	Percentage float64 `json:"percentage"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus             `json:"system_status"`
	Sessions     map[string]SessionHealth `json:"sessions"`
	Gate         GateHealth               `json:"gate"`
	Budget       BudgetHealth             `json:"budget"`
}
