package domain

// RunState tracks the lifecycle of one session run.
type RunState string

const (
	RunStatePending   RunState = "pending"
	RunStateRunning   RunState = "running"
	RunStatePaused    RunState = "paused"
	RunStateCompleted RunState = "completed"
	RunStateAborted   RunState = "aborted"
)

// SessionRun is the persisted record of one invocation of the collect loop.
type SessionRun struct {
	ID         string   `json:"id"`
	SessionID  string   `json:"session_id"`
	State      RunState `json:"state"`
	Target     int      `json:"target"`
	Collected  int      `json:"collected"`
	Rounds     int      `json:"rounds"`
	StartedAt  int64    `json:"started_at"`
	FinishedAt int64    `json:"finished_at,omitempty"`
	LastError  string   `json:"last_error,omitempty"`
}

// RunConfig is the caller-facing configuration for one collect run.
type RunConfig struct {
	SessionID    string
	Profile      string
	Keywords     []string
	Target       int
	PerSearchMax int
	MaxRounds    int
	SaveEvery    int
}

// RunResult is returned to the caller instead of an error for all expected
// outcomes. Aborted means a systemic failure stopped the run after progress
// was persisted; Reason carries the stop cause either way.
type RunResult struct {
	CollectedCount int
	Aborted        bool
	LastCheckpoint CheckpointState
	Rounds         int
	Skipped        int
	Degraded       int
	Reason         string
}
