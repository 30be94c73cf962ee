package progress

import (
	"errors"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
)

// State is an alias for domain.RunState for internal use.
type State = domain.RunState

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed run state transitions.
// Key is the current state, value is the list of valid next states.
// Completed and aborted are terminal and have no entries.
var ValidTransitions = map[State][]State{
	domain.RunStatePending: {domain.RunStateRunning},
	domain.RunStateRunning: {
		domain.RunStatePaused,
		domain.RunStateCompleted,
		domain.RunStateAborted,
	},
	domain.RunStatePaused: {domain.RunStateRunning, domain.RunStateAborted},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	validTargets, ok := ValidTransitions[from]
	if !ok {
		return false
	}

	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a run state change with metadata.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case domain.RunStatePending:
		return "Pending - run created, not yet started"
	case domain.RunStateRunning:
		return "Running - collect loop in progress"
	case domain.RunStatePaused:
		return "Paused - stopped by operator"
	case domain.RunStateCompleted:
		return "Completed - target reached or keywords exhausted"
	case domain.RunStateAborted:
		return "Aborted - systemic failure, progress persisted"
	default:
		return "Unknown state"
	}
}
