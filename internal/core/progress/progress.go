// Package progress tracks the collection position for each session.
//
// # Purpose
//
// The tracker acts as a "bookmark" that remembers where a session's collect
// loop is, so a killed run resumes without lost or duplicated work:
//   - Keyword index / search round: know where the next round starts
//   - Seen keys: canonical item identities already collected or in flight
//   - Collected count: how far toward the target the run has progressed
//
// # Key Features
//
// Atomic Snapshots - Save writes a temporary file and renames it into place,
// so a crash mid-write never corrupts the last good snapshot.
//
// Deduplication - MakeDedupeKey gives every item one canonical identity; an
// item contributes to the collected count at most once across any number of
// resumes of the same session.
//
// State Machine - Session runs only move along valid transitions:
//
//	PENDING → RUNNING → COMPLETED (valid)
//	COMPLETED → RUNNING (invalid - completed is terminal)
//
// # Quick Start
//
//	store, _ := progress.NewFileStore("/var/lib/harvester/state")
//	tracker := progress.NewTracker(store, "session-a")
//
//	// Resume from the last snapshot, if any
//	snap, _ := tracker.Load(ctx)
//	if snap != nil {
//	    log.Printf("resuming at round %d", snap.SearchRound)
//	}
//
//	// Dedupe before paying for a detail view
//	key := progress.MakeDedupeKey(ref.ListID, ref.Container)
//	if tracker.Seen(key) {
//	    continue
//	}
//
//	// After a successful extract
//	tracker.MarkSeen(key)
//	tracker.RecordCollected(rec.ItemID, rec.Keyword)
//	tracker.Save(ctx)
//
// # Package Structure
//
//   - state.go   - Run state machine definitions and valid transitions
//   - store.go   - Snapshot stores (atomic file store, in-memory store)
//   - tracker.go - Tracker implementation with seen-set and dedupe keys
package progress

import "github.com/vietddude/harvester/internal/core/domain"

// =============================================================================
// Re-exported types from domain package
// =============================================================================

// Snapshot is the persisted unit of resumability.
type Snapshot = domain.ProgressSnapshot

// RunState represents the lifecycle state of a session run.
type RunState = domain.RunState

// State constants re-exported for convenience.
const (
	StatePending   = domain.RunStatePending
	StateRunning   = domain.RunStateRunning
	StatePaused    = domain.RunStatePaused
	StateCompleted = domain.RunStateCompleted
	StateAborted   = domain.RunStateAborted
)

// =============================================================================
// Constructor functions
// =============================================================================

// NewTracker creates a tracker for one session backed by the given store.
func NewTracker(store Store, sessionID string) *Tracker {
	return &Tracker{
		store:     store,
		sessionID: sessionID,
		seen:      make(map[string]struct{}),
		state:     domain.RunStatePending,
	}
}
