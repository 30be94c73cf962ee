package progress

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
)

// MakeDedupeKey returns the canonical identity of an item. It is pure: the
// same itemID always produces the same key, regardless of which list page or
// container surfaced the item. The container only participates when the item
// id is missing (some lists expose items before their canonical id resolves).
// Both ids empty yields "" - callers must treat that as "no identity" and
// never mark it seen.
func MakeDedupeKey(itemID, containerID string) string {
	if id := strings.TrimSpace(itemID); id != "" {
		return "item:" + id
	}
	if c := strings.TrimSpace(containerID); c != "" {
		return "container:" + c
	}
	return ""
}

// Tracker owns all mutable collection state for one session: the seen-set,
// counters and run state. It is the only writer of that session's snapshot,
// and its seen-set only grows for the lifetime of a run.
type Tracker struct {
	store     Store
	sessionID string

	mu            sync.RWMutex
	seen          map[string]struct{}
	keywordIndex  int
	searchRound   int
	collected     int
	lastKeyword   string
	lastItemID    string
	state         State
	stateCallback func(sessionID string, t Transition)
}

// SessionID returns the session this tracker belongs to.
func (t *Tracker) SessionID() string {
	return t.sessionID
}

// Load pulls the last saved snapshot and hydrates the tracker from it.
// Returns (nil, nil) when there is nothing to resume. Hydration is a union:
// keys already marked in this tracker are never dropped.
func (t *Tracker) Load(ctx context.Context) (*domain.ProgressSnapshot, error) {
	snap, err := t.store.Load(ctx, t.sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snap == nil {
		return nil, nil
	}

	t.mu.Lock()
	for _, k := range snap.SeenKeys {
		if k != "" {
			t.seen[k] = struct{}{}
		}
	}
	t.keywordIndex = snap.KeywordIndex
	t.searchRound = snap.SearchRound
	t.collected = snap.CollectedCount
	t.lastKeyword = snap.LastKeyword
	t.lastItemID = snap.LastItemID
	t.mu.Unlock()

	return snap, nil
}

// Seen reports whether a key has already been marked. The empty key is never
// seen.
func (t *Tracker) Seen(key string) bool {
	if key == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.seen[key]
	return ok
}

// MarkSeen adds keys to the seen-set. Empty keys are ignored.
func (t *Tracker) MarkSeen(keys ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range keys {
		if k != "" {
			t.seen[k] = struct{}{}
		}
	}
}

// SeenCount returns the size of the seen-set.
func (t *Tracker) SeenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.seen)
}

// RecordCollected bumps the collected counter and remembers the last item.
func (t *Tracker) RecordCollected(itemID, keyword string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.collected++
	t.lastItemID = itemID
	t.lastKeyword = keyword
}

// CollectedCount returns how many items this run has collected so far.
func (t *Tracker) CollectedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.collected
}

// Position returns the current keyword index and search round.
func (t *Tracker) Position() (keywordIndex, searchRound int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.keywordIndex, t.searchRound
}

// SetKeywordIndex moves the keyword position (when a keyword is exhausted).
func (t *Tracker) SetKeywordIndex(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keywordIndex = idx
}

// AdvanceRound bumps the search round counter and returns the new value.
func (t *Tracker) AdvanceRound() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.searchRound++
	return t.searchRound
}

// Snapshot builds a point-in-time snapshot of the tracker state. SeenKeys are
// sorted so saved files are stable.
func (t *Tracker) Snapshot() *domain.ProgressSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.seen))
	for k := range t.seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return &domain.ProgressSnapshot{
		SessionID:      t.sessionID,
		KeywordIndex:   t.keywordIndex,
		SearchRound:    t.searchRound,
		CollectedCount: t.collected,
		SeenKeys:       keys,
		LastKeyword:    t.lastKeyword,
		LastItemID:     t.lastItemID,
		UpdatedAt:      time.Now().Unix(),
	}
}

// Save persists the current tracker state through the store.
func (t *Tracker) Save(ctx context.Context) error {
	if err := t.store.Save(ctx, t.Snapshot()); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// Cleanup removes the persisted snapshot after a fully successful run,
// signaling "nothing to resume".
func (t *Tracker) Cleanup(ctx context.Context) error {
	return t.store.Delete(ctx, t.sessionID)
}

// State returns the current run state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// SetState transitions the run state, enforcing the state machine.
func (t *Tracker) SetState(to State, reason string) error {
	t.mu.Lock()
	from := t.state
	if from == to {
		t.mu.Unlock()
		return nil
	}
	if !CanTransition(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	t.state = to
	callback := t.stateCallback
	t.mu.Unlock()

	if callback != nil {
		callback(t.sessionID, NewTransition(from, to, reason))
	}
	return nil
}

// SetStateChangeCallback registers a callback for run state changes.
func (t *Tracker) SetStateChangeCallback(fn func(sessionID string, tr Transition)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateCallback = fn
}
