package progress

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/vietddude/harvester/internal/core/domain"
)

// =============================================================================
// Dedupe Key Tests
// =============================================================================

func TestMakeDedupeKey(t *testing.T) {
	tests := []struct {
		name        string
		itemID      string
		containerID string
		expected    string
	}{
		{"item id only", "abc123", "", "item:abc123"},
		{"item id wins over container", "abc123", "page-2", "item:abc123"},
		{"same item different container", "abc123", "page-9", "item:abc123"},
		{"whitespace trimmed", "  abc123 ", "", "item:abc123"},
		{"container fallback", "", "page-2", "container:page-2"},
		{"both empty", "", "", ""},
		{"whitespace only", "   ", " ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MakeDedupeKey(tt.itemID, tt.containerID)
			if got != tt.expected {
				t.Errorf("MakeDedupeKey(%q, %q) = %q, want %q",
					tt.itemID, tt.containerID, got, tt.expected)
			}
		})
	}
}

func TestMakeDedupeKeyOrderIndependent(t *testing.T) {
	// The same item surfaced by two different list pages must collapse to
	// one key.
	a := MakeDedupeKey("note-42", "results-page-1")
	b := MakeDedupeKey("note-42", "results-page-7")
	if a != b {
		t.Errorf("expected identical keys, got %q and %q", a, b)
	}
}

// =============================================================================
// Store Round-Trip Tests
// =============================================================================

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	ctx := context.Background()
	snap := &domain.ProgressSnapshot{
		SessionID:      "session-a",
		KeywordIndex:   2,
		SearchRound:    5,
		CollectedCount: 17,
		SeenKeys:       []string{"item:a", "item:b", "item:c"},
		LastKeyword:    "hiking boots",
		LastItemID:     "c",
		UpdatedAt:      1700000000,
	}

	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "session-a")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected snapshot, got nil")
	}
	if !reflect.DeepEqual(snap, loaded) {
		t.Errorf("round-trip mismatch:\n save: %+v\n load: %+v", snap, loaded)
	}
}

func TestFileStoreLoadMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	snap, err := store.Load(context.Background(), "never-saved")
	if err != nil {
		t.Fatalf("Load of missing snapshot returned error: %v", err)
	}
	if snap != nil {
		t.Errorf("expected nil snapshot, got %+v", snap)
	}
}

func TestFileStoreSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	snap := &domain.ProgressSnapshot{SessionID: "session-a", SeenKeys: []string{}}
	if err := store.Save(context.Background(), snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "session-a.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
	if _, err := os.Stat(filepath.Join(dir, "session-a.json")); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}
}

func TestFileStoreDelete(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	snap := &domain.ProgressSnapshot{SessionID: "session-a", SeenKeys: []string{}}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, "session-a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	loaded, err := store.Load(ctx, "session-a")
	if err != nil || loaded != nil {
		t.Errorf("expected (nil, nil) after delete, got (%+v, %v)", loaded, err)
	}

	// Deleting again is not an error.
	if err := store.Delete(ctx, "session-a"); err != nil {
		t.Errorf("second Delete returned error: %v", err)
	}
}

// =============================================================================
// Tracker Tests
// =============================================================================

func TestTrackerSeenMonotonic(t *testing.T) {
	tracker := NewTracker(NewMemoryStore(), "session-a")

	tracker.MarkSeen("item:1", "item:2")
	tracker.MarkSeen("item:2", "item:3")
	tracker.MarkSeen("") // ignored

	if n := tracker.SeenCount(); n != 3 {
		t.Errorf("SeenCount = %d, want 3", n)
	}
	for _, k := range []string{"item:1", "item:2", "item:3"} {
		if !tracker.Seen(k) {
			t.Errorf("expected %s to be seen", k)
		}
	}
	if tracker.Seen("") {
		t.Error("empty key must never be seen")
	}
}

func TestTrackerSaveLoadResume(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := NewTracker(store, "session-a")
	first.MarkSeen("item:1", "item:2")
	first.RecordCollected("1", "boots")
	first.RecordCollected("2", "boots")
	first.AdvanceRound()
	if err := first.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// A new tracker over the same store resumes where the first left off.
	second := NewTracker(store, "session-a")
	snap, err := second.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap == nil {
		t.Fatal("expected snapshot to resume from")
	}
	if snap.CollectedCount != 2 {
		t.Errorf("CollectedCount = %d, want 2", snap.CollectedCount)
	}
	if !second.Seen("item:1") || !second.Seen("item:2") {
		t.Error("seen keys not hydrated on resume")
	}
	if second.CollectedCount() != 2 {
		t.Errorf("tracker CollectedCount = %d, want 2", second.CollectedCount())
	}
	if _, round := second.Position(); round != 1 {
		t.Errorf("SearchRound = %d, want 1", round)
	}
}

func TestTrackerCleanup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tracker := NewTracker(store, "session-a")
	tracker.MarkSeen("item:1")
	if err := tracker.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := tracker.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	fresh := NewTracker(store, "session-a")
	snap, err := fresh.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap != nil {
		t.Errorf("expected nothing to resume after cleanup, got %+v", snap)
	}
	if fresh.SeenCount() != 0 {
		t.Error("fresh run must start with an empty seen-set")
	}
}

func TestTrackerSnapshotSorted(t *testing.T) {
	tracker := NewTracker(NewMemoryStore(), "session-a")
	tracker.MarkSeen("item:c", "item:a", "item:b")

	snap := tracker.Snapshot()
	want := []string{"item:a", "item:b", "item:c"}
	if !reflect.DeepEqual(snap.SeenKeys, want) {
		t.Errorf("SeenKeys = %v, want %v", snap.SeenKeys, want)
	}
}

// =============================================================================
// Run State Tests
// =============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     State
		to       State
		expected bool
	}{
		{"pending to running", domain.RunStatePending, domain.RunStateRunning, true},
		{"pending to completed", domain.RunStatePending, domain.RunStateCompleted, false},
		{"running to completed", domain.RunStateRunning, domain.RunStateCompleted, true},
		{"running to aborted", domain.RunStateRunning, domain.RunStateAborted, true},
		{"running to paused", domain.RunStateRunning, domain.RunStatePaused, true},
		{"paused to running", domain.RunStatePaused, domain.RunStateRunning, true},
		{"paused to completed", domain.RunStatePaused, domain.RunStateCompleted, false},
		{"completed is terminal", domain.RunStateCompleted, domain.RunStateRunning, false},
		{"aborted is terminal", domain.RunStateAborted, domain.RunStateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CanTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTrackerSetState(t *testing.T) {
	tracker := NewTracker(NewMemoryStore(), "session-a")

	var transitions []Transition
	tracker.SetStateChangeCallback(func(sessionID string, tr Transition) {
		transitions = append(transitions, tr)
	})

	if err := tracker.SetState(StateRunning, "run started"); err != nil {
		t.Fatalf("SetState to running failed: %v", err)
	}
	if err := tracker.SetState(StateCompleted, "target reached"); err != nil {
		t.Fatalf("SetState to completed failed: %v", err)
	}

	// Completed is terminal.
	if err := tracker.SetState(StateRunning, "restart"); err == nil {
		t.Error("expected invalid transition error from completed state")
	}

	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(transitions))
	}
	if transitions[0].To != StateRunning || transitions[1].To != StateCompleted {
		t.Errorf("unexpected transition order: %+v", transitions)
	}
}
