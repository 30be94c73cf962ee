package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/harvester/internal/collect/emitter"
	"github.com/vietddude/harvester/internal/collect/gate"
	"github.com/vietddude/harvester/internal/core/anchor"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/core/progress"
	"github.com/vietddude/harvester/internal/infra/storage/memory"
)

// ============================================================================
// Scripted driver
// ============================================================================

type extractScript struct {
	rec *domain.Record
	err error
}

type scriptedDriver struct {
	mu       sync.Mutex
	items    []domain.ItemRef
	extract  map[string]extractScript // keyed by list id
	current  string
	searches int
	opened   []string
	listErr  error
	delay    time.Duration // per-extract pause, for stop tests
}

func (d *scriptedDriver) Probe(ctx context.Context) (domain.ProbeSignal, error) {
	return domain.ProbeSignal{URL: "https://example.test/search"}, nil
}

func (d *scriptedDriver) Perform(ctx context.Context, a domain.Action) error { return nil }

func (d *scriptedDriver) Search(ctx context.Context, keyword string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.searches++
	return nil
}

func (d *scriptedDriver) ListItems(ctx context.Context, max int) ([]domain.ItemRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	if len(d.items) > max {
		return d.items[:max], nil
	}
	return d.items, nil
}

func (d *scriptedDriver) OpenItem(ctx context.Context, ref domain.ItemRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = ref.ListID
	d.opened = append(d.opened, ref.ListID)
	return nil
}

func (d *scriptedDriver) ExtractDetail(ctx context.Context) (*domain.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	s, ok := d.extract[d.current]
	if !ok {
		return nil, fmt.Errorf("no script for item %s", d.current)
	}
	return s.rec, s.err
}

func (d *scriptedDriver) Screenshot(ctx context.Context) ([]byte, error)  { return nil, nil }
func (d *scriptedDriver) DOMSnapshot(ctx context.Context) (string, error) { return "", nil }
func (d *scriptedDriver) Name() string                                    { return "scripted" }
func (d *scriptedDriver) Close() error                                    { return nil }

func (d *scriptedDriver) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opened)
}

func (d *scriptedDriver) setScript(listID string, s extractScript) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extract[listID] = s
}

// ============================================================================
// Fake anchor machine
// ============================================================================

type fakeMachine struct {
	mu          sync.Mutex
	failDetail  int // fail this many detail ensures, then succeed
	ensureCalls int
}

func (m *fakeMachine) Detect(ctx context.Context) (domain.CheckpointState, error) {
	return domain.CheckpointState{Checkpoint: domain.AnchorSearchReady}, nil
}

func (m *fakeMachine) Ensure(ctx context.Context, target domain.Anchor, opts anchor.EnsureOpts) domain.EnsureResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureCalls++
	if target == domain.AnchorDetailOpen && m.failDetail > 0 {
		m.failDetail--
		return domain.EnsureResult{Success: false, Reached: domain.AnchorUnknown, Detail: "stuck"}
	}
	return domain.EnsureResult{Success: true, From: target, Reached: target}
}

func (m *fakeMachine) InvalidateProbe() {}

// ============================================================================
// Capturing emitter
// ============================================================================

type captureEmitter struct {
	mu      sync.Mutex
	records []*domain.Record
}

func (e *captureEmitter) Emit(ctx context.Context, rec *domain.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, rec)
	return nil
}

func (e *captureEmitter) EmitBatch(ctx context.Context, recs []*domain.Record) error {
	for _, r := range recs {
		if err := e.Emit(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (e *captureEmitter) Close() error { return nil }

func (e *captureEmitter) keys() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int)
	for _, r := range e.records {
		out[r.Key]++
	}
	return out
}

var _ emitter.Emitter = (*captureEmitter)(nil)

// ============================================================================
// Helpers
// ============================================================================

func itemRef(i int) domain.ItemRef {
	return domain.ItemRef{
		ListID:    fmt.Sprintf("item-%d", i),
		Title:     fmt.Sprintf("Item %d", i),
		URL:       fmt.Sprintf("/items/%d", i),
		Container: "results",
	}
}

func okScript(i int) extractScript {
	return extractScript{rec: &domain.Record{
		ItemID: fmt.Sprintf("item-%d", i),
		Title:  fmt.Sprintf("Item %d", i),
		Body:   "body",
	}}
}

func fastConfig(run domain.RunConfig, drv *scriptedDriver, tracker *progress.Tracker, sink *captureEmitter) Config {
	return Config{
		Run:           run,
		Driver:        drv,
		Gate:          gate.NewMemoryGate(gate.Config{MinInterval: time.Millisecond, MaxHold: time.Second}),
		Machine:       &fakeMachine{},
		Tracker:       tracker,
		Emitter:       sink,
		GateWait:      200 * time.Millisecond,
		EnsureTimeout: 50 * time.Millisecond,
		Pacer:         NewPacer(time.Millisecond, 4*time.Millisecond),
	}
}

// ============================================================================
// Tests
// ============================================================================

func TestRunReachesTargetAndCleansUp(t *testing.T) {
	drv := &scriptedDriver{extract: map[string]extractScript{}}
	for i := 1; i <= 5; i++ {
		drv.items = append(drv.items, itemRef(i))
		drv.extract[fmt.Sprintf("item-%d", i)] = okScript(i)
	}

	store := progress.NewMemoryStore()
	tracker := progress.NewTracker(store, "s1")
	sink := &captureEmitter{}

	c := New(fastConfig(domain.RunConfig{
		SessionID: "s1", Keywords: []string{"go"}, Target: 5, MaxRounds: 3,
	}, drv, tracker, sink))

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Aborted {
		t.Fatalf("unexpected abort: %s", res.Reason)
	}
	if res.CollectedCount != 5 {
		t.Errorf("collected = %d, want 5", res.CollectedCount)
	}
	if res.Reason != "target reached" {
		t.Errorf("reason = %q, want target reached", res.Reason)
	}
	if tracker.State() != progress.StateCompleted {
		t.Errorf("state = %s, want completed", tracker.State())
	}

	// Successful completion deletes the snapshot: nothing to resume.
	snap, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap != nil {
		t.Error("snapshot still present after successful run")
	}
}

// The §8-style scenario: ten items, one degrades, one aborts the run, and the
// resumed session finishes the job without re-emitting anything.
func TestDegradeAbortThenResume(t *testing.T) {
	drv := &scriptedDriver{extract: map[string]extractScript{}}
	for i := 1; i <= 10; i++ {
		drv.items = append(drv.items, itemRef(i))
		drv.extract[fmt.Sprintf("item-%d", i)] = okScript(i)
	}
	// Item 4: comments failed but the required fields extracted.
	drv.setScript("item-4", extractScript{
		rec: &domain.Record{ItemID: "item-4", Title: "Item 4", Body: "body"},
		err: errors.New("comments timeout"),
	})
	// Item 7: systemic failure.
	drv.setScript("item-7", extractScript{err: errors.New("auth expired")})

	store := progress.NewMemoryStore()
	sink := &captureEmitter{}
	run := domain.RunConfig{SessionID: "s2", Keywords: []string{"go"}, Target: 10, MaxRounds: 5}

	c := New(fastConfig(run, drv, progress.NewTracker(store, "s2"), sink))
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Aborted {
		t.Fatal("expected abort on auth expired")
	}
	if res.CollectedCount != 6 {
		t.Errorf("collected = %d, want 6 (items 1-6)", res.CollectedCount)
	}
	if res.Degraded != 1 {
		t.Errorf("degraded = %d, want 1", res.Degraded)
	}

	// The abort forced a final save.
	snap, err := store.Load(context.Background(), "s2")
	if err != nil || snap == nil {
		t.Fatalf("snapshot after abort: %v %v", snap, err)
	}
	if snap.CollectedCount != 6 {
		t.Errorf("persisted collected = %d, want 6", snap.CollectedCount)
	}

	// Second run, same session: the auth problem is fixed upstream.
	drv.setScript("item-7", okScript(7))
	c2 := New(fastConfig(run, drv, progress.NewTracker(store, "s2"), sink))
	res2, err := c2.Run(context.Background())
	if err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	if res2.Aborted {
		t.Fatalf("resume aborted: %s", res2.Reason)
	}
	if res2.CollectedCount != 10 {
		t.Errorf("resumed collected = %d, want 10", res2.CollectedCount)
	}

	// Ten distinct keys, each emitted exactly once across both runs.
	keys := sink.keys()
	if len(keys) != 10 {
		t.Errorf("distinct keys = %d, want 10", len(keys))
	}
	for k, n := range keys {
		if n != 1 {
			t.Errorf("key %s emitted %d times", k, n)
		}
	}

	// Degraded record kept its extracted fields and the flag.
	var degraded *domain.Record
	for _, r := range sink.records {
		if r.Degraded {
			degraded = r
		}
	}
	if degraded == nil {
		t.Fatal("no degraded record emitted")
	}
	if degraded.ItemID != "item-4" || degraded.Title == "" {
		t.Errorf("degraded record = %+v", degraded)
	}
}

func TestGateTimeoutRetriesRoundInsteadOfFailing(t *testing.T) {
	drv := &scriptedDriver{
		items:   []domain.ItemRef{itemRef(1)},
		extract: map[string]extractScript{"item-1": okScript(1)},
	}

	g := gate.NewMemoryGate(gate.Config{MinInterval: time.Millisecond, MaxHold: time.Minute})
	defer g.Close()

	// Someone else holds the lease for a while.
	held := g.WaitForPermit(context.Background(), "other", 0)
	if !held.Granted {
		t.Fatal("setup: could not take lease")
	}

	store := progress.NewMemoryStore()
	sink := &captureEmitter{}
	cfg := fastConfig(domain.RunConfig{
		SessionID: "s3", Keywords: []string{"go"}, Target: 1, MaxRounds: 10,
	}, drv, progress.NewTracker(store, "s3"), sink)
	cfg.Gate = g
	cfg.GateWait = 20 * time.Millisecond

	done := make(chan domain.RunResult, 1)
	go func() {
		res, _ := New(cfg).Run(context.Background())
		done <- res
	}()

	// Let the collector eat at least one gate timeout before releasing.
	time.Sleep(60 * time.Millisecond)
	if err := g.Release(context.Background(), held.LeaseID); err != nil {
		t.Fatalf("release: %v", err)
	}

	select {
	case res := <-done:
		if res.Aborted {
			t.Fatalf("gate contention aborted the run: %s", res.Reason)
		}
		if res.CollectedCount != 1 {
			t.Errorf("collected = %d, want 1", res.CollectedCount)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after lease release")
	}
}

func TestCanonicalDedupeCountsOnce(t *testing.T) {
	// Two list entries resolving to the same canonical item.
	drv := &scriptedDriver{
		items: []domain.ItemRef{
			{ListID: "a", Container: "results"},
			{ListID: "a-mirror", Container: "results"},
		},
		extract: map[string]extractScript{
			"a":        {rec: &domain.Record{ItemID: "canon-1", Title: "A", Body: "b"}},
			"a-mirror": {rec: &domain.Record{ItemID: "canon-1", Title: "A again", Body: "b"}},
		},
	}

	store := progress.NewMemoryStore()
	sink := &captureEmitter{}
	c := New(fastConfig(domain.RunConfig{
		SessionID: "s4", Keywords: []string{"go"}, Target: 5, MaxRounds: 3,
	}, drv, progress.NewTracker(store, "s4"), sink))

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.CollectedCount != 1 {
		t.Errorf("collected = %d, want 1", res.CollectedCount)
	}
	if len(sink.records) != 1 {
		t.Errorf("emitted = %d, want 1", len(sink.records))
	}
	// Both rounds ran out of new items, so the keyword was exhausted.
	if res.Reason != "keywords exhausted" {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestSeenItemsAreNotReopened(t *testing.T) {
	drv := &scriptedDriver{
		items:   []domain.ItemRef{itemRef(1), itemRef(2)},
		extract: map[string]extractScript{"item-1": okScript(1), "item-2": okScript(2)},
	}

	store := progress.NewMemoryStore()
	tracker := progress.NewTracker(store, "s5")
	tracker.MarkSeen(progress.MakeDedupeKey("item-1", "results"))

	sink := &captureEmitter{}
	c := New(fastConfig(domain.RunConfig{
		SessionID: "s5", Keywords: []string{"go"}, Target: 2, MaxRounds: 2,
	}, drv, tracker, sink))

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.CollectedCount != 1 {
		t.Errorf("collected = %d, want 1 new item", res.CollectedCount)
	}
	for _, id := range drv.opened {
		if id == "item-1" {
			t.Error("pre-seen item was opened; dedupe must run before the detail view")
		}
	}
}

func TestSkippedItemRecordedNotSeen(t *testing.T) {
	drv := &scriptedDriver{
		items: []domain.ItemRef{itemRef(1)},
		extract: map[string]extractScript{
			"item-1": {err: errors.New("malformed detail page")},
		},
	}

	ms := memory.NewMemoryStorage()
	failedRepo := memory.NewFailedRepo(ms)
	store := progress.NewMemoryStore()
	tracker := progress.NewTracker(store, "s6")
	sink := &captureEmitter{}

	cfg := fastConfig(domain.RunConfig{
		SessionID: "s6", Keywords: []string{"go"}, Target: 1, MaxRounds: 1,
	}, drv, tracker, sink)
	cfg.Failed = failedRepoRecorder{repo: failedRepo}

	res, err := New(cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.CollectedCount != 0 {
		t.Errorf("collected = %d, want 0", res.CollectedCount)
	}
	if res.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", res.Skipped)
	}

	n, err := failedRepo.Count(context.Background(), "s6")
	if err != nil || n != 1 {
		t.Errorf("failed items = %d (%v), want 1", n, err)
	}
	// Not marked seen: a future run may retry it.
	if tracker.Seen(progress.MakeDedupeKey("item-1", "results")) {
		t.Error("skipped item was marked seen")
	}
}

func TestStopPausesAndPersists(t *testing.T) {
	drv := &scriptedDriver{extract: map[string]extractScript{}, delay: 2 * time.Millisecond}
	for i := 1; i <= 50; i++ {
		drv.items = append(drv.items, itemRef(i))
		drv.extract[fmt.Sprintf("item-%d", i)] = okScript(i)
	}

	store := progress.NewMemoryStore()
	sink := &captureEmitter{}
	c := New(fastConfig(domain.RunConfig{
		SessionID: "s7", Keywords: []string{"go"}, Target: 50, MaxRounds: 10, SaveEvery: 1,
	}, drv, progress.NewTracker(store, "s7"), sink))

	done := make(chan domain.RunResult, 1)
	go func() {
		res, _ := c.Run(context.Background())
		done <- res
	}()

	time.Sleep(30 * time.Millisecond)
	c.Stop()

	select {
	case res := <-done:
		if res.Aborted {
			t.Fatalf("stop reported as abort: %s", res.Reason)
		}
		snap, err := store.Load(context.Background(), "s7")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if res.CollectedCount > 0 && snap == nil {
			t.Error("stop with progress left no snapshot")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not end the run")
	}
}

// failedRepoRecorder adapts the repository to the recorder interface the
// collector takes, the same wiring control uses via recovery.Handler.
type failedRepoRecorder struct {
	repo *memory.FailedRepo
}

func (r failedRepoRecorder) HandleFailure(ctx context.Context, sessionID, key, keyword, stage string, cause error) error {
	return r.repo.Add(ctx, &domain.FailedItem{
		ID:        key,
		SessionID: sessionID,
		Key:       key,
		Keyword:   keyword,
		Stage:     stage,
		Error:     cause.Error(),
		Status:    domain.FailedItemStatusPending,
	})
}
