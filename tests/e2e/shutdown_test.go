package e2e

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/harvester/internal/control"
	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/browser"
)

// TestGracefulShutdown interrupts a long run the way the CLI does on SIGTERM
// and checks the contract: the session pauses at an item boundary, the
// snapshot is flushed, and a later process picks it up without losing or
// duplicating work.
func TestGracefulShutdown(t *testing.T) {
	stateDir := t.TempDir()
	site := newFakeSite(200)
	site.delay = 2 * time.Millisecond
	factory := func(cfg config.AppConfig, profile config.Profile) (browser.Driver, error) {
		return site, nil
	}

	cfg := baseConfig(t, stateDir, 200)
	cfg.Collect.MaxRounds = 1000

	app, err := control.NewHarvesterWith(cfg, factory)
	if err != nil {
		t.Fatalf("NewHarvesterWith: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let it collect a handful of items, then pull the plug.
	time.Sleep(30 * time.Millisecond)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	results := app.Wait(stopCtx)

	r := results[0]
	if r.Err != nil {
		t.Fatalf("session error: %v", r.Err)
	}
	if r.Result.Aborted {
		t.Fatal("shutdown must pause, not abort")
	}
	if r.Result.CollectedCount == 0 {
		t.Fatal("expected some items collected before shutdown")
	}
	if r.Result.CollectedCount >= 200 {
		t.Fatal("run finished before shutdown; test needs a slower driver")
	}

	// Snapshot must match what the run reported.
	snapPath := filepath.Join(stateDir, "e2e-session.json")
	data, err := os.ReadFile(snapPath)
	if err != nil {
		t.Fatalf("snapshot not flushed: %v", err)
	}
	var snap domain.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("snapshot unreadable: %v", err)
	}
	if snap.CollectedCount != r.Result.CollectedCount {
		t.Errorf("snapshot collected = %d, run reported %d", snap.CollectedCount, r.Result.CollectedCount)
	}
	if len(snap.SeenKeys) < snap.CollectedCount {
		t.Errorf("snapshot has %d seen keys for %d collected items", len(snap.SeenKeys), snap.CollectedCount)
	}

	// Resume and finish.
	site.delay = 0
	app2, err := control.NewHarvesterWith(baseConfig(t, stateDir, 200), factory)
	if err != nil {
		t.Fatalf("NewHarvesterWith (resume): %v", err)
	}
	if err := app2.Start(ctx); err != nil {
		t.Fatalf("Start (resume): %v", err)
	}
	results2 := app2.Wait(ctx)
	if err := app2.Stop(ctx); err != nil {
		t.Fatalf("Stop (resume): %v", err)
	}

	second := results2[0]
	if second.Err != nil || second.Result.Aborted {
		t.Fatalf("resume failed: err=%v result=%+v", second.Err, second.Result)
	}
	if second.Result.CollectedCount != 200 {
		t.Errorf("resume collected = %d, want 200", second.Result.CollectedCount)
	}
}
