// Package collector runs the collect loop for one session.
//
// # Purpose
//
// The collector is the orchestrator: it owns the fixed round shape
//
//	acquire permit → search → enumerate → per item (dedupe → ensure detail →
//	extract → ensure list → record) → save progress → next round
//
// and composes the gate, the anchor machine, the tracker, the classifier and
// the driver into one sequential loop. Everything inside a session is
// strictly ordered because every step depends on browser state mutated by the
// previous one; only the gate is shared between sessions.
//
// # Failure routing
//
// Expected failures never abort the loop by themselves. Each error goes
// through the classifier exactly once and the verdict decides: retry is
// handled inside CallWithRetry, skip records a failed item and moves on,
// degrade keeps a reduced record, abort saves progress and returns a
// RunResult with Aborted set. A gate timeout is none of these - the round
// backs off and is retried.
//
// # Package Structure
//
//   - collector.go - Config, round loop, termination and resume
//   - item.go      - per-item processing
//   - pacer.go     - adaptive cooldown between rounds
//   - runall.go    - errgroup runner for multiple sessions
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/harvester/internal/collect/emitter"
	"github.com/vietddude/harvester/internal/collect/gate"
	"github.com/vietddude/harvester/internal/collect/metrics"
	"github.com/vietddude/harvester/internal/collect/recovery"
	"github.com/vietddude/harvester/internal/core/anchor"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/core/progress"
	"github.com/vietddude/harvester/internal/infra/browser"
	"github.com/vietddude/harvester/internal/infra/storage"
)

// StateMachine is the slice of the anchor machine the loop needs. The
// concrete *anchor.Machine satisfies it; tests substitute fakes.
type StateMachine interface {
	Detect(ctx context.Context) (domain.CheckpointState, error)
	Ensure(ctx context.Context, target domain.Anchor, opts anchor.EnsureOpts) domain.EnsureResult
	InvalidateProbe()
}

// Config wires one collector. Driver, Gate, Tracker and Machine are
// mandatory; the rest degrade gracefully when nil.
type Config struct {
	Run domain.RunConfig

	Driver  browser.Driver
	Gate    gate.Gate
	Machine StateMachine
	Tracker *progress.Tracker

	// Budget caps daily searches; nil means unlimited.
	Budget *gate.BudgetTracker

	// Emitter streams collected records; nil means storage only.
	Emitter emitter.Emitter

	// Records and Runs persist output and run history; nil skips persistence.
	Records storage.RecordRepository
	Runs    storage.RunRepository

	// Failed receives items that were skipped or exhausted retries so the
	// reprocessor can replay them.
	Failed recovery.FailedItemRecorder

	Retry recovery.RetryConfig

	// GateWait bounds one permit wait; elapsing retries the round after a
	// cooldown, it is never an item or task failure.
	GateWait time.Duration

	// EnsureTimeout bounds each anchor recovery inside the loop.
	EnsureTimeout time.Duration

	// ListAnchor is where enumeration happens, DetailAnchor is where
	// extraction happens.
	ListAnchor   domain.Anchor
	DetailAnchor domain.Anchor

	Pacer *Pacer
}

func (c Config) withDefaults() Config {
	if c.Retry.MaxAttempts == 0 {
		c.Retry = recovery.DefaultRetryConfig
	}
	if c.GateWait <= 0 {
		c.GateWait = 30 * time.Second
	}
	if c.EnsureTimeout <= 0 {
		c.EnsureTimeout = 20 * time.Second
	}
	if c.ListAnchor == "" {
		c.ListAnchor = domain.AnchorSearchReady
	}
	if c.DetailAnchor == "" {
		c.DetailAnchor = domain.AnchorDetailOpen
	}
	if c.Run.PerSearchMax <= 0 {
		c.Run.PerSearchMax = 20
	}
	if c.Run.MaxRounds <= 0 {
		c.Run.MaxRounds = 50
	}
	if c.Run.SaveEvery <= 0 {
		c.Run.SaveEvery = 5
	}
	if c.Pacer == nil {
		c.Pacer = NewPacer(2*time.Second, 2*time.Minute)
	}
	return c
}

// Collector drives the collect loop for one session.
type Collector struct {
	cfg     Config
	running atomic.Bool
	stop    chan struct{}
	log     *slog.Logger
}

// New creates a collector. The tracker's session id is the loop's identity.
func New(cfg Config) *Collector {
	cfg = cfg.withDefaults()
	return &Collector{
		cfg:  cfg,
		stop: make(chan struct{}),
		log:  slog.Default().With("component", "collector", "session", cfg.Run.SessionID),
	}
}

// Stop asks a running loop to pause at the next boundary. Progress is saved
// before Run returns, so the session resumes where it left off.
func (c *Collector) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

// SessionID returns the session this collector works for.
func (c *Collector) SessionID() string {
	return c.cfg.Run.SessionID
}

// Run executes the collect loop until the target is reached, the keywords or
// rounds are exhausted, the run aborts, or the caller stops it. Expected
// outcomes come back in the RunResult; the error return is for
// programming-error-class failures only.
func (c *Collector) Run(ctx context.Context) (domain.RunResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return domain.RunResult{}, fmt.Errorf("collector %s already running", c.cfg.Run.SessionID)
	}
	defer c.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	tracker := c.cfg.Tracker
	snap, err := tracker.Load(ctx)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("failed to load progress: %w", err)
	}
	if snap != nil {
		c.log.Info("resuming from snapshot",
			"keyword_index", snap.KeywordIndex,
			"round", snap.SearchRound,
			"collected", snap.CollectedCount,
			"seen", len(snap.SeenKeys))
	}
	if err := tracker.SetState(progress.StateRunning, "run started"); err != nil {
		return domain.RunResult{}, err
	}

	run := &domain.SessionRun{
		ID:        uuid.New().String(),
		SessionID: c.cfg.Run.SessionID,
		State:     domain.RunStateRunning,
		Target:    c.cfg.Run.Target,
		StartedAt: time.Now().Unix(),
	}
	if c.cfg.Runs != nil {
		if err := c.cfg.Runs.Create(ctx, run); err != nil {
			return domain.RunResult{}, fmt.Errorf("failed to create run: %w", err)
		}
	}

	result := domain.RunResult{}
	var reason string
	var abortErr error
	sinceSave := 0

rounds:
	for {
		if ctx.Err() != nil {
			reason = "stopped"
			break
		}

		kwIdx, round := tracker.Position()
		switch {
		case c.cfg.Run.Target > 0 && tracker.CollectedCount() >= c.cfg.Run.Target:
			reason = "target reached"
			break rounds
		case kwIdx >= len(c.cfg.Run.Keywords):
			reason = "keywords exhausted"
			break rounds
		case round >= c.cfg.Run.MaxRounds:
			reason = "max rounds exhausted"
			break rounds
		case c.cfg.Budget != nil && c.cfg.Budget.Exhausted():
			reason = "search budget exhausted"
			break rounds
		}
		keyword := c.cfg.Run.Keywords[kwIdx]

		// Admission: one search at a time across all sessions. A timeout
		// here is backpressure, not a failure - cool down and retry.
		waitStart := time.Now()
		permit := c.cfg.Gate.WaitForPermit(ctx, c.cfg.Run.SessionID, c.cfg.GateWait)
		metrics.GateWaitSeconds.Observe(time.Since(waitStart).Seconds())
		metrics.GateQueueDepth.Set(float64(c.cfg.Gate.Stats().QueueDepth))
		if !permit.Granted {
			if ctx.Err() != nil {
				continue
			}
			metrics.GateTimeouts.Inc()
			c.log.Warn("no search permit, cooling down", "reason", permit.Reason)
			c.cfg.Pacer.Backoff()
			c.cfg.Pacer.Wait(ctx)
			continue
		}
		metrics.GateGrants.Inc()

		_, verdict, err := recovery.CallWithRetry(ctx, recovery.StageSearch,
			func(ctx context.Context) (any, error) {
				return nil, c.cfg.Driver.Search(ctx, keyword)
			}, c.cfg.Retry)
		if relErr := c.cfg.Gate.Release(ctx, permit.LeaseID); relErr != nil && !errors.Is(relErr, gate.ErrNotHolder) {
			c.log.Warn("permit release failed", "error", relErr)
		}
		c.cfg.Machine.InvalidateProbe()
		if err != nil {
			if verdict.Action == domain.ActionAbortTask {
				abortErr = err
				break
			}
			c.log.Warn("search failed, retrying round", "keyword", keyword, "error", err)
			c.cfg.Pacer.Backoff()
			c.cfg.Pacer.Wait(ctx)
			continue
		}
		if c.cfg.Budget != nil {
			c.cfg.Budget.RecordSearch()
			metrics.SearchBudgetUsed.Set(float64(c.cfg.Budget.Stats().Used))
		}

		round = tracker.AdvanceRound()
		metrics.RoundsTotal.WithLabelValues(c.cfg.Run.SessionID).Inc()
		c.log.Info("round started", "round", round, "keyword", keyword,
			"collected", tracker.CollectedCount(), "target", c.cfg.Run.Target)

		// The search should have left us on the results list; make sure.
		listRes := c.ensure(ctx, c.cfg.ListAnchor, false, "round start")
		if !listRes.Success {
			c.log.Warn("results list not reachable after search", "detail", listRes.Detail)
			c.saveProgress(ctx)
			c.cfg.Pacer.Backoff()
			c.cfg.Pacer.Wait(ctx)
			continue
		}

		out, verdict, err := recovery.CallWithRetry(ctx, recovery.StageEnumerate,
			func(ctx context.Context) (any, error) {
				return c.cfg.Driver.ListItems(ctx, c.cfg.Run.PerSearchMax)
			}, c.cfg.Retry)
		if err != nil {
			if verdict.Action == domain.ActionAbortTask {
				abortErr = err
				break
			}
			c.log.Warn("enumeration failed, retrying round", "error", err)
			c.cfg.Pacer.Backoff()
			c.cfg.Pacer.Wait(ctx)
			continue
		}
		refs := out.([]domain.ItemRef)

		newInRound := 0
		roundLost := false
		for _, ref := range refs {
			if ctx.Err() != nil {
				break
			}
			if c.cfg.Run.Target > 0 && tracker.CollectedCount() >= c.cfg.Run.Target {
				break
			}

			ir := c.processItem(ctx, keyword, ref)
			if ir.abortErr != nil {
				abortErr = ir.abortErr
				break rounds
			}
			if ir.collected {
				newInRound++
				sinceSave++
				if ir.degraded {
					result.Degraded++
				}
				if sinceSave >= c.cfg.Run.SaveEvery {
					c.saveProgress(ctx)
					sinceSave = 0
				}
			}
			if ir.skipped {
				result.Skipped++
			}
			if ir.roundLost {
				roundLost = true
				break
			}
		}

		// A keyword that yields nothing new is exhausted; move on.
		if newInRound == 0 && ctx.Err() == nil {
			tracker.SetKeywordIndex(kwIdx + 1)
		}

		c.saveProgress(ctx)
		sinceSave = 0

		if roundLost {
			c.cfg.Pacer.Backoff()
		} else {
			c.cfg.Pacer.Relax()
		}
		c.log.Info("round finished", "round", round, "new", newInRound,
			"collected", tracker.CollectedCount(), "cooldown", c.cfg.Pacer.Current())
		c.cfg.Pacer.Wait(ctx)
	}

	return c.finish(ctx, run, result, reason, abortErr)
}

// finish persists the terminal state and builds the RunResult. Abort forces
// a final save so the snapshot reflects everything collected before the
// systemic failure.
func (c *Collector) finish(
	ctx context.Context,
	run *domain.SessionRun,
	result domain.RunResult,
	reason string,
	abortErr error,
) (domain.RunResult, error) {
	tracker := c.cfg.Tracker

	// Terminal bookkeeping still has to run when ctx is already canceled.
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if cp, err := c.cfg.Machine.Detect(finCtx); err == nil {
		result.LastCheckpoint = cp
	}
	result.CollectedCount = tracker.CollectedCount()
	_, result.Rounds = tracker.Position()

	var state progress.State
	switch {
	case abortErr != nil:
		result.Aborted = true
		result.Reason = abortErr.Error()
		state = progress.StateAborted
		run.LastError = abortErr.Error()
		metrics.RunsAborted.WithLabelValues(c.cfg.Run.SessionID).Inc()
		c.saveProgress(finCtx)
		c.log.Error("run aborted", "error", abortErr,
			"collected", result.CollectedCount, "checkpoint", result.LastCheckpoint.Checkpoint)

	case reason == "target reached" || reason == "keywords exhausted":
		result.Reason = reason
		state = progress.StateCompleted
		if err := tracker.Cleanup(finCtx); err != nil {
			c.log.Warn("snapshot cleanup failed", "error", err)
		}
		c.log.Info("run completed", "reason", reason, "collected", result.CollectedCount)

	default:
		// Stopped or out of rounds/budget: resumable, keep the snapshot.
		result.Reason = reason
		state = progress.StatePaused
		c.saveProgress(finCtx)
		c.log.Info("run paused", "reason", reason, "collected", result.CollectedCount)
	}

	if err := tracker.SetState(state, result.Reason); err != nil {
		c.log.Warn("state transition rejected", "to", state, "error", err)
	}

	run.State = tracker.State()
	run.Collected = result.CollectedCount
	run.Rounds = result.Rounds
	run.FinishedAt = time.Now().Unix()
	if c.cfg.Runs != nil {
		if err := c.cfg.Runs.Update(finCtx, run); err != nil {
			c.log.Warn("run update failed", "error", err)
		}
	}
	return result, nil
}

// ensure wraps the machine call with metrics.
func (c *Collector) ensure(ctx context.Context, target domain.Anchor, allowAncestor bool, stage string) domain.EnsureResult {
	started := time.Now()
	res := c.cfg.Machine.Ensure(ctx, target, anchor.EnsureOpts{
		Timeout:       c.cfg.EnsureTimeout,
		AllowAncestor: allowAncestor,
		Stage:         stage,
	})
	outcome := "failure"
	if res.Success {
		outcome = "success"
	}
	metrics.EnsureAttempts.WithLabelValues(string(target), outcome).Inc()
	metrics.EnsureDuration.WithLabelValues(string(target)).Observe(time.Since(started).Seconds())
	return res
}

func (c *Collector) saveProgress(ctx context.Context) {
	if err := c.cfg.Tracker.Save(ctx); err != nil {
		c.log.Error("progress save failed", "error", err)
		return
	}
	metrics.SnapshotSaves.WithLabelValues(c.cfg.Run.SessionID).Inc()
}
