package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/harvester/internal/collect/collector"
	"github.com/vietddude/harvester/internal/collect/emitter"
	"github.com/vietddude/harvester/internal/collect/gate"
	"github.com/vietddude/harvester/internal/collect/health"
	"github.com/vietddude/harvester/internal/collect/recovery"
	"github.com/vietddude/harvester/internal/core/anchor"
	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/core/progress"
	"github.com/vietddude/harvester/internal/core/worker"
	"github.com/vietddude/harvester/internal/infra/browser"
	"github.com/vietddude/harvester/internal/infra/browser/bridge"
	"github.com/vietddude/harvester/internal/infra/browser/playwright"
	redisclient "github.com/vietddude/harvester/internal/infra/redis"
	"github.com/vietddude/harvester/internal/infra/storage"
	"github.com/vietddude/harvester/internal/infra/storage/bolt"
	"github.com/vietddude/harvester/internal/infra/storage/memory"
	"github.com/vietddude/harvester/internal/infra/storage/postgres"
)

// DriverFactory builds the browser driver for one profile. Tests inject
// fakes; production uses the factory picked by cfg.Browser.Driver.
type DriverFactory func(cfg config.AppConfig, profile config.Profile) (browser.Driver, error)

// Harvester wires the whole application and owns its lifecycle.
type Harvester struct {
	cfg config.AppConfig
	log *slog.Logger

	gate   gate.Gate
	budget *gate.BudgetTracker

	runners  []Runner
	workers  []Worker
	drivers  []browser.Driver
	trackers map[string]*progress.Tracker
	sink     emitter.Emitter

	recordRepo storage.RecordRepository
	runRepo    storage.RunRepository
	failedRepo storage.FailedItemRepository

	healthServer *health.Server

	db          *postgres.DB
	boltStore   *bolt.Store
	redisClient *redisclient.Client

	mu      sync.Mutex
	results []SessionResult
	done    chan struct{}
}

// NewHarvester builds a harvester with the production driver factory.
func NewHarvester(cfg config.AppConfig) (*Harvester, error) {
	return NewHarvesterWith(cfg, defaultDriverFactory)
}

// NewHarvesterWith builds a harvester with a caller-supplied driver factory.
func NewHarvesterWith(cfg config.AppConfig, newDriver DriverFactory) (*Harvester, error) {
	h := &Harvester{
		cfg:      cfg,
		log:      slog.Default().With("component", "control"),
		trackers: make(map[string]*progress.Tracker),
		done:     make(chan struct{}),
	}

	// 1. Storage backend: postgres when a database URL is configured, bolt
	// when a file path is, memory otherwise.
	switch {
	case cfg.Database.URL != "":
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate("migrations"); err != nil {
			_ = db.Close()
			return nil, err
		}
		h.db = db
		h.recordRepo = postgres.NewRecordRepo(db)
		h.runRepo = postgres.NewRunRepo(db)
		h.failedRepo = postgres.NewFailedItemRepo(db)
		h.log.Info("using PostgreSQL storage")

	case cfg.Storage.Path != "":
		store, err := bolt.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		h.boltStore = store
		h.recordRepo = bolt.NewRecordRepo(store)
		h.runRepo = bolt.NewRunRepo(store)
		h.failedRepo = bolt.NewFailedRepo(store)
		h.log.Info("using Bolt storage", "path", cfg.Storage.Path)

	default:
		store := memory.NewMemoryStorage()
		h.recordRepo = memory.NewRecordRepo(store)
		h.runRepo = memory.NewRunRepo(store)
		h.failedRepo = memory.NewFailedRepo(store)
		h.log.Info("using memory storage")
	}

	// 2. Redis: cross-process gate plus queue/mirror. Optional.
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			h.close()
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		h.redisClient = rc
		h.gate = gate.NewRedisGate(rc.Raw(), cfg.Gate)
		h.log.Info("using redis gate")
	} else {
		h.gate = gate.NewMemoryGate(cfg.Gate)
	}

	if cfg.Budget.DailySearches > 0 {
		h.budget = gate.NewBudgetTracker(cfg.Budget.DailySearches)
	}

	// 3. Output sink.
	if cfg.Collect.Output != "" {
		sink, err := emitter.NewFileEmitter(cfg.Collect.Output)
		if err != nil {
			h.close()
			return nil, fmt.Errorf("failed to open output: %w", err)
		}
		h.sink = sink
	} else {
		h.sink = emitter.NewLogEmitter()
	}

	snapStore, err := progress.NewFileStore(cfg.Session.StateDir)
	if err != nil {
		h.close()
		return nil, fmt.Errorf("failed to init state dir: %w", err)
	}

	// 4. One collector per configured run.
	var sources []health.SessionSource
	for _, entry := range cfg.Runs {
		profile, ok := cfg.ProfileByName(entry.Profile)
		if !ok {
			h.close()
			return nil, fmt.Errorf("run %q references unknown profile %q", entry.SessionID, entry.Profile)
		}

		driver, err := newDriver(cfg, profile)
		if err != nil {
			h.close()
			return nil, fmt.Errorf("failed to build driver for %s: %w", entry.SessionID, err)
		}
		h.drivers = append(h.drivers, driver)

		capturer, err := anchor.NewCapturer(driver,
			cfg.Session.EvidenceDir, entry.SessionID,
			anchor.ParsePolicy(cfg.Session.EvidencePolicy))
		if err != nil {
			h.close()
			return nil, fmt.Errorf("failed to init evidence capturer: %w", err)
		}

		machine, err := anchor.NewMachine(driver, anchor.MachineConfig{
			Profile:        profile,
			SettleInterval: cfg.Collect.SettleInterval,
			Evidence:       capturer,
		})
		if err != nil {
			h.close()
			return nil, fmt.Errorf("failed to build anchor machine for %s: %w", entry.SessionID, err)
		}

		tracker := progress.NewTracker(snapStore, entry.SessionID)
		tracker.SetStateChangeCallback(func(sessionID string, tr progress.Transition) {
			h.log.Info("run state changed",
				"session", sessionID, "from", tr.From, "to", tr.To, "reason", tr.Reason)
		})
		h.trackers[entry.SessionID] = tracker

		var queue recovery.Queue
		if h.redisClient != nil {
			queue = redisclient.NewFailedItemQueue(h.redisClient, entry.SessionID)
		}
		handler := recovery.NewHandler(h.failedRepo, queue,
			h.resolveIfCollected, recovery.DefaultBackoff())

		h.runners = append(h.runners, collector.New(collector.Config{
			Run: domain.RunConfig{
				SessionID:    entry.SessionID,
				Profile:      entry.Profile,
				Keywords:     entry.Keywords,
				Target:       entry.Target,
				PerSearchMax: orDefault(entry.PerSearchMax, cfg.Collect.PerSearchMax),
				MaxRounds:    orDefault(entry.MaxRounds, cfg.Collect.MaxRounds),
				SaveEvery:    cfg.Collect.SaveEvery,
			},
			Driver:  driver,
			Gate:    h.gate,
			Machine: machine,
			Tracker: tracker,
			Budget:  h.budget,
			Emitter: h.sink,
			Records: h.recordRepo,
			Runs:    h.runRepo,
			Failed:  handler,
			Retry: recovery.RetryConfig{
				MaxAttempts: cfg.Collect.Retry.MaxAttempts,
				BaseDelay:   cfg.Collect.Retry.BaseDelay,
				MaxDelay:    cfg.Collect.Retry.MaxDelay,
			},
			GateWait:      cfg.Collect.GateWait,
			EnsureTimeout: cfg.Collect.EnsureTimeout,
			Pacer:         collector.NewPacer(cfg.Collect.BaseCooldown, cfg.Collect.MaxCooldown),
		}))

		reproc := recovery.NewReprocessor(recovery.DefaultReprocessorConfig(), entry.SessionID, handler)
		h.workers = append(h.workers, workerFunc(func(ctx context.Context) {
			if err := reproc.Start(ctx); err != nil {
				h.log.Warn("reprocessor exited", "error", err)
			}
		}))

		var monitored browser.Monitored
		if m, ok := driver.(browser.Monitored); ok {
			monitored = m
		}
		sources = append(sources, health.SessionSource{
			SessionID: entry.SessionID,
			Target:    entry.Target,
			Tracker:   tracker,
			Driver:    monitored,
		})
	}

	// 5. Background workers and health surface.
	h.workers = append(h.workers,
		worker.NewPruner(cfg.Session.EvidenceDir, cfg.Session.EvidenceRetention))

	monitor := health.NewMonitor(sources, h.failedRepo, h.gate, h.budget)
	h.healthServer = health.NewServer(monitor, cfg.Server.Port)

	return h, nil
}

// Start launches the health server, background workers and one goroutine per
// session. It does not block; use Wait for the outcomes.
func (h *Harvester) Start(ctx context.Context) error {
	go func() {
		if err := h.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("health server failed", "error", err)
		}
	}()

	if h.db != nil {
		h.db.StartMetricsCollector(ctx)
	}

	for _, w := range h.workers {
		go w.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range h.runners {
		r := r
		h.log.Info("starting session", "session", r.SessionID())
		g.Go(func() error {
			res, err := r.Run(gctx)
			h.mu.Lock()
			h.results = append(h.results, SessionResult{
				SessionID: r.SessionID(), Result: res, Err: err,
			})
			h.mu.Unlock()
			h.mirrorProgress(r.SessionID())
			return err
		})
	}
	go func() {
		if err := g.Wait(); err != nil {
			h.log.Error("session failed", "error", err)
		}
		close(h.done)
	}()
	return nil
}

// Wait blocks until every session finished, ctx expired, or Stop was called,
// and returns the outcomes gathered so far.
func (h *Harvester) Wait(ctx context.Context) []SessionResult {
	select {
	case <-h.done:
	case <-ctx.Done():
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SessionResult, len(h.results))
	copy(out, h.results)
	return out
}

// Stop pauses the sessions at their next boundary and releases every
// resource. Safe to call after a completed run.
func (h *Harvester) Stop(ctx context.Context) error {
	h.log.Info("stopping harvester")

	for _, r := range h.runners {
		r.Stop()
	}

	// Collectors save their snapshots on the way out; give them the caller's
	// budget to finish.
	select {
	case <-h.done:
	case <-ctx.Done():
		h.log.Warn("stop timeout, collectors still draining")
	}

	var firstErr error
	if err := h.healthServer.Stop(ctx); err != nil {
		firstErr = err
	}
	if err := h.gate.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	h.close()
	return firstErr
}

// SnapshotPath returns where a session's progress snapshot lives, for the
// "resume with" hint printed on abort.
func (h *Harvester) SnapshotPath(sessionID string) string {
	return filepath.Join(h.cfg.Session.StateDir, sessionID+".json")
}

// resolveIfCollected is the reprocessor's retry callback. Skipped items are
// deliberately not marked seen, so later rounds pick them up organically;
// the reprocessor's job is to notice that happened and resolve the entry.
func (h *Harvester) resolveIfCollected(ctx context.Context, item *domain.FailedItem) error {
	if item.Key == "" {
		return fmt.Errorf("failed item %s has no dedupe key", item.ID)
	}
	rec, err := h.recordRepo.GetByKey(ctx, item.SessionID, item.Key)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("item %s not collected yet", item.Key)
	}
	return nil
}

// mirrorProgress publishes a session's final tracker state to Redis for the
// status CLI. Best effort.
func (h *Harvester) mirrorProgress(sessionID string) {
	if h.redisClient == nil {
		return
	}
	tracker, ok := h.trackers[sessionID]
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.redisClient.MirrorSnapshot(ctx, tracker.Snapshot()); err != nil {
		h.log.Warn("progress mirror failed", "session", sessionID, "error", err)
	}
}

// close tears down owned resources in reverse dependency order.
func (h *Harvester) close() {
	for _, d := range h.drivers {
		if err := d.Close(); err != nil {
			h.log.Warn("driver close failed", "driver", d.Name(), "error", err)
		}
	}
	h.drivers = nil
	if h.sink != nil {
		_ = h.sink.Close()
		h.sink = nil
	}
	if h.redisClient != nil {
		_ = h.redisClient.Close()
		h.redisClient = nil
	}
	if h.boltStore != nil {
		_ = h.boltStore.Close()
		h.boltStore = nil
	}
	if h.db != nil {
		_ = h.db.Close()
		h.db = nil
	}
}

// defaultDriverFactory builds the backend named by cfg.Browser.Driver.
func defaultDriverFactory(cfg config.AppConfig, profile config.Profile) (browser.Driver, error) {
	switch cfg.Browser.Driver {
	case "", "playwright":
		return playwright.New(profile, playwright.Config{
			Headless:      cfg.Browser.Headless,
			UserAgent:     cfg.Browser.UserAgent,
			NavTimeout:    cfg.Browser.NavTimeout,
			ActionTimeout: cfg.Browser.ActionTimeout,
		})
	case "grpc":
		return bridge.NewGRPC(cfg.Browser.Endpoint, profile.Name)
	case "http":
		return bridge.NewHTTP(cfg.Browser.Endpoint, profile.Name, cfg.Browser.ActionTimeout), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Browser.Driver)
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
