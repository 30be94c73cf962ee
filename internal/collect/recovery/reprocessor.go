package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReprocessorConfig holds configuration for the failed-item reprocessor.
type ReprocessorConfig struct {
	Interval      time.Duration // Poll interval (default: 30s)
	ItemsPerCycle int           // Max items replayed per cycle (default: 5)
}

// DefaultReprocessorConfig returns default reprocessor configuration.
func DefaultReprocessorConfig() ReprocessorConfig {
	return ReprocessorConfig{
		Interval:      30 * time.Second,
		ItemsPerCycle: 5,
	}
}

// Reprocessor is a background worker that replays pending failed items for a
// session through the handler, at a pace that never competes with the live
// collect loop.
type Reprocessor struct {
	cfg       ReprocessorConfig
	sessionID string
	handler   *Handler
	running   atomic.Bool
	stop      chan struct{}
	log       *slog.Logger
}

// NewReprocessor creates a reprocessor for one session.
func NewReprocessor(cfg ReprocessorConfig, sessionID string, handler *Handler) *Reprocessor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ItemsPerCycle <= 0 {
		cfg.ItemsPerCycle = 5
	}
	return &Reprocessor{
		cfg:       cfg,
		sessionID: sessionID,
		handler:   handler,
		stop:      make(chan struct{}),
		log:       slog.Default().With("component", "reprocessor", "session", sessionID),
	}
}

// Start begins the reprocessing loop.
func (r *Reprocessor) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("reprocessor already running")
	}
	defer r.running.Store(false)

	r.log.Info("Starting failed-item reprocessor")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Reprocessor stopped")
			return nil
		case <-r.stop:
			r.log.Info("Reprocessor stopped")
			return nil
		case <-ticker.C:
			for i := 0; i < r.cfg.ItemsPerCycle; i++ {
				if err := r.handler.ProcessNext(ctx, r.sessionID); err != nil {
					r.log.Warn("Failed to reprocess item", "error", err)
					break
				}
			}
		}
	}
}

// Stop stops the reprocessor.
func (r *Reprocessor) Stop() error {
	if r.running.Load() {
		close(r.stop)
	}
	return nil
}
