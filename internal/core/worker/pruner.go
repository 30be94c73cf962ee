package worker

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Pruner deletes old evidence captures based on retention policy. Evidence
// (screenshots and DOM dumps from anchor recovery) is only useful while
// someone might still diagnose the run that produced it.
type Pruner struct {
	dir       string
	retention time.Duration
	log       *slog.Logger
}

// NewPruner creates a pruner for the evidence directory.
func NewPruner(dir string, retention time.Duration) *Pruner {
	return &Pruner{
		dir:       dir,
		retention: retention,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop until ctx is canceled.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 || p.dir == "" {
		return // Retention disabled
	}

	// Check at 10% of the retention period, clamped to [1m, 1h].
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune()
		}
	}
}

func (p *Pruner) prune() {
	cutoff := time.Now().Add(-p.retention)
	removed := 0

	err := filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil // raced with another delete
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		p.log.Error("evidence prune failed", "dir", p.dir, "error", err)
		return
	}
	if removed > 0 {
		p.log.Info("pruned evidence files", "count", removed, "older_than", p.retention)
	}
}
