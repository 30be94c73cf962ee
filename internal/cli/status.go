package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/core/progress"
	redisclient "github.com/vietddude/harvester/internal/infra/redis"
	"github.com/vietddude/harvester/internal/infra/storage"
	"github.com/vietddude/harvester/internal/infra/storage/bolt"
	"github.com/vietddude/harvester/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the progress of all configured sessions",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	runRepo, cleanup, err := openRunRepo(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	var rc *redisclient.Client
	if cfg.Redis.URL != "" {
		if rc, err = redisclient.NewClient(cfg.Redis); err != nil {
			slog.Warn("Redis unavailable, falling back to snapshot files", "error", err)
			rc = nil
		} else {
			defer func() { _ = rc.Close() }()
		}
	}

	store, err := progress.NewFileStore(cfg.Session.StateDir)
	if err != nil {
		slog.Error("Failed to open state dir", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SESSION\tSTATE\tCOLLECTED\tTARGET\tROUND\tKEYWORDS\tUPDATED")

	for _, entry := range cfg.Runs {
		state := "-"
		if runRepo != nil {
			if run, err := runRepo.GetLatest(ctx, entry.SessionID); err == nil && run != nil {
				state = string(run.State)
			}
		}

		snap := loadSnapshot(ctx, rc, store, entry.SessionID)
		collected, round, updated := 0, 0, "-"
		if snap != nil {
			collected = snap.CollectedCount
			round = snap.SearchRound
			updated = time.Unix(snap.UpdatedAt, 0).Format(time.RFC3339)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			entry.SessionID, state, collected, entry.Target, round,
			joinKeywords(entry.Keywords), updated)
	}
	_ = w.Flush()
}

// loadSnapshot prefers the redis mirror (fresh even when another process owns
// the session) and falls back to the snapshot file.
func loadSnapshot(ctx context.Context, rc *redisclient.Client, store *progress.FileStore, sessionID string) *domain.ProgressSnapshot {
	if rc != nil {
		if snap, err := rc.GetMirroredSnapshot(ctx, sessionID); err == nil && snap != nil {
			return snap
		}
	}
	snap, err := store.Load(ctx, sessionID)
	if err != nil {
		return nil
	}
	return snap
}

// openRunRepo picks the same storage backend the harvester would. Memory
// storage has no run history to show, so it comes back nil.
func openRunRepo(ctx context.Context, cfg *config.AppConfig) (storage.RunRepository, func(), error) {
	switch {
	case cfg.Database.URL != "":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewRunRepo(db), func() { _ = db.Close() }, nil
	case cfg.Storage.Path != "":
		store, err := bolt.Open(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return bolt.NewRunRepo(store), func() { _ = store.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
