package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/progress"
	redisclient "github.com/vietddude/harvester/internal/infra/redis"
	"github.com/vietddude/harvester/internal/infra/storage/postgres"
)

var purgeRecords bool

var resetSessionCmd = &cobra.Command{
	Use:   "reset-session [session_id]",
	Short: "Discard a session's progress so the next run starts from scratch",
	Args:  cobra.ExactArgs(1),
	Run:   runResetSession,
}

func init() {
	resetSessionCmd.Flags().BoolVar(&purgeRecords, "purge", false, "also delete the session's collected records and run history")
	rootCmd.AddCommand(resetSessionCmd)
}

func runResetSession(cmd *cobra.Command, args []string) {
	session := args[0]

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	store, err := progress.NewFileStore(cfg.Session.StateDir)
	if err != nil {
		slog.Error("Failed to open state dir", "error", err)
		os.Exit(1)
	}
	if err := store.Delete(ctx, session); err != nil {
		slog.Error("Failed to delete snapshot", "error", err)
		os.Exit(1)
	}

	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Redis unavailable, mirror not cleared", "error", err)
		} else {
			if err := rc.ClearMirror(ctx, session); err != nil {
				slog.Warn("Failed to clear progress mirror", "error", err)
			}
			if err := redisclient.NewFailedItemQueue(rc, session).Clear(ctx); err != nil {
				slog.Warn("Failed to clear failed item queue", "error", err)
			}
			_ = rc.Close()
		}
	}

	if purgeRecords {
		if cfg.Database.URL == "" {
			slog.Error("--purge needs a configured database")
			os.Exit(1)
		}
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = db.Close()
		}()

		// Direct SQL keeps this CLI override simple; the repos have no bulk
		// delete on purpose.
		for _, table := range []string{"records", "session_runs", "failed_items"} {
			if _, err := db.ExecContext(ctx,
				fmt.Sprintf("DELETE FROM %s WHERE session_id = $1", table), session); err != nil {
				slog.Error("Failed to purge table", "table", table, "error", err)
				os.Exit(1)
			}
		}
	}

	fmt.Printf("Session %s reset; next run starts fresh\n", session)
}
