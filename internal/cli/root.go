package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/harvester/internal/control"
	"github.com/vietddude/harvester/internal/core/config"
	"github.com/vietddude/harvester/internal/core/progress"
)

var (
	cfgPath   string
	isDebug   bool
	sessionID string
	target    int
	keywords  []string
	resume    bool
)

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Harvester collection service",
	Long:  `Harvester runs resumable browser collection sessions: keyword search, item extraction, progress checkpoints.`,
	Run:   runHarvester,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured collection sessions",
	Run:   runHarvester,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")

	runCmd.Flags().StringVar(&sessionID, "session", "", "run only this session from the config")
	runCmd.Flags().IntVar(&target, "target", 0, "override the collection target")
	runCmd.Flags().StringSliceVar(&keywords, "keywords", nil, "override the keyword list")
	runCmd.Flags().BoolVar(&resume, "resume", true, "resume from a saved snapshot when present; false starts fresh")
	rootCmd.AddCommand(runCmd)
}

func runHarvester(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	if err := applyOverrides(cfg); err != nil {
		slog.Error("Bad flags", "error", err)
		os.Exit(1)
	}

	if !resume {
		if err := discardSnapshots(cfg); err != nil {
			slog.Error("Failed to discard snapshots", "error", err)
			os.Exit(1)
		}
	}

	app, err := control.NewHarvester(*cfg)
	if err != nil {
		slog.Error("Failed to initialize harvester", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start harvester", "error", err)
		os.Exit(1)
	}

	slog.Info("Harvester started", "config", cfgPath, "sessions", len(cfg.Runs))

	done := make(chan []control.SessionResult, 1)
	go func() { done <- app.Wait(ctx) }()

	var results []control.SessionResult
	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
	case results = <-done:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}
	if results == nil {
		results = app.Wait(shutdownCtx)
	}

	report(app, results)
}

// discardSnapshots deletes every configured session's snapshot so the runs
// start from scratch.
func discardSnapshots(cfg *config.AppConfig) error {
	store, err := progress.NewFileStore(cfg.Session.StateDir)
	if err != nil {
		return err
	}
	for _, entry := range cfg.Runs {
		if err := store.Delete(context.Background(), entry.SessionID); err != nil {
			return err
		}
	}
	return nil
}

// applyOverrides narrows the configured runs to the flags given on the run
// command.
func applyOverrides(cfg *config.AppConfig) error {
	if sessionID != "" {
		var kept []config.RunEntry
		for _, entry := range cfg.Runs {
			if entry.SessionID == sessionID {
				kept = append(kept, entry)
			}
		}
		if len(kept) == 0 {
			return fmt.Errorf("session %q not found in config", sessionID)
		}
		cfg.Runs = kept
	}
	for i := range cfg.Runs {
		if target > 0 {
			cfg.Runs[i].Target = target
		}
		if len(keywords) > 0 {
			cfg.Runs[i].Keywords = keywords
		}
	}
	return nil
}

// report logs each session's outcome. An aborted session exits non-zero with
// a resume hint: the snapshot survives, so a rerun picks up where it stopped.
func report(app *control.Harvester, results []control.SessionResult) {
	for _, r := range results {
		switch {
		case r.Err != nil:
			slog.Error("Session failed", "session", r.SessionID, "error", r.Err)
		case r.Result.Aborted:
			slog.Error("Session aborted",
				"session", r.SessionID,
				"reason", r.Result.Reason,
				"collected", r.Result.CollectedCount,
				"checkpoint", r.Result.LastCheckpoint.Checkpoint,
				"url", r.Result.LastCheckpoint.URL)
			fmt.Fprintf(os.Stderr, "session %s aborted at %s; progress saved, resume with:\n  harvester run --session %s --config %s\n  (snapshot: %s)\n",
				r.SessionID, r.Result.LastCheckpoint.Checkpoint, r.SessionID, cfgPath, app.SnapshotPath(r.SessionID))
		default:
			slog.Info("Session finished",
				"session", r.SessionID,
				"reason", r.Result.Reason,
				"collected", r.Result.CollectedCount,
				"rounds", r.Result.Rounds,
				"skipped", r.Result.Skipped,
				"degraded", r.Result.Degraded)
		}
	}
	if control.Aborted(results) {
		os.Exit(1)
	}
}

func joinKeywords(ks []string) string {
	if len(ks) == 0 {
		return "-"
	}
	return strings.Join(ks, ",")
}
