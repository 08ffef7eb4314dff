// fitsync is a local-first fitness tracker client and sync server. Every
// change lands in the local sqlite store first and is pushed to the server
// opportunistically; the app stays fully usable offline.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"fitsync/facade"
	"fitsync/internal/config"
	"fitsync/store"
	syncengine "fitsync/sync"
)

// app wires the client-side stack: database, store, operation log, sync
// engine, and data facade. One app per process.
type app struct {
	cfg    config.Config
	db     *store.Database
	store  *store.Store
	log    *store.OpLog
	state  *store.State
	engine *syncengine.Engine
	facade *facade.Facade
	logger *slog.Logger
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	db, err := store.OpenClient(cfg.ClientDBPath)
	if err != nil {
		return nil, fmt.Errorf("open client database: %w", err)
	}

	st := store.New(db)
	oplog := store.NewOpLog(db, store.OpLogConfig{
		MaxAttempts:    cfg.MaxAttempts,
		BackoffBase:    cfg.BackoffBase.Std(),
		BackoffMax:     5 * time.Minute,
		RetainSynced:   cfg.RetainSynced,
		PruneThreshold: cfg.PruneThreshold,
	})
	state := store.NewState(db)

	client := syncengine.NewClient(cfg.ServerURL, 30*time.Second)
	engine := syncengine.New(st, oplog, state, client, syncengine.Options{
		Interval: cfg.SyncInterval.Std(),
		Logger:   logger,
	})

	fc, err := facade.New(st, oplog, state, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		db:     db,
		store:  st,
		log:    oplog,
		state:  state,
		engine: engine,
		facade: fc,
		logger: logger,
	}, nil
}

func (a *app) Close() error {
	a.engine.StopBackground()
	return a.db.Close()
}

func logLevel() slog.Level {
	if os.Getenv("FITSYNC_DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "fitsync",
		Short: "Local-first fitness tracking with background sync",
		Long: `fitsync tracks workouts, meals, and health metrics in a local
sqlite database and synchronizes them with a remote server when one is
reachable. All commands work offline; pending changes are queued in a
persistent operation log and pushed on the next sync.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.AddCommand(
		newTrackCmd(&configPath),
		newSyncCmd(&configPath),
		newStatusCmd(&configPath),
		newRetryCmd(&configPath),
		newLoginCmd(&configPath),
		newServeCmd(&configPath),
		newDashCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
