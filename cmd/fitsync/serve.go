package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fitsync/internal/config"
	"fitsync/server"
	"fitsync/store"
)

// newServeCmd creates the serve command running the sync server.
func newServeCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		Long: `Run the HTTP sync server backed by its own sqlite database.

Endpoints:
  POST /sync              apply a batch of operations
  GET  /sync?action=fetch fetch records for the authenticated user
  GET  /sync?action=status
  GET  /healthz
  GET  /metrics           Prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.ListenAddress = listen
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: logLevel(),
			}))

			db, err := store.OpenServer(cfg.ServerDBPath)
			if err != nil {
				return fmt.Errorf("open server database: %w", err)
			}
			defer db.Close()

			srv := server.New(server.Config{Address: cfg.ListenAddress}, store.New(db), logger)

			errCh := make(chan error, 1)
			go func() {
				logger.Info("sync server listening", "address", cfg.ListenAddress, "db", cfg.ServerDBPath)
				errCh <- srv.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case sig := <-sigCh:
				logger.Info("shutting down", "signal", sig.String())
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}
