package cli

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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gridstone/tidewater/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr   string
	DBPath string
	Scopes []string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		Long: `Run the HTTP sync server backed by a SQLite store.

The server exposes scope snapshots, change feeds, and entity writes.
Clients hydrate from a snapshot, then poll the change feed with the
cursor returned by each response.

Examples:
  tidewater serve --db tidewater.db
  tidewater serve --db tidewater.db --addr :9000 --scope team-a --scope team-b`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8372", "listen address")
	cmd.Flags().StringVar(&opts.DBPath, "db", "tidewater.db", "path to the SQLite database")
	cmd.Flags().StringArrayVar(&opts.Scopes, "scope", nil, "scope to create at startup (repeatable)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := server.Open(opts.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to open database %s", opts.DBPath), err)
	}
	defer store.Close()

	for _, scopeID := range opts.Scopes {
		if err := store.CreateScope(ctx, scopeID); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to create scope %s", scopeID), err)
		}
		logger.Info("scope ready", "scope", scopeID)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", server.NewHandler(store, logger))

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", opts.Addr, "db", opts.DBPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	return nil
}
