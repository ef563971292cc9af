package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/me/threadpool/internal/config"
	"github.com/me/threadpool/internal/metrics"
	"github.com/me/threadpool/internal/scheduler"
	"github.com/me/threadpool/internal/server"
	"github.com/me/threadpool/internal/store"
	"github.com/me/threadpool/internal/worker"
)

func newServeCmd() *cobra.Command {
	var addr, dbPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker pool behind the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("db") {
				cfg.Store.Path = dbPath
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, nil)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default: in memory)")
	return cmd
}

// serve runs the pool and its API until ctx is done. ready, if non-nil, is
// called with the bound address once the listener is open.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger, ready func(addr string)) error {
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = ":memory:"
	}
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	if n, err := st.FailUnfinished(ctx, "server restarted before the task finished"); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	} else if n > 0 {
		logger.Warn("marked interrupted tasks failed", "count", n)
	}
	logger.Info("database ready", "path", dbPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// The pool outlives ctx so in-flight requests can drain during shutdown.
	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()
	sp := worker.NewSpawner(poolCtx, logger)
	pool, err := scheduler.Spawn(poolCtx, scheduler.Config{Capacity: cfg.Capacity}, sp, logger,
		scheduler.WithMetrics(metrics.NewPool(reg)))
	if err != nil {
		return err
	}
	defer func() {
		pool.Close()
		stopPool()
		sp.Wait()
		logger.Info("workers stopped")
	}()

	srv := server.New(cfg.Server, st, pool, logger,
		server.WithGatherer(reg),
		server.WithTaskMetrics(metrics.NewTasks(reg)),
	)
	if _, err := srv.LoadModules(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", ln.Addr().String(), "capacity", cfg.Capacity)
		errCh <- httpServer.Serve(ln)
	}()
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
