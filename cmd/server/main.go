package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gatekeeper/internal/app"
	"gatekeeper/internal/platform/config"
	"gatekeeper/internal/platform/httpserver"
	"gatekeeper/internal/platform/logger"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, serves the HTTP API and runs the
// background workers until a signal arrives. Business logic lives in the
// internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("gatekeeper stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("gatekeeper stopped")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log, app.NewMetrics())
	if err != nil {
		return err
	}
	defer a.Close()

	srv := httpserver.New(cfg.Server, a.Handler())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting gatekeeper", "addr", cfg.Server.Addr, "groups", a.Dispatcher.Groups())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.RunWorkers(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
