// jobmate-pipeline
//
// Job discovery and matching pipeline. One process runs:
//   - the cron scheduler enqueuing batch-scrape tasks
//   - the queue worker (scrape → ai-match → send-email)
//   - the admin HTTP API (/health, /tasks/...)
//   - the gRPC health service
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"jobmate/pipeline/internal/app"
	"jobmate/pipeline/internal/config"
	"jobmate/pipeline/internal/logging"
)

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[pipeline] config error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("pipeline stopped with error", "err", err)
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logging.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── Wiring ──────────────────────────────────────────────────────────────
	log.Info("starting", "version", app.Version, "mode", cfg.ScraperMode, "queue", cfg.QueueBackend)
	a, cleanup, err := app.Initialize(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()

	// ── HTTP server ─────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	a.Admin.RegisterRoutes(mux)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// ── gRPC health ─────────────────────────────────────────────────────────
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	errc := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		log.Info("HTTP listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := a.Health.Serve(lis); err != nil {
			errc <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		a.Health.Watch(ctx)
	}()

	// ── Worker & scheduler ──────────────────────────────────────────────────
	workerDone := make(chan struct{})
	go func() {
		a.Worker.Run(ctx)
		close(workerDone)
	}()
	runErr := a.Scheduler.Start(ctx)

	// ── Graceful shutdown ───────────────────────────────────────────────────
	if runErr == nil {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
		case runErr = <-errc:
			log.Error("server failed, shutting down", "err", runErr)
		}
	}
	cancel()

	a.Scheduler.Stop()
	<-workerDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error", "err", err)
	}
	a.Health.Stop()
	wg.Wait()

	log.Info("stopped")
	return runErr
}
