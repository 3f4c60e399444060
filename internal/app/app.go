package app

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

	"golang.org/x/sync/errgroup"

	"docexport/config"
	controller "docexport/internal/controller/http"
	"docexport/internal/controller/http/handlers"
	"docexport/internal/queue"
	"docexport/pkg/health"
	"docexport/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Run wires the queue manager, HTTP layer and health checks, then
// serves until SIGINT/SIGTERM.
func Run(cfg config.Config) error {
	logger.Setup(logger.Options{
		Level:   cfg.LogLevel,
		Console: cfg.LogFormat == "console",
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	manager, err := queue.NewManager(cfg.Queue())
	if err != nil {
		return fmt.Errorf("app - Run - queue.NewManager: %w", err)
	}
	manager.SetMessageHandler(exportTaskHandler())

	registry := health.NewRegistry(
		health.NewKafkaChecker(cfg.KafkaBrokers),
		health.NewQueueChecker(manager),
	)

	engine := NewGinEngine()
	router := controller.NewRouter(handlers.NewQueueHandler(manager), registry)
	router.SetUp(engine)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return manager.Run(ctx)
	})

	g.Go(func() error {
		slog.Info("Starting HTTP server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app - Run - srv.ListenAndServe: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down gracefully")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
