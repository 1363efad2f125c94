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

	"github.com/kirillkom/proposal-rag/internal/bootstrap"
	"github.com/kirillkom/proposal-rag/internal/config"
	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/observability/logging"
	"github.com/kirillkom/proposal-rag/internal/observability/metrics"
)

const runTimeout = 30 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err.Error())
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "worker", Registerer: workerMetrics.Registerer()})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err.Error())
		}
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSReindexSubject)
	err = app.SubscribeReindex(ctx, func(handlerCtx context.Context, req domain.IngestRequest) error {
		workerMetrics.StartRequest()
		started := time.Now()

		runCtx, cancel := context.WithTimeout(handlerCtx, runTimeout)
		defer cancel()
		// Core NATS does not redeliver: a request waits for the active run.
		_, err := app.Ingest.RunWhenIdle(runCtx, req)

		status := "success"
		switch {
		case domain.IsKind(err, domain.ErrConflict):
			status = "duplicate"
		case err != nil:
			status = "error"
		}
		workerMetrics.FinishRequest(time.Since(started), status)
		return err
	})
	exitCode := 0
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err.Error())
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = metricsServer.Shutdown(shutdownCtx)
	cancel()
	app.Close()
	logger.Info("worker_stopped")
	os.Exit(exitCode)
}
