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

	httpadapter "github.com/kirillkom/proposal-rag/internal/adapters/http"
	"github.com/kirillkom/proposal-rag/internal/bootstrap"
	"github.com/kirillkom/proposal-rag/internal/config"
	"github.com/kirillkom/proposal-rag/internal/observability/logging"
	"github.com/kirillkom/proposal-rag/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err.Error())
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "api", HTTPMetrics: httpMetrics})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	if cfg.IngestOnStartup {
		if _, err := app.IngestOnStartup(ctx); err != nil {
			logger.Error("startup_ingestion_failed", "error", err.Error())
			app.Close()
			os.Exit(1)
		}
	}

	if cfg.IngestWatch {
		watcher, err := app.NewWatcher()
		if err != nil {
			logger.Error("watcher_init_failed", "error", err.Error())
			app.Close()
			os.Exit(1)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("watcher_stopped", "error", err.Error())
			}
		}()
	}

	router, err := httpadapter.NewRouter(cfg, app.Starter, app.Answer, app.Runs)
	if err != nil {
		logger.Error("router_init_failed", "error", err.Error())
		app.Close()
		os.Exit(1)
	}
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router.WithMetrics(httpMetrics).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err.Error())
	}
	logger.Info("api_stopped")
}
