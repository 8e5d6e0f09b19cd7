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

	httpadapter "github.com/kirillkom/grounded-rag/internal/adapters/http"
	"github.com/kirillkom/grounded-rag/internal/bootstrap"
	"github.com/kirillkom/grounded-rag/internal/config"
	"github.com/kirillkom/grounded-rag/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(cfg.ServiceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := httpadapter.NewRouter(app.Answers, app.Admin, httpadapter.Options{
		Service:      cfg.ServiceName,
		MaxInFlight:  cfg.HTTPMaxInFlight,
		OverloadWait: cfg.HTTPOverloadWait,
		MaxBodyBytes: cfg.HTTPMaxBodyBytes,
		Readiness:    app.Readiness,
		Metrics:      app.HTTPMetrics,
		Logger:       logger,
	}).Handler()

	// Streams are bounded by the per-tenant overall timeout, so no write timeout.
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("api_listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", slog.String("error", err.Error()))
	}
	if err := app.Close(shutdownCtx); err != nil {
		logger.Error("app_close_failed", slog.String("error", err.Error()))
	}
}
