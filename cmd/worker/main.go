package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/grounded-rag/internal/config"
	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/usecase"
	natsaudit "github.com/kirillkom/grounded-rag/internal/infrastructure/audit/nats"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/grounded-rag/internal/observability/logging"
)

const archiveTimeout = 10 * time.Second

// The worker archives guardrail audit decisions from NATS into Postgres.
func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(cfg.ServiceName+"-worker", cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.NATSURL == "" || cfg.PostgresDSN == "" {
		logger.Error("worker_config_invalid", slog.String("error", "NATS_URL and POSTGRES_DSN are required"))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("worker_db_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		logger.Error("worker_schema_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	subscriber, err := natsaudit.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, natsaudit.Options{Logger: logger})
	if err != nil {
		logger.Error("worker_nats_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer subscriber.Close()

	archive := usecase.NewAuditArchiveUseCase(postgres.NewAuditTrailRepository(db), logger)

	logger.Info("worker_subscribed", slog.String("prefix", cfg.NATSSubjectPrefix))
	err = subscriber.Subscribe(ctx, "", func(handlerCtx context.Context, trail domain.AuditTrail) error {
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(handlerCtx), archiveTimeout)
		defer cancel()
		return archive.Archive(archiveCtx, trail)
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("worker_stopped")
}
