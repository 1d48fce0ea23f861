package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"duesledger/internal/amqp"
	"duesledger/internal/backend"
	"duesledger/internal/config"
	"duesledger/internal/worker"
)

func main() {
	// Load .env for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting dues-auditor")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	result, err := backend.NewFactory(logger).CreateStore(cfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", "error", err)
			}
		}()
	}

	store, ok := result.Store.(worker.AuditableStore)
	if !ok {
		logger.Error("Backend does not support audit sweeps", "backend", cfg.DataBackend)
		os.Exit(1)
	}

	auditor := worker.NewAuditor(store, cfg.AuditBatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Event-driven verification. The broker is optional: without it the
	// periodic sweep alone keeps balances honest.
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, relying on periodic sweep only", "error", err)
		} else {
			defer amqpClient.Close()
			g.Go(func() error {
				return amqpClient.ConsumeLedgerEvents(ctx, auditor.HandleLedgerEvent)
			})
		}
	}

	g.Go(func() error {
		return auditor.RunPeriodicSweep(ctx, cfg.AuditInterval)
	})

	logger.Info("Auditor running",
		"backend", cfg.DataBackend,
		"sweep_interval", cfg.AuditInterval,
		"batch_size", cfg.AuditBatchSize)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Auditor stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Auditor stopped gracefully")
}
