package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/dispatchlab/mail-dispatch-system/internal/config"
	"github.com/dispatchlab/mail-dispatch-system/internal/engine"
	"github.com/dispatchlab/mail-dispatch-system/internal/mailer"
	"github.com/dispatchlab/mail-dispatch-system/internal/store"
	"github.com/dispatchlab/mail-dispatch-system/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])

	aggregator := engine.NewAggregator(pgStore, logger)
	transmitter := mailer.NewSMTPTransmitter(cfg.SMTPTimeout)
	processor := worker.NewProcessor(pgStore, aggregator, transmitter, workerID, logger)

	// The lock TTL outlives one full batch of 30s send timeouts so a slow run
	// cannot lose the lock mid-batch.
	runLock := engine.NewRunLock(redisStore.Client(), 10*time.Minute, logger)

	logger.Info("queue worker started",
		"worker_id", workerID,
		"poll_interval", cfg.PollInterval.String(),
	)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	runOnce(ctx, processor, runLock, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("queue worker stopping")
			return
		case <-ticker.C:
			runOnce(ctx, processor, runLock, logger)
		}
	}
}

func runOnce(ctx context.Context, processor *worker.Processor, lock *engine.RunLock, logger *slog.Logger) {
	token, ok, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error("failed to acquire run lock", "error", err)
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := lock.Release(ctx, token); err != nil {
			logger.Error("failed to release run lock", "error", err)
		}
	}()

	if err := processor.RunOnce(ctx); err != nil {
		logger.Error("queue run failed", "error", err)
	}
}
