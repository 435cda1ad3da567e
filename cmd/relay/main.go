// cmd/relay/main.go — outbox relay: polls pending outbox rows and
// publishes them to the broker. Safe to run more than one instance;
// publishing is idempotent because consumers deduplicate by job id.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/broker"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/config"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/db"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/migrate"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/relay"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/store"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Connect to PostgreSQL.
	logger.Info("connecting to database")
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect to database failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	if err := migrate.Run(ctx, pool, logger); err != nil {
		logger.Error("run migrations failed", "err", err)
		os.Exit(1)
	}

	// Connect to Redis.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("parse redis URL failed", "err", err)
		os.Exit(1)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	logger.Info("connecting to redis")
	if err := rc.Ping(ctx).Err(); err != nil {
		logger.Error("redis ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("redis connected")

	r := relay.New(store.New(pool), broker.NewPublisher(rc), logger)
	r.BatchSize = cfg.RelayBatchSize
	r.PollInterval = cfg.RelayPollInterval

	logger.Info("relay running",
		"batch_size", r.BatchSize, "poll_interval", r.PollInterval.String())

	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("relay stopped", "err", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
