package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/broker"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/config"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/db"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/engine"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/migrate"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/pipeline"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/store"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/worker"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/workflows/codereview"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := worker.EnableParentDeathSignal(); err != nil {
		logger.Warn("failed to enable parent-death signal", "err", err)
	}

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

	st := store.New(pool)

	reg := pipeline.NewRegistry()
	reg.Register(codereview.New(
		codereview.NewRedisAnalyzer(rc, logger),
		codereview.NewLogReviewer(logger),
	))

	destinations := make([]string, 0, len(reg.WorkflowTypes()))
	for _, wt := range reg.WorkflowTypes() {
		destinations = append(destinations, domain.DestinationFor(wt))
	}

	hostname, _ := os.Hostname()
	workerID := uuid.New()

	pub := broker.NewPublisher(rc)
	executor := pipeline.NewExecutor(logger)
	processor := engine.NewProcessor(st, reg, executor, logger,
		workerID, hostname, cfg.LeaseDuration)
	sweeper := engine.NewSweeper(st, pub, logger, cfg.WaitTimeoutRetryable)

	w := worker.New(workerID, hostname, destinations, st, rc,
		processor, pub, logger, cfg.WorkerLoops, cfg.WorkerMaxActive)

	logger.Info("registering worker",
		"worker_id", workerID, "hostname", hostname, "destinations", destinations)
	if err := w.Register(ctx); err != nil {
		logger.Error("register worker failed", "err", err)
		os.Exit(1)
	}

	logger.Info("worker ready",
		"worker_id", workerID,
		"hostname", hostname,
		"destinations", destinations,
		"workflows", reg.WorkflowTypes())

	// Heartbeat: update last_heartbeat every 5s so the maintenance loop
	// can distinguish live workers from crashed ones.
	go w.RunHeartbeat(ctx)

	// Maintenance: competes for an advisory lock; the winner runs the
	// retry, wait-timeout, and orphan sweeps for the whole cluster.
	go worker.RunMaintenance(ctx, st, rc, sweeper, logger)

	go w.Start(ctx)

	<-ctx.Done()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer drainCancel()
	if err := w.DrainAndWait(drainCtx); err != nil {
		logger.Warn("shutdown drain timeout; expired leases will be reaped", "err", err)
	}

	logger.Info("shutdown complete")
}
