// cmd/server/main.go — HTTP API server: job submission, resume-event
// intake, and job status reads.
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

	"github.com/redis/go-redis/v9"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/broker"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/config"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/db"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/engine"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/httpserver"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/migrate"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/pipeline"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/store"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/workflows/codereview"
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

	st := store.New(pool)

	// The server only validates payloads against the registered
	// pipelines; execution happens in the worker binary.
	reg := pipeline.NewRegistry()
	reg.Register(codereview.New(
		codereview.NewRedisAnalyzer(rc, logger),
		codereview.NewLogReviewer(logger),
	))

	pub := broker.NewPublisher(rc)

	app := &httpserver.App{
		Submitter: engine.NewSubmitter(st, reg, logger),
		Resume:    engine.NewResumeTrigger(st, pub, logger),
		Store:     st,
		Redis:     rc,
		Logger:    logger,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           httpserver.NewRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("http server listening", "port", cfg.HTTPPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping http server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "err", err)
	}
	logger.Info("http server stopped")
}
