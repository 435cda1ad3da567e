package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/config"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/db"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/migrate"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

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

	logger.Info("migrations complete")
}
