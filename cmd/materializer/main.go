package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"evalpipe/internal/config"
	"evalpipe/internal/logging"
	"evalpipe/internal/materialize"
	"evalpipe/internal/normalize"
	"evalpipe/internal/repo/postgres"
	"evalpipe/internal/schema"
)

func main() {
	cfg := config.FromEnv()

	sugar, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer sugar.Sync()

	pool, err := postgres.NewPool(cfg.DatabaseURL, cfg.PGPoolMax, cfg.PGConnectTimeoutMs)
	if err != nil {
		sugar.Fatalw("failed to init pool", "error", err)
	}
	defer pool.Close()

	registry := schema.NewRegistry()
	worker := materialize.NewWorker(pool, registry, normalize.DefaultConfig(), cfg.BatchSize, cfg.MaxAttempts, cfg.PollDelay, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("materializer starting", "batch_size", cfg.BatchSize, "poll_delay", cfg.PollDelay)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Fatalw("materializer exited", "error", err)
	}
}
