package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"evalpipe/internal/config"
	evalhttp "evalpipe/internal/http"
	"evalpipe/internal/logging"
	"evalpipe/internal/ratelimit"
	"evalpipe/internal/repo/postgres"
	"evalpipe/internal/schema"

	"evalpipe/internal/domain"
)

func main() {
	cfg := config.FromEnv()

	sugar, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer sugar.Sync()

	pool, err := postgres.NewPool(cfg.DatabaseURL, cfg.PGPoolMax, cfg.PGConnectTimeoutMs)
	if err != nil {
		sugar.Fatalw("failed to init pool", "error", err)
	}
	defer pool.Close()

	registry := schema.NewRegistry()

	limiter, err := newLimiter(cfg)
	if err != nil {
		sugar.Fatalw("failed to init rate limiter", "error", err)
	}

	srv := evalhttp.NewServer(cfg, pool, registry, limiter, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, cfg.HTTPAddr); err != nil {
		sugar.Fatalw("server exited", "error", err)
	}
}

func newLimiter(cfg config.Config) (domain.RateLimiter, error) {
	if cfg.RateLimitRedisURL != "" {
		return ratelimit.NewRedisLimiter(cfg.RateLimitRedisURL)
	}
	return ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{MaxKeys: 10000}), nil
}
