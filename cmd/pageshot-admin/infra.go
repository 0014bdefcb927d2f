package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/bootstrap"
)

// connectRedisIfConfigured returns a nil client when want is false or Redis is
// not configured; commands then run without the discovery cache.
//
//nolint:ireturn // the topology decides the concrete client.
func connectRedisIfConfigured(ctx context.Context, logger *slog.Logger, cfg config.RedisConfig, want bool) (redis.UniversalClient, error) {
	if !want {
		return nil, nil
	}
	if !cfg.Configured() {
		logger.Info("redis not configured; running without the discovery cache")
		return nil, nil
	}
	client, err := bootstrap.ConnectRedis(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func closeRedis(logger *slog.Logger, client redis.UniversalClient) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("redis close failed", "error", err)
	}
}
