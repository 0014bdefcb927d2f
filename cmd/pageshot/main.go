// Command pageshot runs the HTTP API and the background job runners selected by SERVICES.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		slog.ErrorContext(ctx, "pageshot exited", "error", err)
		os.Exit(1) //nolint:forbidigo // process exit status
	}
}

func run(ctx context.Context) error {
	bootstrap.InitLogger()
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := bootstrap.NewLogger(os.Stdout, &cfg)
	if err != nil {
		return err
	}
	if err := bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}
	logger.InfoContext(ctx, "pageshot starting",
		slog.Any("services", bootstrap.GetEnabledServices(&cfg)),
		slog.Group("postgres", "host", cfg.Postgres.Host, "name", cfg.Postgres.Name),
		slog.String("redis", string(cfg.Redis.Mode())),
		slog.String("auth", string(cfg.Auth.Mode)),
	)

	st, err := openStores(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer st.close(ctx, logger)

	if !cfg.Postgres.RunMigrationsOnStart {
		logger.InfoContext(ctx, "migrations on start disabled")
	} else if err := bootstrap.RunMigrations(ctx, st.db, logger); err != nil {
		return err
	}

	services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config: &cfg, DB: st.db, RedisClient: st.redis, Logger: logger,
	})
	if err != nil {
		return err
	}
	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config: &cfg, Services: services, DB: st.db, RedisClient: st.redis, Logger: logger,
	})
}

type stores struct {
	db    *sql.DB
	redis redis.UniversalClient
}

// openStores connects Postgres and, when configured, Redis. Redis is optional:
// without it auth and the discovery cache are disabled.
func openStores(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*stores, error) {
	db, err := bootstrap.ConnectPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	s := &stores{db: db}
	if !cfg.Redis.Configured() {
		logger.WarnContext(ctx, "redis not configured; sessions and discovery cache disabled")
		return s, nil
	}
	if s.redis, err = bootstrap.ConnectRedis(ctx, cfg.Redis, logger); err != nil {
		s.close(ctx, logger)
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return s, nil
}

func (s *stores) close(ctx context.Context, logger *slog.Logger) {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.ErrorContext(ctx, "close redis failed", "error", err)
		}
	}
	if err := s.db.Close(); err != nil {
		logger.ErrorContext(ctx, "close database failed", "error", err)
	}
}
