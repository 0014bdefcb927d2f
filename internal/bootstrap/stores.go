package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/migrate"
)

const redisConnectTimeout = 5 * time.Second

// ConnectPostgres opens the job store pool and pings it within cfg.ConnectTimeout.
func ConnectPostgres(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := pingOrClose(ctx, cfg.ConnectTimeout, db.PingContext, db.Close); err != nil {
		return nil, fmt.Errorf("ping database %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database connected", "host", cfg.Host, "port", cfg.Port, "database", cfg.Name)
	}
	return db, nil
}

// ConnectRedis builds the client for the configured topology and pings it.
//
//nolint:ireturn // the topology decides the concrete client.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	client, desc, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := pingOrClose(ctx, redisConnectTimeout, ping, client.Close); err != nil {
		return nil, fmt.Errorf("ping redis (%s): %w", cfg.Mode(), err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "redis connected", "mode", cfg.Mode(), "addr", desc)
	}
	return client, nil
}

// pingOrClose runs ping under timeout and closes the handle when it fails.
func pingOrClose(ctx context.Context, timeout time.Duration, ping func(context.Context) error, closeFn func() error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := ping(ctx)
	if err == nil {
		return nil
	}
	if cerr := closeFn(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close: %w", cerr))
	}
	return err
}

// newRedisClient returns the client and a credential-free address for logs.
//
//nolint:ireturn // the topology decides the concrete client.
func newRedisClient(cfg config.RedisConfig) (redis.UniversalClient, string, error) {
	switch cfg.Mode() {
	case config.RedisModeCluster:
		opts, err := clusterOptions(cfg)
		if err != nil {
			return nil, "", err
		}
		return redis.NewClusterClient(opts), "cluster:" + strings.Join(opts.Addrs, ","), nil

	case config.RedisModeSentinel:
		nodes := nonEmpty(cfg.SentinelNodes)
		if len(nodes) == 0 {
			return nil, "", errors.New("redis sentinel mode needs at least one sentinel node")
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.SentinelMasterName,
			SentinelAddrs:    nodes,
			Password:         cfg.Password,
			SentinelPassword: cfg.SentinelPassword,
			DB:               cfg.DB,
		}), "sentinel:" + cfg.SentinelMasterName, nil

	default:
		uri := strings.TrimSpace(cfg.URI)
		if uri == "" {
			return nil, "", errors.New("redis direct mode needs REDIS_URI")
		}
		if !isRedisURL(uri) {
			return redis.NewClient(&redis.Options{Addr: uri, Password: cfg.Password, DB: cfg.DB}), uri, nil
		}
		opts, err := redis.ParseURL(uri)
		if err != nil {
			return nil, "", fmt.Errorf("parse redis url: %w", err)
		}
		if opts.Password == "" {
			opts.Password = cfg.Password
		}
		return redis.NewClient(opts), redactURL(uri), nil
	}
}

// clusterOptions seeds the cluster from ClusterNodes, falling back to URI.
func clusterOptions(cfg config.RedisConfig) (*redis.ClusterOptions, error) {
	opts := &redis.ClusterOptions{Addrs: nonEmpty(cfg.ClusterNodes), Password: cfg.Password}
	if len(opts.Addrs) > 0 {
		return opts, nil
	}

	uri := strings.TrimSpace(cfg.URI)
	switch {
	case uri == "":
		return nil, errors.New("redis cluster mode needs REDIS_CLUSTER_NODES or REDIS_URI")
	case !isRedisURL(uri):
		opts.Addrs = []string{uri}
		return opts, nil
	}
	parsed, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis cluster url: %w", err)
	}
	opts.Addrs = []string{parsed.Addr}
	opts.Username = parsed.Username
	opts.TLSConfig = parsed.TLSConfig
	if parsed.Password != "" {
		opts.Password = parsed.Password
	}
	return opts, nil
}

func isRedisURL(s string) bool {
	return strings.HasPrefix(s, "redis://") || strings.HasPrefix(s, "rediss://")
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "redis"
	}
	return u.Redacted()
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// RunMigrations applies the embedded schema.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.Run(ctx, db, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
