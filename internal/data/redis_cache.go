package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-pageshot/internal/core"
)

var errEmptyKey = errors.New("cache key cannot be empty")

// RedisCache is the core.CacheRepository behind the discovery cache.
// Every key is stored under prefix.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

var _ core.CacheRepository = (*RedisCache)(nil)

func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) key(k string) (string, error) {
	if k == "" {
		return "", errEmptyKey
	}
	return r.prefix + k, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k, err := r.key(key)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, k, value, max(ttl, 0)).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get returns nil, nil for a missing key.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := r.key(key)
	if err != nil {
		return nil, err
	}
	b, err := r.client.Get(ctx, k).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) (bool, error) {
	k, err := r.key(key)
	if err != nil {
		return false, err
	}
	n, err := r.client.Del(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("redis del %s: %w", key, err)
	}
	return n > 0, nil
}

// SetIfNotExists is SET NX. A non-positive ttl becomes one second so a
// crashed holder cannot keep the key forever.
func (r *RedisCache) SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	k, err := r.key(key)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := r.client.SetNX(ctx, k, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}
