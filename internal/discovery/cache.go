package discovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/target/mmk-pageshot/internal/core"
)

const (
	cacheKeyPrefix = "discovery:"
	lockKeyPrefix  = "discovery-lock:"

	// fillLockTTL outlives a full resolution so a crashed holder frees the lock.
	fillLockTTL     = 2 * time.Minute
	defaultLockWait = 10 * time.Second
	defaultLockPoll = 250 * time.Millisecond
)

// CachingResolver memoizes successful resolutions per normalized domain.
// Misses and errors are never cached. Concurrent resolutions of one domain
// collapse to a single upstream call within a process, and a lock in the
// cache keeps other instances from repeating it.
type CachingResolver struct {
	next   Resolver
	cache  core.CacheRepository
	ttl    time.Duration
	logger *slog.Logger
	flight singleflight.Group

	lockWait time.Duration
	lockPoll time.Duration
}

// NewCachingResolver wraps next. A nil cache or non-positive ttl disables caching.
func NewCachingResolver(next Resolver, cache core.CacheRepository, ttl time.Duration, logger *slog.Logger) Resolver {
	if cache == nil || ttl <= 0 {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingResolver{
		next:     next,
		cache:    cache,
		ttl:      ttl,
		logger:   logger.With("component", "discovery_cache"),
		lockWait: defaultLockWait,
		lockPoll: defaultLockPoll,
	}
}

// Resolve serves from cache when possible and stores fresh results.
func (c *CachingResolver) Resolve(ctx context.Context, domain string) (*Result, error) {
	host, err := Normalize(domain)
	if err != nil {
		return nil, err
	}
	if res := c.lookup(ctx, host); res != nil {
		return res, nil
	}
	// Callers joining an in-flight fill share the first caller's context.
	v, err, _ := c.flight.Do(host, func() (any, error) { return c.fill(ctx, host) })
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (c *CachingResolver) lookup(ctx context.Context, host string) *Result {
	raw, err := c.cache.Get(ctx, cacheKeyPrefix+host)
	if err != nil {
		c.logger.WarnContext(ctx, "discovery cache read failed", "domain", host, "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil || len(res.URLs) == 0 {
		return nil
	}
	return &res
}

// fill resolves host upstream and caches the result. When another instance
// holds the fill lock it first waits for that instance's result.
func (c *CachingResolver) fill(ctx context.Context, host string) (*Result, error) {
	lock := lockKeyPrefix + host
	held, err := c.cache.SetIfNotExists(ctx, lock, []byte("1"), fillLockTTL)
	switch {
	case err != nil:
		c.logger.WarnContext(ctx, "discovery fill lock failed", "domain", host, "error", err)
	case held:
		defer func() {
			if _, derr := c.cache.Delete(context.WithoutCancel(ctx), lock); derr != nil {
				c.logger.WarnContext(ctx, "discovery fill lock release failed", "domain", host, "error", derr)
			}
		}()
	default:
		if res := c.await(ctx, host); res != nil {
			return res, nil
		}
	}

	res, err := c.next.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	if raw, merr := json.Marshal(res); merr == nil {
		if serr := c.cache.Set(ctx, cacheKeyPrefix+host, raw, c.ttl); serr != nil {
			c.logger.WarnContext(ctx, "discovery cache write failed", "domain", host, "error", serr)
		}
	}
	return res, nil
}

// await polls the cache until another instance's result lands, lockWait
// passes or ctx ends. A nil result means resolve locally.
func (c *CachingResolver) await(ctx context.Context, host string) *Result {
	deadline := time.NewTimer(c.lockWait)
	defer deadline.Stop()
	tick := time.NewTicker(c.lockPoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			c.logger.DebugContext(ctx, "gave up waiting for discovery fill", "domain", host)
			return nil
		case <-tick.C:
			if res := c.lookup(ctx, host); res != nil {
				return res
			}
		}
	}
}
