package config

import (
	"strings"
	"time"
)

const defaultDiscoveryUserAgent = "Mozilla/5.0 (compatible; pageshot-sitemap/1.0; +https://github.com/target/mmk-pageshot)"

// DiscoveryConfig controls outbound sitemap fetches and result caching.
type DiscoveryConfig struct {
	// FetchTimeout bounds each individual fetch.
	FetchTimeout time.Duration `env:"DISCOVERY_FETCH_TIMEOUT" envDefault:"5s"`

	// UserAgent is sent on every discovery request.
	UserAgent string `env:"DISCOVERY_USER_AGENT"`

	// RateLimit is the sustained fetches per second per resolver; 0 disables limiting.
	RateLimit float64 `env:"DISCOVERY_RATE_LIMIT" envDefault:"5"`

	// RateBurst is the limiter burst size.
	RateBurst int `env:"DISCOVERY_RATE_BURST" envDefault:"5"`

	// CacheTTL is how long a successful resolve is cached in Redis; 0 disables the cache.
	CacheTTL time.Duration `env:"DISCOVERY_CACHE_TTL" envDefault:"1h"`

	// MaxBodyBytes caps how much of one response is read.
	MaxBodyBytes int64 `env:"DISCOVERY_MAX_BODY_BYTES" envDefault:"10485760"` // 10 MiB

	// IndexFanout and NestedFanout bound sitemap index expansion.
	IndexFanout  int `env:"DISCOVERY_INDEX_FANOUT"  envDefault:"15"`
	NestedFanout int `env:"DISCOVERY_NESTED_FANOUT" envDefault:"5"`
}

// Sanitize applies guardrails to discovery configuration values.
func (d *DiscoveryConfig) Sanitize() {
	if d.FetchTimeout <= 0 {
		d.FetchTimeout = 5 * time.Second
	}
	d.UserAgent = strings.TrimSpace(d.UserAgent)
	if d.UserAgent == "" {
		d.UserAgent = defaultDiscoveryUserAgent
	}
	if d.RateLimit < 0 {
		d.RateLimit = 0
	}
	if d.RateBurst < 1 {
		d.RateBurst = 1
	}
	if d.CacheTTL < 0 {
		d.CacheTTL = 0
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 10 << 20
	}
	if d.IndexFanout < 1 {
		d.IndexFanout = 15
	}
	if d.NestedFanout < 1 {
		d.NestedFanout = 5
	}
}
