package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DBConfig is the PostgreSQL job store.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"pageshot"`
	Password string `env:"PASSWORD" envDefault:"pageshot"`
	Name     string `env:"NAME"     envDefault:"pageshot"`
	// SSLMode is passed through as sslmode; use require outside local development.
	SSLMode string `env:"SSL_MODE" envDefault:"disable"`

	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"    envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT"   envDefault:"5s"`

	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// DSN renders a postgres:// URL; credentials are escaped.
func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisMode selects the Redis client topology.
type RedisMode string

const (
	RedisModeDirect   RedisMode = "direct"
	RedisModeSentinel RedisMode = "sentinel"
	RedisModeCluster  RedisMode = "cluster"
)

// RedisConfig is shared by sessions, the discovery cache and the transition relay.
type RedisConfig struct {
	// URI is host:port or a redis:// / rediss:// URL. In cluster mode it is a
	// fallback seed when ClusterNodes is empty.
	URI      string `env:"URI"      envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`

	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`

	UseCluster   bool     `env:"USE_CLUSTER"   envDefault:"false"`
	ClusterNodes []string `env:"CLUSTER_NODES" envDefault:""`

	// KeyPrefix namespaces every key this service writes.
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"pageshot:"`
}

// Mode reports the topology; cluster wins over sentinel.
func (c RedisConfig) Mode() RedisMode {
	switch {
	case c.UseCluster:
		return RedisModeCluster
	case c.UseSentinel:
		return RedisModeSentinel
	default:
		return RedisModeDirect
	}
}

// Configured reports whether the selected topology has somewhere to connect to.
func (c RedisConfig) Configured() bool {
	switch c.Mode() {
	case RedisModeCluster:
		return len(trimmedAll(c.ClusterNodes)) > 0 || strings.TrimSpace(c.URI) != ""
	case RedisModeSentinel:
		return len(trimmedAll(c.SentinelNodes)) > 0
	default:
		return strings.TrimSpace(c.URI) != ""
	}
}

func trimmedAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
