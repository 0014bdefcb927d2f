// Package config holds the process configuration, parsed from the
// environment with caarlos0/env. Each file owns one concern:
//
//   - log.go: LOG_LEVEL, LOG_FORMAT
//   - auth.go: AUTH_MODE, OAuth and role groups
//   - database.go: DB_* and REDIS_*
//   - http.go: listener and render worker API
//   - discovery.go: sitemap fetch limits and cache
//   - crawl.go: external crawler subprocess
//   - artifact.go: screenshot storage backend
//   - services.go: SERVICES, runners and reaper
//   - observability.go: metrics, job webhook and failure alerts
package config

import (
	"os"
	"strings"
)

// AppConfig is the root of the environment tree.
type AppConfig struct {
	// IsDev switches on debug text logs; NODE_ENV=development also sets it.
	IsDev bool `env:"DEV" envDefault:"false"`
	// Services is the SERVICES list; see ParseServices.
	Services string `env:"SERVICES" envDefault:"http"`

	Log      LogConfig `envPrefix:"LOG_"`
	Auth     AuthConfig
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	HTTP     HTTPConfig

	SitemapRunner SitemapRunnerConfig
	Crawl         CrawlConfig
	Reaper        ReaperConfig
	Discovery     DiscoveryConfig
	Artifact      ArtifactConfig
	Observability ObservabilityConfig
}

// Sanitize normalises every section after parsing.
func (c *AppConfig) Sanitize() {
	for _, s := range []interface{ Sanitize() }{
		&c.HTTP,
		&c.SitemapRunner,
		&c.Crawl,
		&c.Reaper,
		&c.Discovery,
		&c.Artifact,
		&c.Observability,
	} {
		s.Sanitize()
	}
	if !c.IsDev {
		switch strings.ToLower(os.Getenv("NODE_ENV")) {
		case "development", "dev":
			c.IsDev = true
		}
	}
}

// GetEnabledServices parses Services.
func (c *AppConfig) GetEnabledServices() (ServiceSet, error) {
	return ParseServices(c.Services)
}

// Runs reports whether mode is enabled; an invalid SERVICES value runs nothing.
func (c *AppConfig) Runs(mode ServiceMode) bool {
	set, err := c.GetEnabledServices()
	return err == nil && set.Has(mode)
}
