package config

import (
	"strings"
	"time"
)

// CrawlConfig controls the external bulk crawler and the worker that supervises it.
type CrawlConfig struct {
	// Command is the crawler executable. It receives --crawl, --output-folder, --export-tabs and --headless.
	Command string `env:"CRAWL_COMMAND" envDefault:"pagecrawl"`

	// OutputRoot is the parent of every per-job output folder.
	OutputRoot string `env:"CRAWL_OUTPUT_ROOT" envDefault:"/tmp/pageshot-crawls"`

	// BaseConfig is an optional crawler config file passed with --config.
	BaseConfig string `env:"CRAWL_BASE_CONFIG"`

	// Timeout is the hard limit for one crawl; the process is terminated when it elapses.
	Timeout time.Duration `env:"CRAWL_TIMEOUT" envDefault:"15m"`

	// KillGrace is how long a terminated crawler has to exit before it is killed.
	KillGrace time.Duration `env:"CRAWL_KILL_GRACE" envDefault:"5s"`

	// Concurrency is the number of crawls run at once.
	Concurrency int `env:"CRAWL_CONCURRENCY" envDefault:"1"`

	// MaxURLs and Depth are defaults for jobs that do not set their own; 0 leaves them unset.
	MaxURLs int `env:"CRAWL_MAX_URLS" envDefault:"0"`
	Depth   int `env:"CRAWL_DEPTH"    envDefault:"0"`

	// KeepOutput leaves the output folder in place after the job for debugging.
	KeepOutput bool `env:"CRAWL_KEEP_OUTPUT" envDefault:"false"`
}

// Sanitize applies guardrails to crawl configuration values.
func (c *CrawlConfig) Sanitize() {
	c.Command = strings.TrimSpace(c.Command)
	c.OutputRoot = strings.TrimSpace(c.OutputRoot)
	c.BaseConfig = strings.TrimSpace(c.BaseConfig)
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Minute
	}
	if c.KillGrace <= 0 {
		c.KillGrace = 5 * time.Second
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.MaxURLs < 0 {
		c.MaxURLs = 0
	}
	if c.Depth < 0 {
		c.Depth = 0
	}
}
