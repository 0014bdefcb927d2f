package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultUserAgent      = "pagecrawl/1.0 (+https://github.com/target/mmk-pageshot)"
	defaultParallelism    = 4
	defaultRequestTimeout = 30 * time.Second
	defaultMaxURLs        = 10000
)

// crawlConfig is the base crawler configuration read from --config.
type crawlConfig struct {
	UserAgent      string        `yaml:"user_agent"`
	Parallelism    int           `yaml:"parallelism"`
	Delay          time.Duration `yaml:"delay"`
	RandomDelay    time.Duration `yaml:"random_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxURLs        int           `yaml:"max_urls"`
	MaxDepth       int           `yaml:"max_depth"`
	RespectRobots  bool          `yaml:"respect_robots_txt"`
	// Include and Exclude are URL regular expressions.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

func defaultConfig() crawlConfig {
	return crawlConfig{
		UserAgent:      defaultUserAgent,
		Parallelism:    defaultParallelism,
		RequestTimeout: defaultRequestTimeout,
		MaxURLs:        defaultMaxURLs,
	}
}

// loadConfig overlays the YAML file at path onto the defaults. An empty path
// returns the defaults.
func loadConfig(path string) (crawlConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c *crawlConfig) validate() error {
	c.UserAgent = strings.TrimSpace(c.UserAgent)
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Parallelism <= 0 {
		c.Parallelism = defaultParallelism
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxURLs < 0 || c.MaxDepth < 0 {
		return errors.New("max_urls and max_depth must not be negative")
	}
	if c.Delay < 0 || c.RandomDelay < 0 {
		return errors.New("delay and random_delay must not be negative")
	}
	if _, err := compileFilters(c.Include); err != nil {
		return fmt.Errorf("include: %w", err)
	}
	if _, err := compileFilters(c.Exclude); err != nil {
		return fmt.Errorf("exclude: %w", err)
	}
	return nil
}

func compileFilters(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
