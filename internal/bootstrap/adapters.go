package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/adapters/crawlrunner"
	"github.com/target/mmk-pageshot/internal/adapters/jobrunner"
	"github.com/target/mmk-pageshot/internal/adapters/reaper"
	"github.com/target/mmk-pageshot/internal/adapters/sitemaprunner"
	"github.com/target/mmk-pageshot/internal/core"
	"github.com/target/mmk-pageshot/internal/discovery"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"github.com/target/mmk-pageshot/internal/observability/metrics"
	"github.com/target/mmk-pageshot/internal/service"
)

// runJobRunner centralizes job runner setup so individual runners only pass job-specific options.
func runJobRunner(ctx context.Context, opts jobrunner.RunnerOptions) error {
	label := string(opts.Kind)
	if label == "" {
		label = "job"
	}

	runner, err := jobrunner.NewRunner(opts)
	if err != nil {
		return fmt.Errorf("create %s runner: %w", label, err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run %s runner: %w", label, runErr)
	}
	return nil
}

// SitemapRunnerConfig contains configuration for the sitemap runner.
type SitemapRunnerConfig struct {
	Jobs      *service.JobService
	Discovery *service.DiscoveryService
	Resolver  discovery.Resolver
	Config    config.SitemapRunnerConfig
	Logger    *slog.Logger
}

// RunSitemapRunner resolves pending sitemap jobs until ctx is done.
func RunSitemapRunner(ctx context.Context, cfg SitemapRunnerConfig) error {
	handler, err := sitemaprunner.New(sitemaprunner.Options{
		Resolver:      cfg.Resolver,
		Discovery:     cfg.Discovery,
		CrawlFallback: cfg.Config.CrawlFallback,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("create sitemap handler: %w", err)
	}

	return runJobRunner(ctx, jobrunner.RunnerOptions{
		Jobs:        cfg.Jobs,
		Kind:        model.JobKindSitemap,
		Handler:     handler.Handle,
		Logger:      cfg.Logger,
		Concurrency: cfg.Config.Concurrency,
		JobTimeout:  cfg.Config.JobTimeout,
	})
}

// CrawlRunnerConfig contains configuration for the crawl runner.
type CrawlRunnerConfig struct {
	Jobs    *service.JobService
	Config  config.CrawlConfig
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// RunCrawlRunner executes pending crawl jobs until ctx is done.
// The crawler enforces its own timeout, so the runner sets no job deadline.
func RunCrawlRunner(ctx context.Context, cfg CrawlRunnerConfig) error {
	crawler, err := crawlrunner.New(crawlrunner.Options{
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create crawler: %w", err)
	}

	return runJobRunner(ctx, jobrunner.RunnerOptions{
		Jobs:        cfg.Jobs,
		Kind:        model.JobKindCrawl,
		Handler:     crawler.Handle,
		Logger:      cfg.Logger,
		Concurrency: cfg.Config.Concurrency,
	})
}

// ReaperConfig contains configuration for reaper.
type ReaperConfig struct {
	DB      *sql.DB
	Jobs    *service.JobService
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics *metrics.Metrics
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Jobs:    cfg.Jobs,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}

const (
	relayRetryMin = time.Second
	relayRetryMax = 30 * time.Second
)

// TransitionRelayConfig contains configuration for the transition relay.
type TransitionRelayConfig struct {
	Jobs     *service.JobService
	Listener core.TransitionListener
	Logger   *slog.Logger
}

// RunTransitionRelay listens for transitions made by other instances and republishes them
// locally. A dropped connection is retried with capped backoff until ctx is done.
func RunTransitionRelay(ctx context.Context, cfg TransitionRelayConfig) error {
	if cfg.Jobs == nil || cfg.Listener == nil {
		return errors.New("job service and transition listener are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backoff := relayRetryMin
	for {
		started := time.Now()
		err := cfg.Listener.ListenTransitions(ctx, func(n core.TransitionNotice) {
			cfg.Jobs.HandleRemoteTransition(ctx, n)
		})
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > relayRetryMax {
			backoff = relayRetryMin
		}
		logger.WarnContext(ctx, "transition listener stopped; retrying", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, relayRetryMax)
	}
}
