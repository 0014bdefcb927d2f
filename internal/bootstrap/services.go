package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/artifact"
	"github.com/target/mmk-pageshot/internal/data"
	"github.com/target/mmk-pageshot/internal/discovery"
	domainjob "github.com/target/mmk-pageshot/internal/domain/job"
	"github.com/target/mmk-pageshot/internal/domain/model"
	httpx "github.com/target/mmk-pageshot/internal/http"
	"github.com/target/mmk-pageshot/internal/observability/metrics"
	"github.com/target/mmk-pageshot/internal/observability/notify/pagerduty"
	"github.com/target/mmk-pageshot/internal/observability/notify/slack"
	"github.com/target/mmk-pageshot/internal/service"
	"github.com/target/mmk-pageshot/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs      *service.JobService
	Discovery *service.DiscoveryService
	Dispatch  *service.DispatchService
	Watcher   *service.Watcher
	Auth      *service.AuthService
	Artifacts artifact.Store
	Resolver  discovery.Resolver
	JobRepo   *data.JobRepo
	// Readiness holds the dependency checks served on /readyz.
	Readiness map[string]httpx.ReadinessCheck

	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	Metrics         *metrics.Metrics
	Registry        *prometheus.Registry
	MetricsConfig   config.MetricsConfig
	FailureNotifier *failurenotifier.Service
	Webhook         *service.WebhookSink
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) (ObservabilityContainer, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	obs := ObservabilityContainer{
		Metrics:         m,
		Registry:        reg,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(logger, cfg.Alerts),
	}

	if cfg.Webhook.IsEnabled() {
		sink, err := service.NewWebhookSink(service.WebhookSinkOptions{
			Config:  cfg.Webhook,
			Logger:  logger,
			Metrics: m,
		})
		if err != nil {
			return obs, fmt.Errorf("create job webhook: %w", err)
		}
		obs.Webhook = sink
	}
	return obs, nil
}

func (o ObservabilityContainer) sinks() []service.EventSink {
	var sinks []service.EventSink
	if o.Webhook != nil {
		sinks = append(sinks, o.Webhook)
	}
	if o.FailureNotifier != nil && o.FailureNotifier.Enabled() {
		sinks = append(sinks, o.FailureNotifier)
	}
	return sinks
}

func newJobService(
	repo *data.JobRepo,
	cfg *config.AppConfig,
	obs ObservabilityContainer,
	logger *slog.Logger,
) (*service.JobService, error) {
	policy, err := domainjob.NewWaitPolicy(min(25*time.Second, cfg.HTTP.ReserveMaxWait), cfg.HTTP.ReserveMaxWait)
	if err != nil {
		return nil, fmt.Errorf("reserve wait policy: %w", err)
	}
	broker := domainjob.NewBroker(domainjob.BrokerOptions{
		OnDrop: func(model.JobEvent) { obs.Metrics.EventDropped() },
	})
	return service.NewJobService(service.JobServiceOptions{
		Repo:       repo,
		Logger:     logger,
		WaitPolicy: policy,
		Broker:     broker,
		Sinks:      obs.sinks(),
		Metrics:    obs.Metrics,
	})
}

// NewResolver wires the sitemap resolver with an optional Redis-backed result cache.
func NewResolver(cfg config.DiscoveryConfig, rdb redis.UniversalClient, prefix string, m *metrics.Metrics, logger *slog.Logger) discovery.Resolver {
	fetcher := discovery.NewHTTPFetcher(discovery.HTTPFetcherOptions{
		UserAgent:     cfg.UserAgent,
		Timeout:       cfg.FetchTimeout,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		RatePerSecond: cfg.RateLimit,
		Burst:         cfg.RateBurst,
		Metrics:       m,
	})
	resolver := discovery.NewSitemapResolver(discovery.SitemapResolverOptions{
		Fetcher: fetcher,
		Expander: discovery.NewExpander(discovery.ExpanderOptions{
			Fetcher:      fetcher,
			Logger:       logger,
			IndexFanout:  cfg.IndexFanout,
			NestedFanout: cfg.NestedFanout,
		}),
		Logger:  logger,
		Metrics: m,
	})
	if rdb == nil || cfg.CacheTTL <= 0 {
		return resolver
	}
	return discovery.NewCachingResolver(resolver, data.NewRedisCache(rdb, prefix), cfg.CacheTTL, logger)
}

// NewServices builds the service graph shared by the HTTP server and the background runners.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil || deps.DB == nil {
		return ServiceContainer{}, errors.New("config and database are required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	obs, err := buildObservability(logger, cfg.Observability)
	if err != nil {
		return ServiceContainer{}, err
	}

	repo := data.NewJobRepo(deps.DB, data.RepoConfig{Logger: logger})
	jobs, err := newJobService(repo, cfg, obs, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job service: %w", err)
	}

	disc, err := service.NewDiscoveryService(service.DiscoveryServiceOptions{
		Jobs:            jobs,
		Logger:          logger,
		DefaultMaxURLs:  cfg.Crawl.MaxURLs,
		DefaultMaxDepth: cfg.Crawl.Depth,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create discovery service: %w", err)
	}

	c := ServiceContainer{
		Jobs:      jobs,
		Discovery: disc,
		Dispatch:  service.NewDispatchService(jobs, logger),
		Watcher:   service.NewWatcher(jobs, logger),
		Auth: BuildAuthService(AuthConfig{
			Ctx:         ctx,
			Auth:        cfg.Auth,
			RedisClient: deps.RedisClient,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			Logger:      logger,
		}),
		Resolver:      NewResolver(cfg.Discovery, deps.RedisClient, cfg.Redis.KeyPrefix, obs.Metrics, logger),
		JobRepo:       repo,
		Readiness:     readinessChecks(deps),
		Observability: obs,
	}

	if cfg.Runs(config.ServiceModeHTTP) {
		store, storeErr := artifact.New(ctx, artifact.Options{
			Config:     cfg.Artifact,
			AppBaseURL: cfg.HTTP.BaseURL,
			Logger:     logger,
			Metrics:    obs.Metrics,
		})
		if storeErr != nil {
			return ServiceContainer{}, fmt.Errorf("create artifact store: %w", storeErr)
		}
		c.Artifacts = store
	}
	return c, nil
}

func readinessChecks(deps *ServiceDeps) map[string]httpx.ReadinessCheck {
	checks := make(map[string]httpx.ReadinessCheck, 2)
	if deps.DB != nil {
		checks["postgres"] = deps.DB.PingContext
	}
	if deps.RedisClient != nil {
		rdb := deps.RedisClient
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

func buildFailureNotifier(logger *slog.Logger, cfg config.AlertsConfig) *failurenotifier.Service {
	opts := failurenotifier.Options{Logger: logger}
	if !cfg.Enabled {
		return failurenotifier.NewService(opts)
	}

	for _, raw := range cfg.Kinds {
		var kind model.JobKind
		if err := kind.UnmarshalText([]byte(raw)); err != nil {
			logger.Warn("ignoring unknown alert job kind", "kind", raw)
			continue
		}
		opts.Kinds = append(opts.Kinds, kind)
	}

	if cfg.SlackActive() {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			JobURLPrefix: cfg.Slack.JobURLPrefix,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("slack alerts disabled", "error", err)
		} else {
			opts.Sinks = append(opts.Sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDutyActive() {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("pagerduty alerts disabled", "error", err)
		} else {
			opts.Sinks = append(opts.Sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	return failurenotifier.NewService(opts)
}
