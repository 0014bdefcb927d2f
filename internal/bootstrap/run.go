package bootstrap

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/artifact"
	httpx "github.com/target/mmk-pageshot/internal/http"
	"github.com/target/mmk-pageshot/internal/service"
)

const (
	// shutdownGrace bounds how long stopping components may take after a
	// signal or a failure.
	shutdownGrace       = 15 * time.Second
	httpShutdownTimeout = 10 * time.Second
	defaultHTTPAddr     = ":8080"
)

// ServiceOrchestrationConfig carries what RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// component is one long-running part of the process.
type component struct {
	mode config.ServiceMode
	name string
	run  func(context.Context) error
}

// RunServicesWithShutdown runs the components SERVICES selects until SIGINT,
// SIGTERM or the first component failure, then waits for the rest to stop.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config with AppConfig is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = supervise(ctx, logger, selectComponents(cfg, logger, enabled), shutdownGrace)
	drainSinks(cfg.Services.Observability, logger)
	return err
}

// selectComponents lists the enabled components in startup order. The
// transition relay rides along with the http mode.
func selectComponents(cfg *ServiceOrchestrationConfig, logger *slog.Logger, enabled config.ServiceSet) []component {
	svcs := cfg.Services
	all := []component{
		{mode: config.ServiceModeHTTP, name: "http server", run: func(ctx context.Context) error {
			handler := httpx.NewRouter(routerServices(cfg.Config, svcs, logger))
			api := newAPIServer(cfg.Config.HTTP.Addr, handler, svcs.Jobs, logger)
			api.stopTimeout = cfg.Config.HTTP.ShutdownTimeout
			return api.serve(ctx)
		}},
		{mode: config.ServiceModeHTTP, name: "transition relay", run: func(ctx context.Context) error {
			return RunTransitionRelay(ctx, TransitionRelayConfig{Jobs: svcs.Jobs, Listener: svcs.JobRepo, Logger: logger})
		}},
		{mode: config.ServiceModeSitemapRunner, name: "sitemap runner", run: func(ctx context.Context) error {
			return RunSitemapRunner(ctx, SitemapRunnerConfig{
				Jobs:      svcs.Jobs,
				Discovery: svcs.Discovery,
				Resolver:  svcs.Resolver,
				Config:    cfg.Config.SitemapRunner,
				Logger:    logger,
			})
		}},
		{mode: config.ServiceModeCrawlRunner, name: "crawl runner", run: func(ctx context.Context) error {
			return RunCrawlRunner(ctx, CrawlRunnerConfig{
				Jobs:    svcs.Jobs,
				Config:  cfg.Config.Crawl,
				Logger:  logger,
				Metrics: svcs.Observability.Metrics,
			})
		}},
		{mode: config.ServiceModeReaper, name: "reaper", run: func(ctx context.Context) error {
			return RunReaper(ctx, ReaperConfig{
				DB:      cfg.DB,
				Jobs:    svcs.Jobs,
				Logger:  logger,
				Config:  cfg.Config.Reaper,
				Metrics: svcs.Observability.Metrics,
			})
		}},
	}
	var out []component
	for _, c := range all {
		if enabled.Has(c.mode) {
			out = append(out, c)
		}
	}
	return out
}

// supervise runs every component until ctx ends or one of them fails. The
// first failure cancels the rest and is returned. Components still running
// grace after cancellation are abandoned with a warning.
func supervise(ctx context.Context, logger *slog.Logger, parts []component, grace time.Duration) error {
	if len(parts) == 0 {
		return errors.New("no services enabled")
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range parts {
		g.Go(func() error {
			logger.InfoContext(ctx, "service started", "service", c.name, "mode", c.mode)
			err := c.run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorContext(ctx, "service failed", "service", c.name, "error", err)
				return fmt.Errorf("%s: %w", c.name, err)
			}
			logger.InfoContext(ctx, "service stopped", "service", c.name)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-gctx.Done():
	}
	if ctx.Err() != nil {
		logger.Info("shutting down services")
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		logger.Warn("services did not stop in time", "grace", grace)
		return fmt.Errorf("shutdown exceeded %s", grace)
	}
}

// apiServer owns the HTTP listener. Request contexts derive from a base
// context that Shutdown cancels so open event streams end.
type apiServer struct {
	srv    *http.Server
	jobs   *service.JobService
	logger *slog.Logger
	// stopTimeout bounds Shutdown; zero means httpShutdownTimeout.
	stopTimeout time.Duration
}

func newAPIServer(addr string, handler http.Handler, jobs *service.JobService, logger *slog.Logger) *apiServer {
	base, cancel := context.WithCancel(context.Background())
	// No write timeout: event streams and reserve long-polls hold responses open.
	srv := &http.Server{
		Addr:              cmp.Or(addr, defaultHTTPAddr),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancel)
	return &apiServer{srv: srv, jobs: jobs, logger: logger}
}

func (s *apiServer) serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}
	return s.serveOn(ctx, ln)
}

// serveOn serves ln until ctx ends, then shuts down gracefully.
func (s *apiServer) serveOn(ctx context.Context, ln net.Listener) error {
	failed := make(chan error, 1)
	go func() { failed <- s.srv.Serve(ln) }()
	s.logger.InfoContext(ctx, "HTTP server listening", "addr", ln.Addr().String())

	select {
	case err := <-failed:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// Long-poll waiters go first so they do not hold Shutdown open.
	if s.jobs != nil {
		s.jobs.StopAllListeners()
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), cmp.Or(s.stopTimeout, httpShutdownTimeout))
	defer cancel()
	if err := s.srv.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func routerServices(appCfg *config.AppConfig, svcs ServiceContainer, logger *slog.Logger) httpx.RouterServices {
	rs := httpx.RouterServices{
		Jobs:           svcs.Jobs,
		Discovery:      svcs.Discovery,
		Dispatch:       svcs.Dispatch,
		Watcher:        svcs.Watcher,
		Artifacts:      svcs.Artifacts,
		WorkerToken:    appCfg.HTTP.WorkerAPIToken,
		MaxUploadBytes: appCfg.HTTP.MaxUploadBytes,
		CookieDomain:   appCfg.HTTP.CookieDomain,
		Readiness:      svcs.Readiness,
		Logger:         logger,
	}
	// A nil *AuthService must stay a nil interface so auth routes are skipped.
	if svcs.Auth != nil {
		rs.Auth = svcs.Auth
	} else {
		logger.Warn("auth service unavailable; job API routes disabled")
	}
	if local, ok := svcs.Artifacts.(*artifact.LocalStore); ok {
		rs.LocalArtifactDir = local.Dir()
	}
	if reg := svcs.Observability.Registry; reg != nil && appCfg.Observability.Metrics.IsEnabled() {
		rs.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
		rs.MetricsPath = appCfg.Observability.Metrics.Path
	}
	if !appCfg.HTTP.WorkerAPIEnabled() {
		logger.Warn("WORKER_API_TOKEN not set; render worker API will reject every request")
	}
	return rs
}

// drainSinks waits, bounded by shutdownGrace, for in-flight webhook and
// alert deliveries.
func drainSinks(obs ObservabilityContainer, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if obs.Webhook != nil {
			obs.Webhook.Wait()
		}
		if obs.FailureNotifier != nil {
			obs.FailureNotifier.Wait()
		}
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logger.Warn("timed out waiting for event sinks to drain")
	}
}
