// Package sitemaprunner resolves sitemap jobs. When a domain publishes no sitemap it
// hands the job over to a linked bulk crawl.
package sitemaprunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/mmk-pageshot/internal/adapters/jobrunner"
	"github.com/target/mmk-pageshot/internal/discovery"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"github.com/target/mmk-pageshot/internal/service"
)

// Options configures a Handler.
type Options struct {
	Resolver discovery.Resolver // Required
	// Discovery starts the fallback crawl; required when CrawlFallback is set.
	Discovery     *service.DiscoveryService
	CrawlFallback bool
	Logger        *slog.Logger
}

// Handler processes sitemap jobs.
type Handler struct {
	resolver  discovery.Resolver
	discovery *service.DiscoveryService
	fallback  bool
	logger    *slog.Logger
}

// New validates opts and returns a Handler.
func New(opts Options) (*Handler, error) {
	if opts.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if opts.CrawlFallback && opts.Discovery == nil {
		return nil, errors.New("discovery service is required for crawl fallback")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		resolver:  opts.Resolver,
		discovery: opts.Discovery,
		fallback:  opts.CrawlFallback,
		logger:    logger.With("component", "sitemap_runner"),
	}, nil
}

// Handle is a jobrunner.HandlerFunc for sitemap jobs.
func (h *Handler) Handle(ctx context.Context, job *model.Job) (*jobrunner.Outcome, error) {
	if job.Sitemap == nil {
		return nil, fmt.Errorf("sitemap job %s has no sitemap payload", job.ID)
	}
	log := h.logger.With("job_id", job.ID, "kind", job.Kind, "domain", job.Sitemap.Domain)

	res, err := h.resolver.Resolve(ctx, job.Sitemap.Domain)
	switch {
	case err == nil:
		log.InfoContext(ctx, "sitemap resolved", "source", res.Source, "urls", len(res.URLs))
		return &jobrunner.Outcome{URLs: res.URLs, Source: res.Source}, nil
	case !errors.Is(err, discovery.ErrNotFound) || !h.fallback:
		return nil, err
	}

	id := job.ID
	crawl, err := h.discovery.StartCrawl(ctx, service.StartCrawlRequest{
		Owner:        job.Owner,
		Domain:       job.Sitemap.Domain,
		SitemapJobID: &id,
	})
	if err != nil {
		return nil, fmt.Errorf("%w; bulk crawl fallback: %w", discovery.ErrNotFound, err)
	}
	log.InfoContext(ctx, "no sitemap found, handed over to bulk crawl", "crawl_job_id", crawl.ID)
	return &jobrunner.Outcome{Deferred: true}, nil
}
