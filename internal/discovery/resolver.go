package discovery

import (
	"context"
	"log/slog"

	"github.com/target/mmk-pageshot/internal/domain/model"
	"github.com/target/mmk-pageshot/internal/observability/metrics"
)

// WellKnownPaths are tried in order after robots.txt.
var WellKnownPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemaps.xml",
	"/sitemap/",
	"/sitemap/sitemap.xml",
	"/wp-sitemap.xml",
	"/sitemap-index.xml",
	"/page-sitemap.xml",
	"/post-sitemap.xml",
}

// HTMLSitemapPaths are tried last for human-readable sitemap pages.
var HTMLSitemapPaths = []string{"/sitemap", "/sitemap.html"}

// Result is the outcome of a successful resolution.
type Result struct {
	Domain string          `json:"domain"`
	URLs   []string        `json:"urls"`
	Source model.SourceTag `json:"source"`
}

// Resolver is the interface the sitemap runner depends on.
type Resolver interface {
	Resolve(ctx context.Context, domain string) (*Result, error)
}

// SitemapResolverOptions configure a SitemapResolver.
type SitemapResolverOptions struct {
	Fetcher  Fetcher
	Expander *Expander
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// DisableHTML skips the HTML sitemap strategy.
	DisableHTML bool
}

// SitemapResolver tries robots.txt, then the well-known paths, then HTML sitemap
// pages. The first strategy producing a non-empty list wins.
type SitemapResolver struct {
	fetcher     Fetcher
	expander    *Expander
	logger      *slog.Logger
	metrics     *metrics.Metrics
	disableHTML bool
}

// NewSitemapResolver creates a SitemapResolver.
func NewSitemapResolver(opts SitemapResolverOptions) *SitemapResolver {
	r := &SitemapResolver{
		fetcher:     opts.Fetcher,
		expander:    opts.Expander,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		disableHTML: opts.DisableHTML,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "sitemap_resolver")
	if r.expander == nil {
		r.expander = NewExpander(ExpanderOptions{Fetcher: r.fetcher, Logger: r.logger})
	}
	return r
}

// Resolve normalizes domain and runs the strategies in order.
func (r *SitemapResolver) Resolve(ctx context.Context, domain string) (*Result, error) {
	host, err := Normalize(domain)
	if err != nil {
		return nil, err
	}
	base := BaseURL(host)
	logger := r.logger.With("domain", host)

	// A cancelled expansion may have skipped children, so its list is not kept.
	if urls := r.fromRobots(ctx, logger, base); len(urls) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return r.found(host, urls, model.SourceRobotsTxt), nil
	}

	for _, path := range WellKnownPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, ferr := r.fetcher.Fetch(ctx, base+path)
		if ferr != nil {
			logger.DebugContext(ctx, "sitemap candidate skipped", "path", path, "error", ferr)
			continue
		}
		if urls := r.expander.Expand(ctx, ExtractLocs(body)); len(urls) > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return r.found(host, urls, model.SourceForPath(path)), nil
		}
	}

	if !r.disableHTML {
		for _, path := range HTMLSitemapPaths {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			body, ferr := r.fetcher.Fetch(ctx, base+path)
			if ferr != nil {
				logger.DebugContext(ctx, "html sitemap candidate skipped", "path", path, "error", ferr)
				continue
			}
			if urls := htmlSitemapLinks(body, base+path); len(urls) > 0 {
				return r.found(host, urls, model.SourceSitemapHTML), nil
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.metrics.ObserveResolve("not_found")
	logger.InfoContext(ctx, "no sitemap found")
	return nil, ErrNotFound
}

func (r *SitemapResolver) fromRobots(ctx context.Context, logger *slog.Logger, base string) []string {
	body, err := r.fetcher.Fetch(ctx, base+"/robots.txt")
	if err != nil {
		logger.DebugContext(ctx, "robots.txt skipped", "error", err)
		return nil
	}
	sitemaps := robotsSitemaps(body)
	if len(sitemaps) == 0 {
		return nil
	}
	return r.expander.Expand(ctx, sitemaps)
}

func (r *SitemapResolver) found(host string, urls []string, source model.SourceTag) *Result {
	r.metrics.ObserveResolve(string(source))
	r.logger.Info("sitemap resolved", "domain", host, "source", source, "url_count", len(urls))
	return &Result{Domain: host, URLs: urls, Source: source}
}

var _ Resolver = (*SitemapResolver)(nil)
