package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/target/mmk-pageshot/internal/discovery"
	"github.com/target/mmk-pageshot/internal/domain/model"
	apperrors "github.com/target/mmk-pageshot/internal/errors"
)

// StartCrawlRequest asks for a bulk crawl of one domain.
type StartCrawlRequest struct {
	Owner        string
	Domain       string
	SitemapJobID *string
	// MaxURLs and CrawlDepth are crawler hints; zero falls back to the configured defaults.
	MaxURLs    int
	CrawlDepth int
}

// DiscoveryServiceOptions groups dependencies for DiscoveryService.
type DiscoveryServiceOptions struct {
	Jobs            *JobService // Required
	Logger          *slog.Logger
	DefaultMaxURLs  int
	DefaultMaxDepth int
}

// DiscoveryService creates sitemap and crawl jobs from user-supplied domains.
type DiscoveryService struct {
	jobs     *JobService
	maxURLs  int
	maxDepth int
	logger   *slog.Logger
}

// NewDiscoveryService constructs a DiscoveryService.
func NewDiscoveryService(opts DiscoveryServiceOptions) (*DiscoveryService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscoveryService{
		jobs:     opts.Jobs,
		maxURLs:  max(opts.DefaultMaxURLs, 0),
		maxDepth: max(opts.DefaultMaxDepth, 0),
		logger:   logger.With("component", "discovery_service"),
	}, nil
}

// StartSitemap creates a pending sitemap job for the normalized domain.
func (d *DiscoveryService) StartSitemap(ctx context.Context, owner, domain string) (*model.Job, error) {
	if owner == "" {
		return nil, apperrors.ValidationField("owner", "owner is required")
	}
	host, err := discovery.Normalize(domain)
	if err != nil {
		return nil, err
	}
	return d.jobs.Create(ctx, &model.CreateJobRequest{
		Kind:    model.JobKindSitemap,
		Owner:   owner,
		Sitemap: &model.SitemapPayload{Domain: host},
	})
}

// StartCrawl creates a pending crawl job. A linked sitemap job must belong to the
// same owner and still be open, since the crawl result settles it.
func (d *DiscoveryService) StartCrawl(ctx context.Context, req StartCrawlRequest) (*model.Job, error) {
	if req.Owner == "" {
		return nil, apperrors.ValidationField("owner", "owner is required")
	}
	host, err := discovery.Normalize(req.Domain)
	if err != nil {
		return nil, err
	}
	if req.MaxURLs < 0 {
		return nil, apperrors.ValidationField("max_urls", "max_urls must be >= 0")
	}
	if req.CrawlDepth < 0 {
		return nil, apperrors.ValidationField("crawl_depth", "crawl_depth must be >= 0")
	}

	var link *string
	if req.SitemapJobID != nil && *req.SitemapJobID != "" {
		sitemap, gerr := d.jobs.Get(ctx, req.Owner, model.JobKindSitemap, *req.SitemapJobID)
		if gerr != nil {
			return nil, gerr
		}
		if sitemap.Status.Terminal() {
			return nil, apperrors.Conflict("linked sitemap job is already " + string(sitemap.Status))
		}
		id := sitemap.ID
		link = &id
	}

	payload := &model.CrawlPayload{
		Domain:       host,
		SitemapJobID: link,
		MaxURLs:      req.MaxURLs,
		CrawlDepth:   req.CrawlDepth,
	}
	if payload.MaxURLs == 0 {
		payload.MaxURLs = d.maxURLs
	}
	if payload.CrawlDepth == 0 {
		payload.CrawlDepth = d.maxDepth
	}

	job, err := d.jobs.Create(ctx, &model.CreateJobRequest{
		Kind:  model.JobKindCrawl,
		Owner: req.Owner,
		Crawl: payload,
	})
	if err != nil {
		return nil, err
	}
	d.logger.InfoContext(ctx, "crawl job created", "id", job.ID, "domain", host, "sitemap_job_id", link)
	return job, nil
}
