package testutil

import (
	"github.com/target/mmk-pageshot/internal/domain/model"
)

// DefaultOwner is the owner used by builders unless overridden.
const DefaultOwner = "user-1"

// SitemapJobRequest builds a sitemap job request for domain.
func SitemapJobRequest(owner, domain string) *model.CreateJobRequest {
	return &model.CreateJobRequest{
		Kind:    model.JobKindSitemap,
		Owner:   owner,
		Sitemap: &model.SitemapPayload{Domain: domain},
	}
}

// CrawlJobRequest builds a crawl job request, optionally linked to a sitemap job.
func CrawlJobRequest(owner, domain string, sitemapJobID *string) *model.CreateJobRequest {
	return &model.CreateJobRequest{
		Kind:  model.JobKindCrawl,
		Owner: owner,
		Crawl: &model.CrawlPayload{Domain: domain, SitemapJobID: sitemapJobID},
	}
}

// ScreenshotJobRequest builds a screenshot job request with default capture options.
func ScreenshotJobRequest(owner, url string) *model.CreateJobRequest {
	return &model.CreateJobRequest{
		Kind:  model.JobKindScreenshot,
		Owner: owner,
		Screenshot: &model.ScreenshotPayload{
			URL:     url,
			Options: model.CaptureOptions{}.WithDefaults(),
		},
	}
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string { return &s }
