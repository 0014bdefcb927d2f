package model

import "strings"

// SourceTag names the discovery strategy that produced a sitemap job's URLs.
type SourceTag string

const (
	// SourceSitemapXML is the tag for /sitemap.xml.
	SourceSitemapXML SourceTag = "sitemap_xml"
	// SourceSitemapIndex is the tag for /sitemap_index.xml.
	SourceSitemapIndex SourceTag = "sitemap_index_xml"
	// SourceSitemapHTML is the tag for an HTML sitemap page.
	SourceSitemapHTML SourceTag = "sitemap_html"
	// SourceRobotsTxt is the tag for Sitemap: directives found in robots.txt.
	SourceRobotsTxt SourceTag = "robots_txt"
	// SourceBulkCrawl is the tag for URLs propagated from a bulk crawl.
	SourceBulkCrawl SourceTag = "bulk_crawl"
)

// SourceForPath derives a tag from a well-known sitemap path:
// "/wp-sitemap.xml" -> "wp-sitemap_xml", "/sitemap/" -> "sitemap_".
func SourceForPath(path string) SourceTag {
	p := strings.TrimPrefix(path, "/")
	p = strings.NewReplacer("/", "_", ".", "_").Replace(p)
	return SourceTag(p)
}
