package discovery

import (
	"strings"

	"github.com/temoto/robotstxt"
)

// robotsSitemaps returns the Sitemap: directives of a robots.txt body.
func robotsSitemaps(body []byte) []string {
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(data.Sitemaps))
	for _, s := range data.Sitemaps {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return dedup(out)
}
