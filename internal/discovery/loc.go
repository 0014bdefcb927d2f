package discovery

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

// locPattern is deliberately lenient: no XML parsing, any case, any whitespace,
// CDATA wrappers stripped afterwards.
var locPattern = regexp.MustCompile(`(?is)<loc>\s*(.*?)\s*</loc>`)

// ExtractLocs returns the <loc> values of a sitemap or sitemap index body.
func ExtractLocs(body []byte) []string {
	matches := locPattern.FindAllSubmatch(body, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		v := strings.TrimSpace(string(m[1]))
		v = strings.TrimSuffix(strings.TrimPrefix(v, "<![CDATA["), "]]>")
		v = strings.TrimSpace(html.UnescapeString(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// IsIndex reports whether strictly more than half of urls point at further
// .xml documents, marking the list as a sitemap index.
func IsIndex(urls []string) bool {
	if len(urls) == 0 {
		return false
	}
	xml := 0
	for _, u := range urls {
		if isXMLURL(u) {
			xml++
		}
	}
	return xml*2 > len(urls)
}

func isXMLURL(raw string) bool {
	path := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		path = u.Path
	} else if i := strings.IndexAny(raw, "?#"); i >= 0 {
		path = raw[:i]
	}
	return strings.HasSuffix(strings.ToLower(path), ".xml")
}

// dedup returns urls without repeats, keeping first-seen order.
func dedup(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
