package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// fakeFetcher serves canned bodies; unknown URLs fail with a 404 FetchError.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  []string
}

func newFakeFetcher(bodies map[string]string) *fakeFetcher {
	return &fakeFetcher{bodies: bodies}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	body, ok := f.bodies[url]
	if !ok {
		return nil, &FetchError{URL: url, Status: 404}
	}
	return []byte(body), nil
}

func (f *fakeFetcher) called(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == url {
			return true
		}
	}
	return false
}

func urlset(urls ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, u := range urls {
		fmt.Fprintf(&b, "<url><loc>%s</loc></url>", u)
	}
	b.WriteString("</urlset>")
	return b.String()
}

func sitemapIndex(urls ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, u := range urls {
		fmt.Fprintf(&b, "<sitemap><loc>%s</loc></sitemap>", u)
	}
	b.WriteString("</sitemapindex>")
	return b.String()
}

func pages(base string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s/page-%d", base, i)
	}
	return out
}
