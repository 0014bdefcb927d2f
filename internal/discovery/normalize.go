// Package discovery resolves a domain to the set of page URLs it publishes through
// robots.txt, well-known sitemap paths or an HTML sitemap page.
package discovery

import (
	"strings"

	"golang.org/x/net/publicsuffix"

	apperrors "github.com/target/mmk-pageshot/internal/errors"
)

// Normalize reduces user input to a bare lowercase host: scheme, leading "www."
// and everything from the first '/', '?', '#' or ':' are removed.
func Normalize(domain string) (string, error) {
	host := strings.ToLower(strings.TrimSpace(domain))
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host = strings.TrimPrefix(host, "www.")
	if i := strings.IndexAny(host, "/?#:"); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", apperrors.ValidationField("domain", "domain is required")
	}
	if strings.ContainsAny(host, " \t@\\") {
		return "", apperrors.ValidationField("domain", "domain contains invalid characters")
	}
	return host, nil
}

// BaseURL returns the https origin used for every outbound fetch of host.
func BaseURL(host string) string {
	return "https://" + host
}

// sameSite reports whether two hosts share a registrable domain, so links from
// shop.example.com to www.example.com are kept.
func sameSite(a, b string) bool {
	a = strings.TrimPrefix(strings.ToLower(a), "www.")
	b = strings.TrimPrefix(strings.ToLower(b), "www.")
	if a == b {
		return true
	}
	ra, errA := publicsuffix.EffectiveTLDPlusOne(a)
	rb, errB := publicsuffix.EffectiveTLDPlusOne(b)
	if errA != nil || errB != nil {
		return false
	}
	return ra == rb
}
