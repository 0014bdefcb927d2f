package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// parseIntQuery returns the integer value of a query param or a default.
// It is tolerant of missing/invalid values.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// ParseLimitOffset parses common pagination params and clamps to sane bounds.
// - defLimit: default limit when not specified
// - maxLimit: maximum allowed limit (values > maxLimit are clamped to maxLimit).
func ParseLimitOffset(r *http.Request, defLimit, maxLimit int) (int, int) {
	if maxLimit < 1 {
		maxLimit = 1
	}

	lim := parseIntQuery(r, "limit", defLimit)
	off := parseIntQuery(r, "offset", 0)
	if lim < 1 {
		lim = 1
	}
	if lim > maxLimit {
		lim = maxLimit
	}
	if off < 0 {
		off = 0
	}
	return lim, off
}

// parseIDs reads ids from ?ids=a,b&ids=c, trimming blanks and duplicates.
func parseIDs(r *http.Request) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, raw := range r.URL.Query()["ids"] {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// parseSecondsQuery reads a whole-second duration; ok is false when the param is absent or invalid.
func parseSecondsQuery(r *http.Request, key string) (time.Duration, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
