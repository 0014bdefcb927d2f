package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/target/mmk-pageshot/internal/observability/metrics"
)

const (
	// DefaultUserAgent identifies discovery and crawl traffic.
	DefaultUserAgent = "Mozilla/5.0 (compatible; pageshot-crawler/1.0; +https://github.com/target/mmk-pageshot)"
	// DefaultFetchTimeout bounds each outbound fetch.
	DefaultFetchTimeout = 5 * time.Second
	// DefaultMaxBodyBytes caps how much of a response body is read.
	DefaultMaxBodyBytes = 10 << 20
)

// Fetch outcome labels.
const (
	outcomeOK      = "ok"
	outcomeStatus  = "bad_status"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

// Fetcher retrieves a document body. Any error means the candidate is skipped.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcherOptions configure an HTTPFetcher.
type HTTPFetcherOptions struct {
	Client       *http.Client
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	// RatePerSecond limits outbound fetches per host; zero disables limiting.
	RatePerSecond float64
	Burst         int
	Metrics       *metrics.Metrics
}

// HTTPFetcher fetches over HTTP with a per-request timeout, a crawler user agent and
// charset-aware decoding to UTF-8.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	maxBytes  int64
	limiters  *hostLimiters
	metrics   *metrics.Metrics
}

// maxTrackedHosts bounds the limiter map; past it the map starts over.
const maxTrackedHosts = 1024

// hostLimiters hands out one token bucket per host.
type hostLimiters struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func (h *hostLimiters) forURL(raw string) *rate.Limiter {
	host := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		host = u.Host
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.buckets[host]; ok {
		return l
	}
	if len(h.buckets) >= maxTrackedHosts {
		clear(h.buckets)
	}
	l := rate.NewLimiter(h.limit, h.burst)
	h.buckets[host] = l
	return l
}

// NewHTTPFetcher creates an HTTPFetcher with defaults applied.
func NewHTTPFetcher(opts HTTPFetcherOptions) *HTTPFetcher {
	f := &HTTPFetcher{
		client:    opts.Client,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
		maxBytes:  opts.MaxBodyBytes,
		metrics:   opts.Metrics,
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.userAgent == "" {
		f.userAgent = DefaultUserAgent
	}
	if f.timeout <= 0 {
		f.timeout = DefaultFetchTimeout
	}
	if f.maxBytes <= 0 {
		f.maxBytes = DefaultMaxBodyBytes
	}
	if opts.RatePerSecond > 0 {
		burst := max(opts.Burst, 1)
		f.limiters = &hostLimiters{
			limit:   rate.Limit(opts.RatePerSecond),
			burst:   burst,
			buckets: make(map[string]*rate.Limiter),
		}
	}
	return f
}

// Fetch GETs url. Non-2xx statuses, timeouts and transport errors return *FetchError.
// Waiting for a rate-limit token is bounded by ctx only; the fetch timeout starts
// once the token is granted.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.limiters != nil {
		if err := f.limiters.forURL(url).Wait(ctx); err != nil {
			f.metrics.ObserveFetch(outcomeError)
			return nil, &FetchError{URL: url, Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	body, status, err := f.do(ctx, url)
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		f.metrics.ObserveFetch(outcomeTimeout)
		return nil, &FetchError{URL: url, Err: err}
	case err != nil:
		f.metrics.ObserveFetch(outcomeError)
		return nil, &FetchError{URL: url, Err: err}
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		f.metrics.ObserveFetch(outcomeStatus)
		return nil, &FetchError{URL: url, Status: status}
	}
	f.metrics.ObserveFetch(outcomeOK)
	return body, nil
}

func (f *HTTPFetcher) do(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/xml,text/xml,text/html;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, nil
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, f.maxBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode body: %w", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}
