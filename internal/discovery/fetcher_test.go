package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_SendsUserAgentAndReadsBody(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		_, _ = w.Write([]byte(urlset("https://example.com/a")))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPFetcherOptions{Client: srv.Client()})
	body, err := f.Fetch(context.Background(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, []string{"https://example.com/a"}, ExtractLocs(body))
}

func TestHTTPFetcher_DecodesCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/xml; charset=iso-8859-1")
		_, _ = w.Write([]byte("<loc>https://example.com/caf\xe9</loc>"))
	}))
	defer srv.Close()

	body, err := NewHTTPFetcher(HTTPFetcherOptions{Client: srv.Client()}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/café"}, ExtractLocs(body))
}

func TestHTTPFetcher_Non2xxIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(HTTPFetcherOptions{Client: srv.Client()}).Fetch(context.Background(), srv.URL)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.Status)
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewHTTPFetcher(HTTPFetcherOptions{Client: srv.Client(), Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPFetcher_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPFetcherOptions{Client: srv.Client(), RatePerSecond: 20, Burst: 1})
	start := time.Now()
	for range 3 {
		_, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestHTTPFetcher_LimitsPerHost(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	a := httptest.NewServer(ok)
	defer a.Close()
	b := httptest.NewServer(ok)
	defer b.Close()

	f := NewHTTPFetcher(HTTPFetcherOptions{RatePerSecond: 1, Burst: 1})
	start := time.Now()
	_, err := f.Fetch(context.Background(), a.URL)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), b.URL)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, a.URL)
	var fe *FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestExpander_ConcurrentExpansionsWaitForTokens(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(urlset(srv.URL + "/page" + strings.TrimSuffix(r.URL.Path, ".xml"))))
	}))
	defer srv.Close()

	// Each request completes well inside the timeout, but the queue for
	// tokens is several times longer than it.
	f := NewHTTPFetcher(HTTPFetcherOptions{
		Client:        srv.Client(),
		Timeout:       50 * time.Millisecond,
		RatePerSecond: 100,
		Burst:         1,
	})
	e := NewExpander(ExpanderOptions{Fetcher: f})

	const expansions = 3
	counts := make([]int, expansions)
	var wg sync.WaitGroup
	for i := range expansions {
		wg.Go(func() {
			var index []string
			for c := range DefaultIndexFanout {
				index = append(index, fmt.Sprintf("%s/e%d-child-%d.xml", srv.URL, i, c))
			}
			counts[i] = len(e.Expand(context.Background(), index))
		})
	}
	wg.Wait()

	for i, n := range counts {
		assert.Equal(t, DefaultIndexFanout, n, "expansion %d", i)
	}
}
