package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-pageshot/internal/adapters/crawlrunner"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	page := func(links ...string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, "<html><body>")
			for _, l := range links {
				_, _ = fmt.Fprintf(w, `<a href="%s">link</a>`, l)
			}
			_, _ = io.WriteString(w, "</body></html>")
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", page("/about", "/contact", "/missing", "/logo.png", "https://elsewhere.example.com/x"))
	mux.HandleFunc("/about", page("/deep", "/"))
	mux.HandleFunc("/contact", page("mailto:team@example.com"))
	mux.HandleFunc("/deep", page("/deeper"))
	mux.HandleFunc("/deeper", page())
	mux.HandleFunc("/logo.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func readExport(t *testing.T, dir string) [][]string {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, exportFile))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, exportHeader, rows[0])
	return rows[1:]
}

func addresses(rows [][]string) map[string][]string {
	out := make(map[string][]string, len(rows))
	for _, r := range rows {
		out[r[0]] = r
	}
	return out
}

func TestRunWritesInternalAllExport(t *testing.T) {
	srv := newSite(t)
	dir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := run(ctx, quietLogger(), []string{
		"--crawl", srv.URL,
		"--output-folder", dir,
		"--export-tabs", "Internal:All",
		"--headless",
	}, io.Discard)
	require.NoError(t, err)

	rows := addresses(readExport(t, dir))
	assert.Len(t, rows, 7)
	assert.Equal(t, []string{srv.URL + "/", "200", "text/html; charset=utf-8", "0"}, rows[srv.URL+"/"])
	assert.Equal(t, "404", rows[srv.URL+"/missing"][1])
	assert.Equal(t, "3", rows[srv.URL+"/deeper"][3])
	assert.NotContains(t, rows, "https://elsewhere.example.com/x")

	urls, err := crawlrunner.ParseExportFile(filepath.Join(dir, exportFile))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		srv.URL + "/",
		srv.URL + "/about",
		srv.URL + "/contact",
		srv.URL + "/deep",
		srv.URL + "/deeper",
	}, urls)
}

func TestRunHonoursDepthHint(t *testing.T) {
	srv := newSite(t)
	dir := t.TempDir()

	err := run(context.Background(), quietLogger(), []string{
		"--crawl", srv.URL,
		"--output-folder", dir,
		"--max-depth", "1",
	}, io.Discard)
	require.NoError(t, err)

	rows := addresses(readExport(t, dir))
	assert.Contains(t, rows, srv.URL+"/about")
	assert.NotContains(t, rows, srv.URL+"/deep")
	assert.NotContains(t, rows, srv.URL+"/deeper")
}

func TestRunHonoursURLCap(t *testing.T) {
	srv := newSite(t)
	dir := t.TempDir()

	err := run(context.Background(), quietLogger(), []string{
		"--crawl", srv.URL,
		"--output-folder", dir,
		"--max-urls", "2",
	}, io.Discard)
	require.NoError(t, err)
	assert.Len(t, readExport(t, dir), 2)
}

func TestRunAppliesExcludeFilter(t *testing.T) {
	srv := newSite(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "crawl.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("parallelism: 2\nexclude:\n  - /deep\n"), 0o600))

	err := run(context.Background(), quietLogger(), []string{
		"--crawl", srv.URL,
		"--output-folder", dir,
		"--config", cfgPath,
	}, io.Discard)
	require.NoError(t, err)

	rows := addresses(readExport(t, dir))
	assert.Contains(t, rows, srv.URL+"/about")
	assert.NotContains(t, rows, srv.URL+"/deep")
	assert.NotContains(t, rows, srv.URL+"/deeper")
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing crawl", args: []string{"--output-folder", "/tmp/x"}, wantErr: "--crawl is required"},
		{name: "missing output", args: []string{"--crawl", "https://example.com"}, wantErr: "--output-folder is required"},
		{
			name:    "unsupported tab",
			args:    []string{"--crawl", "https://example.com", "--output-folder", "/tmp/x", "--export-tabs", "External:All"},
			wantErr: "unsupported --export-tabs",
		},
		{
			name:    "negative hint",
			args:    []string{"--crawl", "https://example.com", "--output-folder", "/tmp/x", "--max-urls", "-1"},
			wantErr: "must not be negative",
		},
		{
			name: "valid",
			args: []string{"--crawl", "https://example.com", "--output-folder", "/tmp/x", "--export-tabs", "Internal:All, Response Codes:All", "--headless"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseFlags(tt.args, io.Discard)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, opts.Headless)
			assert.Equal(t, "https://example.com", opts.CrawlURL)
		})
	}
}

func TestResolveOptions(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "crawl.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"user_agent: test-agent\ndelay: 250ms\nmax_urls: 50\nmax_depth: 4\n",
	), 0o600))

	opts, err := resolveOptions(cliOptions{CrawlURL: "https://example.com", OutputDir: "/tmp/out", ConfigFile: cfgPath, MaxDepth: 2})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", opts.Start.String())
	assert.Equal(t, "test-agent", opts.Config.UserAgent)
	assert.Equal(t, 250*time.Millisecond, opts.Config.Delay)
	assert.Equal(t, 50, opts.Config.MaxURLs)
	assert.Equal(t, 2, opts.Config.MaxDepth, "flag hint overrides the config file")
	assert.Equal(t, defaultParallelism, opts.Config.Parallelism)

	_, err = resolveOptions(cliOptions{CrawlURL: "example.com", OutputDir: "/tmp/out"})
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("include:\n  - \"(\"\n"), 0o600))
	_, err = resolveOptions(cliOptions{CrawlURL: "https://example.com", OutputDir: "/tmp/out", ConfigFile: bad})
	assert.Error(t, err)
}

func TestAllowedDomains(t *testing.T) {
	assert.Equal(t, []string{"example.com", "www.example.com"}, allowedDomains(mustURL(t, "https://Example.com/")))
	assert.Equal(t, []string{"www.example.com", "example.com", "www.example.com:8443"}, allowedDomains(mustURL(t, "https://www.example.com:8443/")))
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
