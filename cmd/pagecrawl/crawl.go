package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/gocolly/colly/v2"
)

// exportFile is the name the crawl runner looks for when the Internal:All tab is requested.
const exportFile = "internal_all.csv"

var exportHeader = []string{"Address", "Status Code", "Content Type", "Depth"}

type crawlOptions struct {
	Start     *url.URL
	OutputDir string
	Config    crawlConfig
}

type exportRow struct {
	Address     string
	Status      int
	ContentType string
	Depth       int
}

func (r exportRow) record() []string {
	return []string{r.Address, strconv.Itoa(r.Status), r.ContentType, strconv.Itoa(r.Depth)}
}

// exportWriter serialises rows from concurrent colly callbacks and stops
// accepting them once the cap is reached.
type exportWriter struct {
	mu    sync.Mutex
	w     *csv.Writer
	seen  map[string]struct{}
	limit int
	rows  int
}

func newExportWriter(f *os.File, limit int) (*exportWriter, error) {
	w := csv.NewWriter(f)
	if err := w.Write(exportHeader); err != nil {
		return nil, fmt.Errorf("write export header: %w", err)
	}
	return &exportWriter{w: w, seen: make(map[string]struct{}), limit: limit}, nil
}

// add records row and reports whether the crawl may continue.
func (e *exportWriter) add(row exportRow) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.full() {
		return false
	}
	if _, dup := e.seen[row.Address]; dup {
		return true
	}
	e.seen[row.Address] = struct{}{}
	// csv.Writer keeps the first write error and reports it on Flush.
	_ = e.w.Write(row.record())
	e.rows++
	return !e.full()
}

func (e *exportWriter) full() bool {
	return e.limit > 0 && e.rows >= e.limit
}

func (e *exportWriter) accepting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.full()
}

func (e *exportWriter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rows
}

func (e *exportWriter) flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.w.Flush()
	return e.w.Error()
}

// allowedDomains covers the start host with and without a leading www.
func allowedDomains(u *url.URL) []string {
	host := strings.ToLower(u.Hostname())
	domains := []string{host}
	if bare, ok := strings.CutPrefix(host, "www."); ok {
		domains = append(domains, bare)
	} else {
		domains = append(domains, "www."+host)
	}
	if u.Port() != "" {
		domains = append(domains, strings.ToLower(u.Host))
	}
	return domains
}

func newCollector(ctx context.Context, opts crawlOptions) (*colly.Collector, error) {
	cfg := opts.Config
	collectorOpts := []colly.CollectorOption{
		colly.StdlibContext(ctx),
		colly.Async(true),
		colly.ParseHTTPErrorResponse(),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowedDomains(allowedDomains(opts.Start)...),
	}
	if !cfg.RespectRobots {
		collectorOpts = append(collectorOpts, colly.IgnoreRobotsTxt())
	}
	if cfg.MaxDepth > 0 {
		// colly counts the start page as depth 1.
		collectorOpts = append(collectorOpts, colly.MaxDepth(cfg.MaxDepth+1))
	}

	include, err := compileFilters(cfg.Include)
	if err != nil {
		return nil, err
	}
	if len(include) > 0 {
		include = append(include, regexp.MustCompile("^"+regexp.QuoteMeta(opts.Start.String())+"$"))
		collectorOpts = append(collectorOpts, colly.URLFilters(include...))
	}
	exclude, err := compileFilters(cfg.Exclude)
	if err != nil {
		return nil, err
	}
	if len(exclude) > 0 {
		collectorOpts = append(collectorOpts, colly.DisallowedURLFilters(exclude...))
	}

	c := colly.NewCollector(collectorOpts...)
	c.SetRequestTimeout(cfg.RequestTimeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("set rate limit: %w", err)
	}
	return c, nil
}

// crawl walks the site from opts.Start and writes the Internal:All export.
// It returns the number of rows written.
func crawl(ctx context.Context, logger *slog.Logger, opts crawlOptions) (int, error) {
	if err := os.MkdirAll(opts.OutputDir, 0o750); err != nil {
		return 0, fmt.Errorf("create output folder: %w", err)
	}
	path := filepath.Join(opts.OutputDir, exportFile)
	f, err := os.Create(path) // #nosec G304 -- output folder is supplied by the crawl runner
	if err != nil {
		return 0, fmt.Errorf("create export: %w", err)
	}
	defer f.Close()

	export, err := newExportWriter(f, opts.Config.MaxURLs)
	if err != nil {
		return 0, err
	}

	c, err := newCollector(ctx, opts)
	if err != nil {
		return 0, err
	}

	c.OnRequest(func(r *colly.Request) {
		if !export.accepting() {
			r.Abort()
		}
	})
	c.OnResponse(func(r *colly.Response) {
		export.add(exportRow{
			Address:     r.Request.URL.String(),
			Status:      r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Depth:       r.Request.Depth - 1,
		})
	})
	c.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Request == nil {
			return
		}
		logger.Debug("request failed", "url", r.Request.URL.String(), "status", r.StatusCode, "error", err)
		if r.StatusCode > 0 {
			export.add(exportRow{
				Address:     r.Request.URL.String(),
				Status:      r.StatusCode,
				ContentType: r.Headers.Get("Content-Type"),
				Depth:       r.Request.Depth - 1,
			})
		}
	})
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if !export.accepting() {
			return
		}
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		// Already visited, off-domain and too-deep links are expected here.
		_ = e.Request.Visit(link)
	})

	if err := c.Visit(opts.Start.String()); err != nil {
		return 0, fmt.Errorf("visit %s: %w", opts.Start, err)
	}
	c.Wait()

	if err := export.flush(); err != nil {
		return export.count(), fmt.Errorf("write export: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return export.count(), fmt.Errorf("crawl interrupted: %w", err)
	}
	if export.count() == 0 {
		return 0, errors.New("crawl produced no pages")
	}
	logger.Info("crawl export written", "file", path, "rows", export.count())
	return export.count(), nil
}
