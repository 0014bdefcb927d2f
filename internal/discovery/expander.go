package discovery

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultIndexFanout is how many children of a top-level index are fetched.
	DefaultIndexFanout = 15
	// DefaultNestedFanout is how many children of a nested index are fetched.
	DefaultNestedFanout = 5
)

// ExpanderOptions configure an Expander.
type ExpanderOptions struct {
	Fetcher      Fetcher
	Logger       *slog.Logger
	IndexFanout  int
	NestedFanout int
}

// Expander turns a candidate list that may be a sitemap index into page URLs.
// Expansion goes at most two levels deep.
type Expander struct {
	fetcher      Fetcher
	logger       *slog.Logger
	indexFanout  int
	nestedFanout int
}

// NewExpander creates an Expander.
func NewExpander(opts ExpanderOptions) *Expander {
	e := &Expander{
		fetcher:      opts.Fetcher,
		logger:       opts.Logger,
		indexFanout:  opts.IndexFanout,
		nestedFanout: opts.NestedFanout,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.indexFanout <= 0 {
		e.indexFanout = DefaultIndexFanout
	}
	if e.nestedFanout <= 0 {
		e.nestedFanout = DefaultNestedFanout
	}
	return e
}

// Expand returns page URLs for candidates. A non-index list is returned as is,
// deduplicated. Failed child fetches are skipped.
func (e *Expander) Expand(ctx context.Context, candidates []string) []string {
	candidates = dedup(candidates)
	if !IsIndex(candidates) {
		return candidates
	}

	children := e.fetchAll(ctx, head(candidates, e.indexFanout))
	var out []string
	for _, locs := range children {
		if IsIndex(locs) {
			for _, nested := range e.fetchAll(ctx, head(dedup(locs), e.nestedFanout)) {
				out = append(out, nested...)
			}
			continue
		}
		out = append(out, locs...)
	}
	return dedup(out)
}

// fetchAll fetches urls concurrently and returns their <loc> lists in input order.
func (e *Expander) fetchAll(ctx context.Context, urls []string) [][]string {
	results := make([][]string, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(urls))
	for i, u := range urls {
		g.Go(func() error {
			body, err := e.fetcher.Fetch(gctx, u)
			if err != nil {
				e.logger.DebugContext(gctx, "skipping sitemap child", "url", u, "error", err)
				return nil
			}
			results[i] = ExtractLocs(body)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func head(urls []string, n int) []string {
	if len(urls) > n {
		return urls[:n]
	}
	return urls
}
