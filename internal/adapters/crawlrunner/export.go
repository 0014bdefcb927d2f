package crawlrunner

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrMalformedOutput is returned when the crawler exits cleanly but its export is missing or unreadable.
var ErrMalformedOutput = errors.New("malformed crawl output")

var (
	urlColumns         = []string{"Address", "URL", "Url", "url", "address", "Page URL"}
	statusColumns      = []string{"Status Code", "Status", "status_code"}
	contentTypeColumns = []string{"Content Type", "Content-Type", "content_type"}
)

const utf8BOM = "\ufeff"

// exportColumns holds header indexes; -1 marks an absent column.
type exportColumns struct {
	url, status, contentType int
}

func locateColumns(header []string) (exportColumns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, utf8BOM))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	find := func(names []string) int {
		for _, n := range names {
			if i, ok := idx[n]; ok {
				return i
			}
		}
		return -1
	}

	cols := exportColumns{
		url:         find(urlColumns),
		status:      find(statusColumns),
		contentType: find(contentTypeColumns),
	}
	if cols.url < 0 {
		return cols, fmt.Errorf("%w: no url column in header %q", ErrMalformedOutput, header)
	}
	return cols, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// keep reports whether a row is a crawlable HTML page.
func keep(rawURL, status, contentType string) bool {
	if status != "" && status != "200" {
		return false
	}
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "text/html") {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// ParseExport reads a crawler CSV export and returns the deduplicated HTML page URLs
// in first-seen order.
func ParseExport(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty export", ErrMalformedOutput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrMalformedOutput, err)
	}
	cols, err := locateColumns(header)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	urls := []string{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
		}
		u := field(rec, cols.url)
		if !keep(u, field(rec, cols.status), field(rec, cols.contentType)) {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls, nil
}

// FindNewestCSV returns the most recently modified *.csv directly under dir.
func FindNewestCSV(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}

	var (
		newest string
		best   int64
	)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mt := info.ModTime().UnixNano(); newest == "" || mt > best {
			newest, best = filepath.Join(dir, e.Name()), mt
		}
	}
	if newest == "" {
		return "", fmt.Errorf("%w: no csv export in %s", ErrMalformedOutput, dir)
	}
	return newest, nil
}

// ParseExportFile parses the export at path.
func ParseExportFile(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- path is inside the job's own output folder
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	defer f.Close()
	return ParseExport(f)
}
