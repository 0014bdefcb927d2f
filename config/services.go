package config

import (
	"cmp"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode names one role a process can run. SERVICES lists the roles
// this process runs, comma separated; "all" selects every role.
type ServiceMode string

const (
	// ServiceModeHTTP serves the job API, the SSE stream and the render worker API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeSitemapRunner resolves pending sitemap jobs.
	ServiceModeSitemapRunner ServiceMode = "sitemap-runner"
	// ServiceModeCrawlRunner runs the external crawler for pending crawl jobs.
	ServiceModeCrawlRunner ServiceMode = "crawl-runner"
	// ServiceModeReaper fails stuck jobs and deletes old ones.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes lists every mode in startup order.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeSitemapRunner,
		ServiceModeCrawlRunner,
		ServiceModeReaper,
	}
}

// ServiceSet is the set of modes one process runs.
type ServiceSet map[ServiceMode]bool

// Has reports whether m is in the set.
func (s ServiceSet) Has(m ServiceMode) bool { return s[m] }

// Names lists the set's modes in startup order.
func (s ServiceSet) Names() []string {
	var names []string
	for _, m := range ValidServiceModes() {
		if s[m] {
			names = append(names, string(m))
		}
	}
	return names
}

// ParseServices parses a SERVICES value. Blank entries are skipped and
// duplicates collapse; every unknown name is reported.
func ParseServices(raw string) (ServiceSet, error) {
	set := ServiceSet{}
	var bad []error
	for part := range strings.SplitSeq(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		switch {
		case name == "":
		case name == "all":
			for _, m := range ValidServiceModes() {
				set[m] = true
			}
		case isServiceMode(ServiceMode(name)):
			set[ServiceMode(name)] = true
		default:
			bad = append(bad, fmt.Errorf("unknown service %q", name))
		}
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("invalid SERVICES (valid: http, sitemap-runner, crawl-runner, reaper, all): %w", errors.Join(bad...))
	}
	if len(set) == 0 {
		return nil, errors.New("SERVICES must name at least one service")
	}
	return set, nil
}

func isServiceMode(m ServiceMode) bool {
	for _, v := range ValidServiceModes() {
		if v == m {
			return true
		}
	}
	return false
}

// SitemapRunnerConfig sizes the sitemap worker pool.
type SitemapRunnerConfig struct {
	Concurrency int `env:"SITEMAP_RUNNER_CONCURRENCY" envDefault:"2"`
	// JobTimeout bounds one resolve including every fetch it makes.
	JobTimeout time.Duration `env:"SITEMAP_RUNNER_JOB_TIMEOUT" envDefault:"2m"`
	// CrawlFallback queues a linked crawl job when a domain has no sitemap.
	CrawlFallback bool `env:"SITEMAP_RUNNER_CRAWL_FALLBACK" envDefault:"true"`
}

func (s *SitemapRunnerConfig) Sanitize() {
	s.Concurrency = max(s.Concurrency, 1)
	s.JobTimeout = max(s.JobTimeout, 10*time.Second)
}

// ReaperConfig controls the cleanup loop. Pending and processing jobs older
// than their max age are failed; terminal jobs older than theirs are deleted,
// BatchSize rows per statement.
type ReaperConfig struct {
	Interval      time.Duration `env:"REAPER_INTERVAL"        envDefault:"5m"`
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"1h"`
	// A sitemap job waiting on its linked crawl stays processing, so keep
	// this above CRAWL_TIMEOUT.
	ProcessingMaxAge time.Duration `env:"REAPER_PROCESSING_MAX_AGE" envDefault:"2h"`
	CompletedMaxAge  time.Duration `env:"REAPER_COMPLETED_MAX_AGE"  envDefault:"168h"`
	FailedMaxAge     time.Duration `env:"REAPER_FAILED_MAX_AGE"     envDefault:"168h"`
	BatchSize        int           `env:"REAPER_BATCH_SIZE"         envDefault:"1000"`
}

// Sanitize applies floors to every age and bounds BatchSize to [1, 10000].
func (r *ReaperConfig) Sanitize() {
	r.Interval = max(r.Interval, time.Minute)
	r.PendingMaxAge = max(r.PendingMaxAge, 5*time.Minute)
	r.ProcessingMaxAge = max(r.ProcessingMaxAge, 20*time.Minute)
	r.CompletedMaxAge = max(r.CompletedMaxAge, time.Hour)
	r.FailedMaxAge = max(r.FailedMaxAge, time.Hour)
	r.BatchSize = clamp(r.BatchSize, 1, 10000)
}

func clamp[T cmp.Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}
