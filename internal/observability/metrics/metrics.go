// Package metrics holds the Prometheus collectors for job lifecycle, discovery,
// crawl, reaper and delivery instrumentation. A nil *Metrics is a valid no-op.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	obserrors "github.com/target/mmk-pageshot/internal/observability/errors"
)

// Namespace prefixes every metric name.
const Namespace = "pageshot"

// Result constants for metric labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
	ResultTimeout = "timeout"
)

// Metrics holds all collectors.
type Metrics struct {
	JobTransitions *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec

	DiscoveryFetches  *prometheus.CounterVec
	DiscoveryResolves *prometheus.CounterVec

	CrawlRuns     *prometheus.CounterVec
	CrawlDuration prometheus.Histogram
	CrawlURLs     prometheus.Histogram

	ReaperJobs *prometheus.CounterVec

	EventsDropped     prometheus.Counter
	WebhookDeliveries *prometheus.CounterVec
	ArtifactUploads   *prometheus.CounterVec
}

// New creates and registers all collectors on reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	m := &Metrics{}
	m.initJobMetrics(f)
	m.initDiscoveryMetrics(f)
	m.initCrawlMetrics(f)
	m.initDeliveryMetrics(f)
	return m
}

func (m *Metrics) initJobMetrics(f promauto.Factory) {
	m.JobTransitions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "job",
		Name:      "transitions_total",
		Help:      "Job status transitions by kind, target status and result.",
	}, []string{"kind", "to", "result", "error_class"})

	m.JobDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "job",
		Name:      "duration_seconds",
		Help:      "Time from job start to terminal status.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 14),
	}, []string{"kind", "status"})

	m.ReaperJobs = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "reaper",
		Name:      "jobs_total",
		Help:      "Jobs failed or deleted by the reaper.",
	}, []string{"kind", "action"})
}

func (m *Metrics) initDiscoveryMetrics(f promauto.Factory) {
	m.DiscoveryFetches = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "discovery",
		Name:      "fetches_total",
		Help:      "Outbound sitemap fetches by outcome.",
	}, []string{"outcome"})

	m.DiscoveryResolves = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "discovery",
		Name:      "resolves_total",
		Help:      "Resolver results by winning source tag.",
	}, []string{"source"})
}

func (m *Metrics) initCrawlMetrics(f promauto.Factory) {
	m.CrawlRuns = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "crawl",
		Name:      "runs_total",
		Help:      "Bulk crawl subprocess runs by result.",
	}, []string{"result"})

	m.CrawlDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "crawl",
		Name:      "duration_seconds",
		Help:      "Bulk crawl subprocess wall time.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 11),
	})

	m.CrawlURLs = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "crawl",
		Name:      "discovered_urls",
		Help:      "URLs kept from a successful crawl export.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
}

func (m *Metrics) initDeliveryMetrics(f promauto.Factory) {
	m.EventsDropped = f.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Job events skipped for slow push subscribers.",
	})

	m.WebhookDeliveries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Transition webhook deliveries by result.",
	}, []string{"result"})

	m.ArtifactUploads = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "artifact",
		Name:      "uploads_total",
		Help:      "Artifact store uploads by backend and result.",
	}, []string{"backend", "result"})
}

// JobMetric captures details about a job lifecycle event.
type JobMetric struct {
	Kind     string
	To       string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitJobLifecycle records a transition attempt and, for terminal ones, the job duration.
func (m *Metrics) EmitJobLifecycle(in JobMetric) {
	if m == nil {
		return
	}
	class := ""
	if in.Err != nil && in.Result == ResultError {
		class = obserrors.Classify(in.Err)
	}
	m.JobTransitions.WithLabelValues(in.Kind, in.To, in.Result, class).Inc()
	if in.Duration > 0 {
		m.JobDuration.WithLabelValues(in.Kind, in.To).Observe(in.Duration.Seconds())
	}
}

// ObserveFetch counts one outbound discovery fetch.
func (m *Metrics) ObserveFetch(outcome string) {
	if m == nil {
		return
	}
	m.DiscoveryFetches.WithLabelValues(outcome).Inc()
}

// ObserveResolve counts one resolver result; source is "not_found" on a miss.
func (m *Metrics) ObserveResolve(source string) {
	if m == nil {
		return
	}
	m.DiscoveryResolves.WithLabelValues(source).Inc()
}

// ObserveCrawl records one crawl subprocess run.
func (m *Metrics) ObserveCrawl(result string, d time.Duration, urls int) {
	if m == nil {
		return
	}
	m.CrawlRuns.WithLabelValues(result).Inc()
	m.CrawlDuration.Observe(d.Seconds())
	if result == ResultSuccess {
		m.CrawlURLs.Observe(float64(urls))
	}
}

// ObserveReaper adds n jobs handled by a reaper action ("failed" or "deleted").
func (m *Metrics) ObserveReaper(kind, action string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ReaperJobs.WithLabelValues(kind, action).Add(float64(n))
}

// EventDropped counts one event skipped for a slow subscriber.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// ObserveWebhook counts one webhook delivery.
func (m *Metrics) ObserveWebhook(result string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(result).Inc()
}

// ObserveArtifact counts one artifact upload.
func (m *Metrics) ObserveArtifact(backend, result string) {
	if m == nil {
		return
	}
	m.ArtifactUploads.WithLabelValues(backend, result).Inc()
}
