// Package failurenotifier turns failed job transitions into alerts and fans
// them out to the configured sinks.
package failurenotifier

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/target/mmk-pageshot/internal/domain/model"
	obserrors "github.com/target/mmk-pageshot/internal/observability/errors"
	"github.com/target/mmk-pageshot/internal/observability/notify"
)

// SinkRegistration names a sink for logs.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options for NewService. Empty Kinds means every kind alerts.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	Kinds  []model.JobKind
}

// Service is a job event listener; it is inert without sinks.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
	kinds  []model.JobKind
	wg     sync.WaitGroup
}

// NewService drops nil sinks.
func NewService(opts Options) *Service {
	s := &Service{
		logger: cmp.Or(opts.Logger, slog.Default()).With("component", "failure_notifier"),
		kinds:  slices.Clone(opts.Kinds),
	}
	for i, reg := range opts.Sinks {
		if reg.Sink == nil {
			continue
		}
		if reg.Name == "" {
			reg.Name = "sink-" + strconv.Itoa(i)
		}
		s.sinks = append(s.sinks, reg)
	}
	return s
}

// Enabled reports whether any sink is registered.
func (s *Service) Enabled() bool { return len(s.sinks) > 0 }

func (s *Service) wants(kind model.JobKind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, kind)
}

// HandleJobEvent alerts in the background for failed transitions of wanted kinds.
func (s *Service) HandleJobEvent(ctx context.Context, ev model.JobEvent) {
	if ev.Status != model.JobStatusFailed || !s.Enabled() || !s.wants(ev.Kind) {
		return
	}
	f := FailureFromEvent(ev)
	dctx := context.WithoutCancel(ctx)
	s.wg.Go(func() { s.Notify(dctx, f) })
}

// Notify delivers f to every sink concurrently and waits for all of them.
// Delivery errors are logged, never returned.
func (s *Service) Notify(ctx context.Context, f notify.Failure) {
	if f.Severity == "" {
		f.Severity = notify.SeverityCritical
	}
	var wg sync.WaitGroup
	for _, reg := range s.sinks {
		wg.Go(func() {
			if err := reg.Sink.Notify(ctx, f); err != nil {
				s.logger.ErrorContext(ctx, "failure alert not delivered",
					"sink", reg.Name, "job_id", f.JobID, "job_kind", f.Kind, "error", err)
			}
		})
	}
	wg.Wait()
}

// Wait blocks until background alerts finish.
func (s *Service) Wait() { s.wg.Wait() }

// FailureFromEvent builds the alert for a failed job event. The job snapshot,
// when present, contributes the target, error text and linked sitemap job.
func FailureFromEvent(ev model.JobEvent) notify.Failure {
	f := notify.Failure{
		JobID:  ev.JobID,
		Kind:   string(ev.Kind),
		Owner:  ev.Owner,
		At:     ev.At,
		Labels: map[string]string{"from_status": string(ev.From)},
	}
	job := ev.Job
	if job == nil {
		return f
	}
	if job.ErrorMessage != nil {
		f.Message = *job.ErrorMessage
		f.Class = obserrors.ClassifyMessage(f.Message)
	}
	f.Target = job.Domain()
	var parent *string
	switch {
	case job.Screenshot != nil:
		f.Target = job.Screenshot.URL
		parent = job.Screenshot.SitemapJobID
	case job.Crawl != nil:
		parent = job.Crawl.SitemapJobID
	}
	if parent != nil {
		f.Labels["sitemap_job_id"] = *parent
	}
	return f
}
