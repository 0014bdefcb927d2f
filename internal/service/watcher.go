package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	domainjob "github.com/target/mmk-pageshot/internal/domain/job"
	"github.com/target/mmk-pageshot/internal/domain/model"
	apperrors "github.com/target/mmk-pageshot/internal/errors"
)

// WatchOptions bound a watch: re-read every Interval, give up after MaxWait.
type WatchOptions struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// DefaultWatchOptions returns the polling cadence for kind.
func DefaultWatchOptions(kind model.JobKind) WatchOptions {
	switch kind {
	case model.JobKindScreenshot:
		return WatchOptions{Interval: 2 * time.Second, MaxWait: 10 * time.Minute}
	case model.JobKindSitemap, model.JobKindCrawl:
		return WatchOptions{Interval: 3 * time.Second, MaxWait: 5 * time.Minute}
	default:
		return WatchOptions{Interval: 3 * time.Second, MaxWait: 5 * time.Minute}
	}
}

func (o WatchOptions) withDefaults(kind model.JobKind) WatchOptions {
	def := DefaultWatchOptions(kind)
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.MaxWait <= 0 {
		o.MaxWait = def.MaxWait
	}
	return o
}

// WatchResult is the last observed state of the watched jobs.
// GaveUp is set when MaxWait elapsed first; it is not an error.
type WatchResult struct {
	Jobs   []*model.Job `json:"jobs"`
	Done   bool         `json:"done"`
	GaveUp bool         `json:"gave_up"`
}

// Watcher polls a fixed set of jobs until all are terminal or the wait runs out.
// Transition events wake it early when a broker is wired.
type Watcher struct {
	jobs   *JobService
	logger *slog.Logger
}

// NewWatcher constructs a Watcher.
func NewWatcher(jobs *JobService, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{jobs: jobs, logger: logger.With("component", "watcher")}
}

// Watch blocks until every job in ids is completed or failed, MaxWait elapses, or ctx ends.
// Ids the owner cannot see fail the call with NotFound before any waiting.
func (w *Watcher) Watch(
	ctx context.Context,
	owner string,
	kind model.JobKind,
	ids []string,
	opts WatchOptions,
) (*WatchResult, error) {
	ids = uniqueTrimmed(ids)
	if len(ids) == 0 {
		return nil, apperrors.ValidationField("ids", "at least one job id is required")
	}
	opts = opts.withDefaults(kind)

	jobs, err := w.load(ctx, owner, kind, ids)
	if err != nil {
		return nil, err
	}

	events, cancel := w.jobs.SubscribeEvents(ctx, domainjob.Filter{Owner: owner, Kind: kind})
	defer cancel()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(opts.MaxWait)
	defer deadline.Stop()

	for {
		if allTerminal(jobs) {
			return &WatchResult{Jobs: jobs, Done: true}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			w.logger.DebugContext(ctx, "watch gave up", "kind", kind, "ids", len(ids), "max_wait", opts.MaxWait)
			return &WatchResult{Jobs: jobs, GaveUp: true}, nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !slices.Contains(ids, ev.JobID) {
				continue
			}
		case <-ticker.C:
		}

		if jobs, err = w.load(ctx, owner, kind, ids); err != nil {
			return nil, err
		}
	}
}

func (w *Watcher) load(ctx context.Context, owner string, kind model.JobKind, ids []string) ([]*model.Job, error) {
	jobs, err := w.jobs.ListByIDs(ctx, owner, kind, ids)
	if err != nil {
		return nil, err
	}
	if len(jobs) == len(ids) {
		return jobs, nil
	}
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		seen[j.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	return nil, apperrors.NotFoundf("%s jobs not found: %s", kind, strings.Join(missing, ", "))
}

func allTerminal(jobs []*model.Job) bool {
	for _, j := range jobs {
		if !j.Status.Terminal() {
			return false
		}
	}
	return true
}

// uniqueTrimmed trims each value and drops blanks and repeats, keeping first-seen order.
func uniqueTrimmed(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
