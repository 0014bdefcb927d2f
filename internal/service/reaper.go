package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/core"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"github.com/target/mmk-pageshot/internal/observability/metrics"
)

// ReaperServiceOptions groups dependencies for ReaperService. Kinds defaults
// to every job kind.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository
	Config  config.ReaperConfig
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Kinds   []model.JobKind
	// Settler follows up on jobs the reaper failed. Optional.
	Settler ReapedJobSettler
}

// ReapedJobSettler carries the consequences of a reaper failure that a
// regular transition would have, such as settling a crawl's sitemap job.
type ReapedJobSettler interface {
	SettleReaped(ctx context.Context, kind model.JobKind, ids []string)
}

// Reaper actions, used as the metric "action" label.
const (
	reaperActionFailPending    = "fail_pending"
	reaperActionFailProcessing = "fail_processing"
	reaperActionDeleteComplete = "delete_completed"
	reaperActionDeleteFailed   = "delete_failed"
)

// reapStep is one (kind, status) cleanup, repeated until a batch touches no rows.
type reapStep struct {
	action string
	params core.JobAgeParams
	run    func(context.Context, core.JobAgeParams) (int64, error)
}

// ReaperService fails jobs stuck in pending or processing and deletes
// terminal jobs past their retention, for every job table.
type ReaperService struct {
	interval time.Duration
	kinds    []model.JobKind
	plan     []reapStep
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = model.AllJobKinds()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReaperService{
		interval: opts.Config.Interval,
		kinds:    kinds,
		plan:     reapPlan(opts.Repo, opts.Settler, opts.Config, kinds),
		logger:   logger.With("component", "reaper"),
		metrics:  opts.Metrics,
	}, nil
}

// reapPlan orders failing before deleting within each kind, so a job failed in
// this pass survives until it ages out.
func reapPlan(repo core.ReaperRepository, settler ReapedJobSettler, cfg config.ReaperConfig, kinds []model.JobKind) []reapStep {
	fail := func(ctx context.Context, p core.JobAgeParams) (int64, error) {
		ids, err := repo.FailStaleJobs(ctx, p)
		if len(ids) > 0 && settler != nil {
			settler.SettleReaped(ctx, p.Kind, ids)
		}
		return int64(len(ids)), err
	}
	plan := make([]reapStep, 0, len(kinds)*4)
	for _, kind := range kinds {
		age := func(status model.JobStatus, maxAge time.Duration) core.JobAgeParams {
			return core.JobAgeParams{Kind: kind, Status: status, MaxAge: maxAge, BatchSize: cfg.BatchSize}
		}
		plan = append(plan,
			reapStep{reaperActionFailPending, age(model.JobStatusPending, cfg.PendingMaxAge), fail},
			reapStep{reaperActionFailProcessing, age(model.JobStatusProcessing, cfg.ProcessingMaxAge), fail},
			reapStep{reaperActionDeleteComplete, age(model.JobStatusCompleted, cfg.CompletedMaxAge), repo.DeleteOldJobs},
			reapStep{reaperActionDeleteFailed, age(model.JobStatusFailed, cfg.FailedMaxAge), repo.DeleteOldJobs},
		)
	}
	return plan
}

// Run sweeps once after a random delay of up to a tenth of the interval, then
// on every tick. Sweep errors are logged and the loop continues; cancellation
// returns nil.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "reaper started", "interval", s.interval, "kinds", s.kinds)

	if spread := s.interval / 10; spread > 0 {
		select {
		case <-time.After(rand.N(spread)):
		case <-ctx.Done():
			return nil
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.sweep(ctx); err != nil && !isContextCancellation(err) {
			s.logger.ErrorContext(ctx, "reaper sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep and returns the number of affected jobs.
func (s *ReaperService) RunOnce(ctx context.Context) (int64, error) {
	return s.sweep(ctx)
}

// sweep runs every step even when some fail. It returns context.Canceled when
// every failure was a cancellation.
func (s *ReaperService) sweep(ctx context.Context) (int64, error) {
	start := time.Now()
	var (
		total     int64
		errs      []error
		cancelled = true
	)
	for _, step := range s.plan {
		n, err := s.drain(ctx, step)
		total += n
		s.metrics.ObserveReaper(string(step.params.Kind), step.action, n)
		if n > 0 {
			s.logger.InfoContext(ctx, "reaped jobs",
				"kind", step.params.Kind, "action", step.action, "count", n, "max_age", step.params.MaxAge)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s jobs: %w", step.action, step.params.Kind, err))
			cancelled = cancelled && isContextCancellation(err)
		}
	}
	s.logger.DebugContext(ctx, "reaper sweep finished", "affected", total, "elapsed", time.Since(start))

	switch {
	case len(errs) == 0:
		return total, nil
	case cancelled:
		return total, context.Canceled
	default:
		return total, fmt.Errorf("reaper sweep: %w", errors.Join(errs...))
	}
}

func (s *ReaperService) drain(ctx context.Context, step reapStep) (int64, error) {
	var total int64
	for {
		n, err := step.run(ctx, step.params)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
