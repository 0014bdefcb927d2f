// Package jobrunner provides the worker loop that reserves jobs of one kind and
// settles them with the outcome of a handler.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/mmk-pageshot/internal/domain/model"
	apperrors "github.com/target/mmk-pageshot/internal/errors"
	"github.com/target/mmk-pageshot/internal/service"
	"github.com/target/mmk-pageshot/internal/util"
)

// Outcome is what a handler reports for a job it finished without error.
type Outcome struct {
	URLs   []string
	Source model.SourceTag
	// Deferred leaves the job in processing; another job settles it later.
	Deferred bool
}

// HandlerFunc processes a reserved job. A non-nil error fails the job with err.Error().
type HandlerFunc func(ctx context.Context, job *model.Job) (*Outcome, error)

const (
	defaultPollInterval   = 30 * time.Second
	settleTimeout         = 10 * time.Second
	maxErrorMessageLength = 4 << 10
)

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Jobs    *service.JobService // Required
	Kind    model.JobKind       // Required
	Handler HandlerFunc         // Required
	Logger  *slog.Logger

	Concurrency int           // number of worker goroutines; defaults to 1
	JobTimeout  time.Duration // per-job deadline; zero means none
	// PollInterval bounds how long an idle worker waits without a notification.
	PollInterval time.Duration
}

// Runner pulls jobs and executes them using the registered handler.
type Runner struct {
	jobs         *service.JobService
	kind         model.JobKind
	handler      HandlerFunc
	logger       *slog.Logger
	workers      int
	jobTimeout   time.Duration
	pollInterval time.Duration
}

// NewRunner constructs a job runner for a single job kind.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("invalid job kind %q", opts.Kind)
	}
	if opts.Handler == nil {
		return nil, errors.New("handler is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	return &Runner{
		jobs:         opts.Jobs,
		kind:         opts.Kind,
		handler:      opts.Handler,
		logger:       logger.With("component", string(opts.Kind)+"_runner"),
		workers:      max(opts.Concurrency, 1),
		jobTimeout:   max(opts.JobTimeout, 0),
		pollInterval: poll,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "kind", r.kind, "workers", r.workers, "job_timeout", r.jobTimeout)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsub, ch := r.jobs.Subscribe(r.kind)
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, ch); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx, r.kind)
		switch {
		case err == nil:
			r.ProcessJob(ctx, job)
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForNotify(ctx, notify) {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return nil
}

// waitForNotify returns false once ctx is done. A closed channel degrades to polling.
func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case _, ok := <-notify:
			if ok {
				return true
			}
			notify = nil
		}
	}
}

// ProcessJob runs the handler for a reserved job and records the result.
func (r *Runner) ProcessJob(ctx context.Context, job *model.Job) {
	log := r.logger.With("job_id", job.ID, "kind", job.Kind)
	start := time.Now()

	outcome, err := r.invoke(ctx, job)

	// Settle even when shutdown cancelled the handler, so the job does not linger in processing.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	req := &model.TransitionRequest{Kind: job.Kind, ID: job.ID}
	switch {
	case err != nil:
		req.To = model.JobStatusFailed
		req.ErrorMessage = failureMessage(ctx, err)
		log.WarnContext(ctx, "job failed", "error", err, "elapsed", time.Since(start))
	case outcome != nil && outcome.Deferred:
		log.InfoContext(ctx, "job deferred", "elapsed", time.Since(start))
		return
	default:
		req.To = model.JobStatusCompleted
		if outcome != nil {
			req.URLs = outcome.URLs
			req.Source = outcome.Source
		}
		log.InfoContext(ctx, "job finished", "urls", len(req.URLs), "source", req.Source, "elapsed", time.Since(start))
	}

	if _, terr := r.jobs.Transition(sctx, req); terr != nil {
		if apperrors.IsInvalidTransition(terr) {
			log.InfoContext(ctx, "job already settled elsewhere", "to", req.To, "error", terr)
			return
		}
		log.ErrorContext(ctx, "settle job error", "to", req.To, "error", terr)
	}
}

func (r *Runner) invoke(ctx context.Context, job *model.Job) (outcome *Outcome, err error) {
	if r.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.jobTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "job handler panic", "job_id", job.ID, "panic", p)
			outcome, err = nil, fmt.Errorf("handler panic: %v", p)
		}
	}()
	return r.handler(ctx, job)
}

func failureMessage(ctx context.Context, err error) string {
	msg := err.Error()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		msg = "interrupted: worker shutting down"
	}
	msg = util.TruncateBytes(msg, maxErrorMessageLength)
	if msg == "" {
		msg = "job failed"
	}
	return msg
}
