package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/target/mmk-pageshot/internal/core"
	domainjob "github.com/target/mmk-pageshot/internal/domain/job"
	"github.com/target/mmk-pageshot/internal/domain/model"
	apperrors "github.com/target/mmk-pageshot/internal/errors"
	"github.com/target/mmk-pageshot/internal/observability/metrics"
)

const (
	defaultReserveWait = 25 * time.Second
	maxReserveWait     = 60 * time.Second
)

// EventSink receives every job event published by the service. Implementations must not block.
type EventSink interface {
	HandleJobEvent(ctx context.Context, ev model.JobEvent)
}

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository        // Required: job repository
	Logger          *slog.Logger              // Optional: structured logger
	Notifier        domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour
	WaitPolicy      *domainjob.WaitPolicy     // Optional: bounds for long-poll reservation
	Broker          *domainjob.Broker         // Optional: in-process event fan-out
	Sinks           []EventSink               // Optional: outbound event consumers (webhooks, alerts)
	Metrics         *metrics.Metrics          // Optional: Prometheus collectors
}

// JobService owns the job lifecycle: creation, owner-scoped reads, guarded transitions,
// and publishing an event for every transition that actually happened.
type JobService struct {
	repo       core.JobRepository
	notifier   domainjob.Notifier
	waitPolicy *domainjob.WaitPolicy
	broker     *domainjob.Broker
	sinks      []EventSink
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	waitPolicy := opts.WaitPolicy
	if waitPolicy == nil {
		var err error
		waitPolicy, err = domainjob.NewWaitPolicy(defaultReserveWait, maxReserveWait)
		if err != nil {
			return nil, fmt.Errorf("create wait policy: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sinks := make([]EventSink, 0, len(opts.Sinks))
	for _, s := range opts.Sinks {
		if s != nil {
			sinks = append(sinks, s)
		}
	}

	return &JobService{
		repo:       opts.Repo,
		notifier:   notifier,
		waitPolicy: waitPolicy,
		broker:     opts.Broker,
		sinks:      sinks,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "job_service"),
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Create validates and persists one pending job.
func (s *JobService) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create %s job: %w", req.Kind, apperrors.MapDBError(err))
	}

	s.logger.DebugContext(ctx, "job created", "id", job.ID, "kind", job.Kind, "owner", job.Owner)
	return job, nil
}

// CreateBatch validates every request before writing any, then inserts them atomically.
func (s *JobService) CreateBatch(ctx context.Context, reqs []*model.CreateJobRequest) ([]*model.Job, error) {
	if len(reqs) == 0 {
		return nil, apperrors.Validation("at least one job is required")
	}
	for i, req := range reqs {
		if req == nil {
			return nil, apperrors.Validationf("job %d: request is required", i)
		}
		if err := req.Validate(); err != nil {
			return nil, apperrors.Validationf("job %d: %v", i, err)
		}
	}

	jobs, err := s.repo.CreateBatch(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("create job batch: %w", apperrors.MapDBError(err))
	}

	s.logger.DebugContext(ctx, "job batch created", "count", len(jobs), "kind", reqs[0].Kind)
	return jobs, nil
}

// Get returns the owner's job. A job owned by someone else is reported as not found.
func (s *JobService) Get(ctx context.Context, owner string, kind model.JobKind, id string) (*model.Job, error) {
	if owner == "" {
		return nil, apperrors.ValidationField("owner", "owner is required")
	}
	job, err := s.Lookup(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if job.Owner != owner {
		return nil, apperrors.NotFoundf("%s job %s not found", kind, id)
	}
	return job, nil
}

// Lookup returns a job without owner scoping. It backs worker endpoints and internal runners.
func (s *JobService) Lookup(ctx context.Context, kind model.JobKind, id string) (*model.Job, error) {
	if !kind.Valid() {
		return nil, apperrors.Validationf("unknown job kind %q", kind)
	}
	if !isUUID(id) {
		return nil, apperrors.NotFoundf("%s job %s not found", kind, id)
	}
	job, err := s.repo.Get(ctx, kind, id)
	if errors.Is(err, model.ErrJobNotFound) {
		return nil, apperrors.NotFoundf("%s job %s not found", kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s job %s: %w", kind, id, apperrors.MapDBError(err))
	}
	return job, nil
}

// ListByOwner returns the owner's jobs of one kind, newest first.
func (s *JobService) ListByOwner(
	ctx context.Context,
	owner string,
	kind model.JobKind,
	opts model.ListOptions,
) ([]*model.Job, error) {
	if owner == "" {
		return nil, apperrors.ValidationField("owner", "owner is required")
	}
	if !kind.Valid() {
		return nil, apperrors.Validationf("unknown job kind %q", kind)
	}
	jobs, err := s.repo.ListByOwner(ctx, owner, kind, opts)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", kind, apperrors.MapDBError(err))
	}
	return ownedBy(jobs, owner), nil
}

// ListByIDs returns the owner's jobs among ids. Unknown or foreign ids are absent from the result.
func (s *JobService) ListByIDs(ctx context.Context, owner string, kind model.JobKind, ids []string) ([]*model.Job, error) {
	if owner == "" {
		return nil, apperrors.ValidationField("owner", "owner is required")
	}
	if !kind.Valid() {
		return nil, apperrors.Validationf("unknown job kind %q", kind)
	}
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}
	jobs, err := s.repo.ListByIDs(ctx, owner, kind, valid)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs by id: %w", kind, apperrors.MapDBError(err))
	}
	return ownedBy(jobs, owner), nil
}

func ownedBy(jobs []*model.Job, owner string) []*model.Job {
	out := jobs[:0:0]
	for _, j := range jobs {
		if j != nil && j.Owner == owner {
			out = append(out, j)
		}
	}
	return out
}

// Transition applies a guarded status change and publishes the resulting event.
// A completed or failed crawl job also settles the sitemap job it was created for.
func (s *JobService) Transition(ctx context.Context, req *model.TransitionRequest) (*model.Job, error) {
	job, err := s.transition(ctx, req)
	if err != nil {
		return nil, err
	}
	if job.Kind == model.JobKindCrawl && job.Status.Terminal() {
		s.propagateCrawl(ctx, job)
	}
	return job, nil
}

func (s *JobService) transition(ctx context.Context, req *model.TransitionRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("transition request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	job, from, err := s.repo.Transition(ctx, cleanPatch(req))
	if err != nil {
		err = s.mapTransitionError(req, err)
		result := metrics.ResultError
		if apperrors.IsInvalidTransition(err) {
			result = metrics.ResultNoop
		}
		s.metrics.EmitJobLifecycle(metrics.JobMetric{
			Kind:   string(req.Kind),
			To:     string(req.To),
			Result: result,
			Err:    err,
		})
		return nil, err
	}

	s.metrics.EmitJobLifecycle(metrics.JobMetric{
		Kind:     string(job.Kind),
		To:       string(job.Status),
		Result:   metrics.ResultSuccess,
		Duration: runDuration(job),
	})
	s.logger.DebugContext(ctx, "job transitioned",
		"id", job.ID,
		"kind", job.Kind,
		"from", from,
		"to", job.Status,
	)
	s.publish(ctx, job, from)
	return job, nil
}

// cleanPatch copies req with result URLs deduplicated and the error message
// forced to valid UTF-8, the form the store accepts.
func cleanPatch(req *model.TransitionRequest) *model.TransitionRequest {
	patch := *req
	if len(req.URLs) > 0 {
		patch.URLs = uniqueTrimmed(req.URLs)
	}
	patch.ErrorMessage = strings.ToValidUTF8(req.ErrorMessage, "\uFFFD")
	return &patch
}

func (s *JobService) mapTransitionError(req *model.TransitionRequest, err error) error {
	switch {
	case errors.Is(err, model.ErrJobNotFound):
		return apperrors.NotFoundf("%s job %s not found", req.Kind, req.ID)
	case errors.Is(err, model.ErrInvalidTransition):
		return apperrors.InvalidTransition(err, "cannot move %s job %s to %s", req.Kind, req.ID, req.To)
	default:
		return fmt.Errorf("transition %s job %s: %w", req.Kind, req.ID, apperrors.MapDBError(err))
	}
}

// runDuration is the processing time of a terminal job, zero otherwise.
func runDuration(job *model.Job) time.Duration {
	if !job.Status.Terminal() || job.StartedAt == nil || job.CompletedAt == nil {
		return 0
	}
	return job.CompletedAt.Sub(*job.StartedAt)
}

// SettleReaped settles the sitemap jobs linked to crawl jobs the reaper
// failed. Other kinds need no follow-up.
func (s *JobService) SettleReaped(ctx context.Context, kind model.JobKind, ids []string) {
	if kind != model.JobKindCrawl {
		return
	}
	for _, id := range ids {
		crawl, err := s.Lookup(ctx, kind, id)
		if err != nil {
			s.logger.WarnContext(ctx, "reaped crawl job unavailable", "crawl_job_id", id, "error", err)
			continue
		}
		if crawl.Status.Terminal() {
			s.propagateCrawl(ctx, crawl)
		}
	}
}

var _ ReapedJobSettler = (*JobService)(nil)

// propagateCrawl settles the linked sitemap job from a terminal crawl job.
// Failures are logged; the crawl job's own transition already succeeded.
func (s *JobService) propagateCrawl(ctx context.Context, crawl *model.Job) {
	if crawl.Crawl == nil || crawl.Crawl.SitemapJobID == nil || *crawl.Crawl.SitemapJobID == "" {
		return
	}
	sitemapID := *crawl.Crawl.SitemapJobID
	log := s.logger.With("crawl_job_id", crawl.ID, "sitemap_job_id", sitemapID)

	sitemap, err := s.Lookup(ctx, model.JobKindSitemap, sitemapID)
	if err != nil {
		log.WarnContext(ctx, "linked sitemap job unavailable", "error", err)
		return
	}
	if sitemap.Status.Terminal() {
		log.DebugContext(ctx, "linked sitemap job already terminal", "status", sitemap.Status)
		return
	}

	req := &model.TransitionRequest{Kind: model.JobKindSitemap, ID: sitemapID}
	switch crawl.Status {
	case model.JobStatusCompleted:
		if sitemap.Status == model.JobStatusPending {
			if _, err := s.transition(ctx, &model.TransitionRequest{
				Kind: model.JobKindSitemap, ID: sitemapID, To: model.JobStatusProcessing,
			}); err != nil && !apperrors.IsInvalidTransition(err) {
				log.WarnContext(ctx, "failed to start linked sitemap job", "error", err)
				return
			}
		}
		req.To = model.JobStatusCompleted
		req.URLs = crawl.Crawl.DiscoveredURLs
		req.Source = model.SourceBulkCrawl
	case model.JobStatusFailed:
		req.To = model.JobStatusFailed
		req.ErrorMessage = "bulk crawl failed"
		if crawl.ErrorMessage != nil && *crawl.ErrorMessage != "" {
			req.ErrorMessage = *crawl.ErrorMessage
		}
	default:
		return
	}

	if _, err := s.transition(ctx, req); err != nil {
		if apperrors.IsInvalidTransition(err) {
			log.DebugContext(ctx, "linked sitemap job settled concurrently", "error", err)
			return
		}
		log.WarnContext(ctx, "failed to settle linked sitemap job", "error", err)
		return
	}
	log.InfoContext(ctx, "settled sitemap job from bulk crawl", "status", req.To, "urls", len(req.URLs))
}

// ReserveNext moves the oldest pending job of kind to processing.
// It returns model.ErrNoJobsAvailable when the queue is empty.
func (s *JobService) ReserveNext(ctx context.Context, kind model.JobKind) (*model.Job, error) {
	job, err := s.repo.ReserveNext(ctx, kind)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve next %s job: %w", kind, err)
	}

	s.metrics.EmitJobLifecycle(metrics.JobMetric{
		Kind:   string(kind),
		To:     string(model.JobStatusProcessing),
		Result: metrics.ResultSuccess,
	})
	s.logger.DebugContext(ctx, "job reserved", "id", job.ID, "kind", kind)
	s.publish(ctx, job, model.JobStatusPending)
	return job, nil
}

// ReserveWait reserves the next job of kind, blocking up to the resolved wait for one to arrive.
// A negative wait selects the policy default. It returns nil, nil when the wait elapses empty-handed.
func (s *JobService) ReserveWait(ctx context.Context, kind model.JobKind, wait time.Duration) (*model.Job, error) {
	decision := s.waitPolicy.Resolve(wait)
	if decision.Clamped() {
		s.logger.DebugContext(ctx, "clamped reserve wait",
			"requested", decision.Requested,
			"max", s.waitPolicy.Max(),
			"kind", kind)
	}

	unsubscribe, signal := s.Subscribe(kind)
	defer func() { unsubscribe() }()

	deadline := time.NewTimer(decision.Wait)
	defer deadline.Stop()

	for {
		job, err := s.ReserveNext(ctx, kind)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, err
		}
		if decision.Wait <= 0 {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case _, ok := <-signal:
			if !ok {
				unsubscribe()
				unsubscribe, signal = s.Subscribe(kind)
			}
		}
	}
}

// Subscribe creates a subscription for job availability of the given kind.
// Returns an unsubscribe function and a channel that receives notifications.
func (s *JobService) Subscribe(kind model.JobKind) (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe(kind)
}

// SubscribeEvents streams transition events matching filter until ctx is done or cancel is called.
func (s *JobService) SubscribeEvents(ctx context.Context, filter domainjob.Filter) (<-chan model.JobEvent, func()) {
	if s.broker == nil {
		ch := make(chan model.JobEvent)
		close(ch)
		return ch, func() {}
	}
	return s.broker.Subscribe(ctx, filter)
}

// HandleRemoteTransition republishes a transition written by another instance to local subscribers.
// Sinks are skipped: the writing instance already delivered to them.
func (s *JobService) HandleRemoteTransition(ctx context.Context, notice core.TransitionNotice) {
	if s.broker == nil {
		return
	}
	job, err := s.repo.Get(ctx, notice.Kind, notice.JobID)
	if err != nil {
		s.logger.DebugContext(ctx, "dropping remote transition", "id", notice.JobID, "kind", notice.Kind, "error", err)
		return
	}
	s.broker.Publish(model.JobEvent{
		Kind:   notice.Kind,
		JobID:  notice.JobID,
		Owner:  notice.Owner,
		From:   notice.From,
		Status: notice.Status,
		At:     notice.At,
		Job:    job,
	})
}

// Stats returns job counts per status for one kind.
func (s *JobService) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	if !kind.Valid() {
		return nil, apperrors.Validationf("unknown job kind %q", kind)
	}
	stats, err := s.repo.Stats(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("%s job stats: %w", kind, err)
	}
	return stats, nil
}

// StopAllListeners stops every availability listener.
func (s *JobService) StopAllListeners() {
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}

func (s *JobService) publish(ctx context.Context, job *model.Job, from model.JobStatus) {
	ev := model.JobEvent{
		Kind:   job.Kind,
		JobID:  job.ID,
		Owner:  job.Owner,
		From:   from,
		Status: job.Status,
		At:     job.UpdatedAt,
		Job:    job,
	}
	if s.broker != nil {
		s.broker.Publish(ev)
	}
	for _, sink := range s.sinks {
		sink.HandleJobEvent(ctx, ev)
	}
}
