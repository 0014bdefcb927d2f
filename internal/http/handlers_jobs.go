// Package httpx provides the HTTP API for sitemap, crawl and screenshot jobs.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/target/mmk-pageshot/internal/domain/model"
	apperrors "github.com/target/mmk-pageshot/internal/errors"
	"github.com/target/mmk-pageshot/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// JobHandlers serves the owner-facing job API.
type JobHandlers struct {
	Jobs      *service.JobService
	Discovery *service.DiscoveryService
	Dispatch  *service.DispatchService
	Watcher   *service.Watcher
	Logger    *slog.Logger
}

func (h *JobHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// owner returns the authenticated user's id; RequireAuth must run first.
func owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := OwnerFrom(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Err:     errors.New("authentication required"),
		})
		return "", false
	}
	return id, true
}

type createSitemapJobRequest struct {
	Domain string `json:"domain"`
}

// CreateSitemapJob handles POST /api/sitemap-jobs.
func (h *JobHandlers) CreateSitemapJob(w http.ResponseWriter, r *http.Request) {
	user, ok := owner(w, r)
	if !ok {
		return
	}
	var req createSitemapJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	job, err := h.Discovery.StartSitemap(r.Context(), user, req.Domain)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

type createCrawlJobRequest struct {
	Domain       string  `json:"domain"`
	SitemapJobID *string `json:"sitemap_job_id,omitempty"`
	MaxURLs      int     `json:"max_urls,omitempty"`
	CrawlDepth   int     `json:"crawl_depth,omitempty"`
}

// CreateCrawlJob handles POST /api/crawl-jobs.
func (h *JobHandlers) CreateCrawlJob(w http.ResponseWriter, r *http.Request) {
	user, ok := owner(w, r)
	if !ok {
		return
	}
	var req createCrawlJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	job, err := h.Discovery.StartCrawl(r.Context(), service.StartCrawlRequest{
		Owner:        user,
		Domain:       req.Domain,
		SitemapJobID: req.SitemapJobID,
		MaxURLs:      req.MaxURLs,
		CrawlDepth:   req.CrawlDepth,
	})
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

type createScreenshotJobsRequest struct {
	URLs         []string             `json:"urls"`
	Options      model.CaptureOptions `json:"options"`
	SitemapJobID *string              `json:"sitemap_job_id,omitempty"`
}

type createScreenshotJobsResponse struct {
	IDs []string `json:"ids"`
}

// CreateScreenshotJobs handles POST /api/screenshot-jobs.
// The whole batch is created or nothing is.
func (h *JobHandlers) CreateScreenshotJobs(w http.ResponseWriter, r *http.Request) {
	user, ok := owner(w, r)
	if !ok {
		return
	}
	var req createScreenshotJobsRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.SitemapJobID != nil && *req.SitemapJobID != "" {
		if _, err := h.Jobs.Get(r.Context(), user, model.JobKindSitemap, *req.SitemapJobID); err != nil {
			writeServiceError(w, r, h.logger(), err)
			return
		}
	}
	ids, err := h.Dispatch.Dispatch(r.Context(), service.DispatchRequest{
		Owner:        user,
		URLs:         req.URLs,
		SitemapJobID: req.SitemapJobID,
		Options:      req.Options,
	})
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusAccepted, createScreenshotJobsResponse{IDs: ids})
}

type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// List returns GET /api/{kind}-jobs: the caller's jobs, newest first, optionally by ?status=.
func (h *JobHandlers) List(kind model.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := owner(w, r)
		if !ok {
			return
		}
		limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)
		opts := model.ListOptions{Limit: limit, Offset: offset}
		if raw := r.URL.Query().Get("status"); raw != "" {
			st := model.JobStatus(raw)
			if !st.Valid() {
				writeServiceError(w, r, h.logger(), apperrors.ValidationField("status", "unknown status "+raw))
				return
			}
			opts.Status = &st
		}

		jobs, err := h.Jobs.ListByOwner(r.Context(), user, kind, opts)
		if err != nil {
			writeServiceError(w, r, h.logger(), err)
			return
		}
		if jobs == nil {
			jobs = []*model.Job{}
		}
		WriteJSON(w, http.StatusOK, listJobsResponse{Jobs: jobs, Limit: limit, Offset: offset})
	}
}

// Get returns GET /api/{kind}-jobs/{id}.
func (h *JobHandlers) Get(kind model.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := owner(w, r)
		if !ok {
			return
		}
		job, err := h.Jobs.Get(r.Context(), user, kind, r.PathValue("id"))
		if err != nil {
			writeServiceError(w, r, h.logger(), err)
			return
		}
		WriteJSON(w, http.StatusOK, job)
	}
}

// Watch returns GET /api/{kind}-jobs/watch?ids=: it blocks until every job is terminal
// or the wait runs out. ?interval= and ?max_wait= override the defaults in seconds.
func (h *JobHandlers) Watch(kind model.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := owner(w, r)
		if !ok {
			return
		}
		opts := service.DefaultWatchOptions(kind)
		if d, set := parseSecondsQuery(r, "interval"); set && d > 0 {
			opts.Interval = d
		}
		if d, set := parseSecondsQuery(r, "max_wait"); set && d > 0 {
			opts.MaxWait = min(d, opts.MaxWait)
		}

		res, err := h.Watcher.Watch(r.Context(), user, kind, parseIDs(r), opts)
		if err != nil {
			writeServiceError(w, r, h.logger(), err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

// Progress handles GET /api/screenshot-jobs/progress?ids=.
func (h *JobHandlers) Progress(w http.ResponseWriter, r *http.Request) {
	user, ok := owner(w, r)
	if !ok {
		return
	}
	p, err := h.Dispatch.Progress(r.Context(), user, parseIDs(r))
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, struct {
		model.BatchProgress
		Done bool `json:"done"`
	}{p, p.Done()})
}

// Stats handles GET /api/admin/jobs/stats?kind= for admins.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	kind := model.JobKind(r.URL.Query().Get("kind"))
	if !kind.Valid() {
		writeServiceError(w, r, h.logger(), apperrors.ValidationField("kind", "kind must be sitemap, crawl or screenshot"))
		return
	}
	stats, err := h.Jobs.Stats(r.Context(), kind)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}
