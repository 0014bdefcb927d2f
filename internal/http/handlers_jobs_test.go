package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/mmk-pageshot/internal/domain/auth"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"github.com/target/mmk-pageshot/internal/service"
	"go.uber.org/mock/gomock"
)

func TestCreateSitemapJob(t *testing.T) {
	h := newHarness(t, nil)
	h.repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
			assert.Equal(t, model.JobKindSitemap, req.Kind)
			assert.Equal(t, testUser, req.Owner)
			assert.Equal(t, "example.com", req.Sitemap.Domain)
			j := newJob(model.JobKindSitemap, req.Owner, model.JobStatusPending)
			j.Sitemap = req.Sitemap
			return j, nil
		})

	rec := h.do(userRequest(http.MethodPost, "/api/sitemap-jobs", map[string]string{"domain": "https://www.Example.com/shop"}))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	job := decode[model.Job](t, rec)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, "example.com", job.Sitemap.Domain)
}

func TestCreateSitemapJob_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		cookie   bool
		wantCode int
		wantErr  string
	}{
		{name: "no session", body: `{"domain":"example.com"}`, wantCode: http.StatusUnauthorized, wantErr: "authentication_required"},
		{name: "empty domain", body: `{"domain":"  "}`, cookie: true, wantCode: http.StatusBadRequest, wantErr: "validation"},
		{name: "unknown field", body: `{"domain":"example.com","priority":1}`, cookie: true, wantCode: http.StatusBadRequest, wantErr: "invalid_json"},
		{name: "not json", body: `domain=example.com`, cookie: true, wantCode: http.StatusBadRequest, wantErr: "invalid_json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			req := userRequest(http.MethodPost, "/api/sitemap-jobs", tt.body)
			if !tt.cookie {
				req.Header.Del("Cookie")
			}
			rec := h.do(req)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decode[errorBody](t, rec).Error)
		})
	}
}

func TestCreateCrawlJob_LinkedToOpenSitemap(t *testing.T) {
	h := newHarness(t, nil)
	sitemap := newJob(model.JobKindSitemap, testUser, model.JobStatusProcessing)
	h.repo.EXPECT().Get(gomock.Any(), model.JobKindSitemap, sitemap.ID).Return(sitemap, nil)
	h.repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
			require.NotNil(t, req.Crawl.SitemapJobID)
			assert.Equal(t, sitemap.ID, *req.Crawl.SitemapJobID)
			assert.Equal(t, 500, req.Crawl.MaxURLs)
			assert.Equal(t, 3, req.Crawl.CrawlDepth)
			j := newJob(model.JobKindCrawl, req.Owner, model.JobStatusPending)
			j.Crawl = req.Crawl
			return j, nil
		})

	rec := h.do(userRequest(http.MethodPost, "/api/crawl-jobs", map[string]any{
		"domain":         "example.com",
		"sitemap_job_id": sitemap.ID,
		"crawl_depth":    3,
	}))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, model.JobKindCrawl, decode[model.Job](t, rec).Kind)
}

func TestCreateCrawlJob_TerminalSitemapConflicts(t *testing.T) {
	h := newHarness(t, nil)
	sitemap := newJob(model.JobKindSitemap, testUser, model.JobStatusCompleted)
	h.repo.EXPECT().Get(gomock.Any(), model.JobKindSitemap, sitemap.ID).Return(sitemap, nil)

	rec := h.do(userRequest(http.MethodPost, "/api/crawl-jobs", map[string]any{
		"domain":         "example.com",
		"sitemap_job_id": sitemap.ID,
	}))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[errorBody](t, rec).Error)
}

func TestCreateScreenshotJobs(t *testing.T) {
	h := newHarness(t, nil)
	h.repo.EXPECT().CreateBatch(gomock.Any(), gomock.Len(2)).DoAndReturn(
		func(_ context.Context, reqs []*model.CreateJobRequest) ([]*model.Job, error) {
			out := make([]*model.Job, len(reqs))
			for i, req := range reqs {
				assert.True(t, req.Screenshot.Options.NoCookies)
				assert.Equal(t, model.DeviceMobile, req.Screenshot.Options.DeviceType)
				out[i] = newJob(model.JobKindScreenshot, req.Owner, model.JobStatusPending)
			}
			return out, nil
		})

	rec := h.do(userRequest(http.MethodPost, "/api/screenshot-jobs", map[string]any{
		"urls":    []string{"https://example.com/", "https://example.com/about"},
		"options": map[string]any{"noCookies": true, "deviceType": "mobile"},
	}))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Len(t, decode[createScreenshotJobsResponse](t, rec).IDs, 2)
}

func TestCreateScreenshotJobs_RejectsWholeBatch(t *testing.T) {
	urls := make([]string, service.MaxBatchURLs+1)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/p/%d", i)
	}
	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "too many urls", body: map[string]any{"urls": urls}},
		{name: "no urls", body: map[string]any{"urls": []string{}}},
		{name: "one bad url", body: map[string]any{"urls": []string{"https://example.com/", "ftp://example.com/x"}}},
		{name: "bad options", body: map[string]any{"urls": []string{"https://example.com/"}, "options": map[string]any{"format": "gif"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			rec := h.do(userRequest(http.MethodPost, "/api/screenshot-jobs", tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation", decode[errorBody](t, rec).Error)
		})
	}
}

func TestCreateScreenshotJobs_ForeignSitemap(t *testing.T) {
	h := newHarness(t, nil)
	sitemap := newJob(model.JobKindSitemap, "someone-else", model.JobStatusCompleted)
	h.repo.EXPECT().Get(gomock.Any(), model.JobKindSitemap, sitemap.ID).Return(sitemap, nil)

	rec := h.do(userRequest(http.MethodPost, "/api/screenshot-jobs", map[string]any{
		"urls":           []string{"https://example.com/"},
		"sitemap_job_id": sitemap.ID,
	}))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob(t *testing.T) {
	h := newHarness(t, nil)
	mine := newJob(model.JobKindCrawl, testUser, model.JobStatusProcessing)
	theirs := newJob(model.JobKindCrawl, "someone-else", model.JobStatusProcessing)
	h.repo.EXPECT().Get(gomock.Any(), model.JobKindCrawl, mine.ID).Return(mine, nil)
	h.repo.EXPECT().Get(gomock.Any(), model.JobKindCrawl, theirs.ID).Return(theirs, nil)

	rec := h.do(userRequest(http.MethodGet, "/api/crawl-jobs/"+mine.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mine.ID, decode[model.Job](t, rec).ID)

	rec = h.do(userRequest(http.MethodGet, "/api/crawl-jobs/"+theirs.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorBody](t, rec).Error)

	rec = h.do(userRequest(http.MethodGet, "/api/crawl-jobs/not-a-uuid", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs(t *testing.T) {
	h := newHarness(t, nil)
	completed := model.JobStatusCompleted
	h.repo.EXPECT().ListByOwner(gomock.Any(), testUser, model.JobKindSitemap, model.ListOptions{
		Status: &completed, Limit: 10, Offset: 20,
	}).Return([]*model.Job{newJob(model.JobKindSitemap, testUser, model.JobStatusCompleted)}, nil)

	rec := h.do(userRequest(http.MethodGet, "/api/sitemap-jobs?status=completed&limit=10&offset=20", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[listJobsResponse](t, rec)
	assert.Len(t, body.Jobs, 1)
	assert.Equal(t, 10, body.Limit)
	assert.Equal(t, 20, body.Offset)
}

func TestListJobs_EmptyAndInvalidStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.repo.EXPECT().ListByOwner(gomock.Any(), testUser, model.JobKindScreenshot, gomock.Any()).Return(nil, nil)

	rec := h.do(userRequest(http.MethodGet, "/api/screenshot-jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"jobs":[]`)

	rec = h.do(userRequest(http.MethodGet, "/api/screenshot-jobs?status=running", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWatchJobs_ReturnsWhenTerminal(t *testing.T) {
	h := newHarness(t, nil)
	a := newJob(model.JobKindSitemap, testUser, model.JobStatusCompleted)
	b := newJob(model.JobKindSitemap, testUser, model.JobStatusFailed)
	h.repo.EXPECT().ListByIDs(gomock.Any(), testUser, model.JobKindSitemap, []string{a.ID, b.ID}).
		Return([]*model.Job{a, b}, nil)

	rec := h.do(userRequest(http.MethodGet, "/api/sitemap-jobs/watch?ids="+a.ID+","+b.ID+"&ids="+a.ID, nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[service.WatchResult](t, rec)
	assert.True(t, res.Done)
	assert.False(t, res.GaveUp)
	assert.Len(t, res.Jobs, 2)
}

func TestWatchJobs_GivesUp(t *testing.T) {
	h := newHarness(t, nil)
	a := newJob(model.JobKindScreenshot, testUser, model.JobStatusProcessing)
	h.repo.EXPECT().ListByIDs(gomock.Any(), testUser, model.JobKindScreenshot, []string{a.ID}).
		Return([]*model.Job{a}, nil).MinTimes(1)

	rec := h.do(userRequest(http.MethodGet, "/api/screenshot-jobs/watch?ids="+a.ID+"&max_wait=1", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[service.WatchResult](t, rec)
	assert.False(t, res.Done)
	assert.True(t, res.GaveUp)
}

func TestWatchJobs_RequiresIDs(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(userRequest(http.MethodGet, "/api/crawl-jobs/watch", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScreenshotProgress(t *testing.T) {
	h := newHarness(t, nil)
	jobs := []*model.Job{
		newJob(model.JobKindScreenshot, testUser, model.JobStatusCompleted),
		newJob(model.JobKindScreenshot, testUser, model.JobStatusFailed),
		newJob(model.JobKindScreenshot, testUser, model.JobStatusPending),
	}
	ids := []string{jobs[0].ID, jobs[1].ID, jobs[2].ID}
	h.repo.EXPECT().ListByIDs(gomock.Any(), testUser, model.JobKindScreenshot, ids).Return(jobs, nil)

	rec := h.do(userRequest(http.MethodGet, "/api/screenshot-jobs/progress?ids="+strings.Join(ids, ","), nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"total":3,"pending":1,"processing":0,"completed":1,"failed":1,"done":false}`, rec.Body.String())
}

func TestAdminStats_RequiresAdmin(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(userRequest(http.MethodGet, "/api/admin/jobs/stats?kind=crawl", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := &mockAuthService{getSessionFunc: func(_ context.Context, id string) (*domainauth.Session, error) {
		return &domainauth.Session{ID: id, UserID: "root", Role: domainauth.RoleAdmin}, nil
	}}
	h = newHarness(t, admin)
	h.repo.EXPECT().Stats(gomock.Any(), model.JobKindCrawl).Return(&model.JobStats{Pending: 2, Failed: 1}, nil)

	rec = h.do(userRequest(http.MethodGet, "/api/admin/jobs/stats?kind=crawl", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[model.JobStats](t, rec).Pending)

	rec = h.do(userRequest(http.MethodGet, "/api/admin/jobs/stats?kind=browser", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	h := NewRouter(RouterServices{
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
		MetricsPath: "/internal/metrics",
	})

	rec := newRecorder(h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = newRecorder(h, http.MethodGet, "/internal/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics\n", rec.Body.String())

	rec = newRecorder(h, http.MethodGet, "/api/sitemap-jobs/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
