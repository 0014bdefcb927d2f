package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	domainjob "github.com/target/mmk-pageshot/internal/domain/job"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"github.com/target/mmk-pageshot/internal/mocks"
	"github.com/target/mmk-pageshot/internal/service"
	"go.uber.org/mock/gomock"
)

const (
	testUser        = "test-user"
	testWorkerToken = "worker-secret"
)

type quietNotifier struct{}

func (quietNotifier) Subscribe(model.JobKind) (func(), <-chan struct{}) {
	return func() {}, make(chan struct{})
}

func (quietNotifier) StopAll() {}

// memStore records uploads in memory.
type memStore struct {
	mu   sync.Mutex
	puts []memPut
	err  error
}

type memPut struct {
	data        []byte
	contentType string
}

func (s *memStore) Put(_ context.Context, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.puts = append(s.puts, memPut{data: append([]byte(nil), data...), contentType: contentType})
	return "https://cdn.example.com/screenshots/" + uuid.NewString(), nil
}

type harness struct {
	repo    *mocks.MockJobRepository
	jobs    *service.JobService
	store   *memStore
	handler http.Handler
}

func newHarness(t *testing.T, auth AuthServiceInterface) *harness {
	t.Helper()
	repo := mocks.NewMockJobRepository(gomock.NewController(t))
	jobs := service.MustNewJobService(service.JobServiceOptions{
		Repo:     repo,
		Notifier: quietNotifier{},
		Broker:   domainjob.NewBroker(domainjob.BrokerOptions{}),
	})
	disc, err := service.NewDiscoveryService(service.DiscoveryServiceOptions{Jobs: jobs, DefaultMaxURLs: 500})
	require.NoError(t, err)
	if auth == nil {
		auth = &mockAuthService{}
	}
	store := &memStore{}
	h := NewRouter(RouterServices{
		Jobs:              jobs,
		Discovery:         disc,
		Dispatch:          service.NewDispatchService(jobs, nil),
		Watcher:           service.NewWatcher(jobs, nil),
		Auth:              auth,
		Artifacts:         store,
		WorkerToken:       testWorkerToken,
		HeartbeatInterval: time.Hour,
	})
	return &harness{repo: repo, jobs: jobs, store: store, handler: h}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func userRequest(method, target string, body any) *http.Request {
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = bytes.NewBufferString(b)
		default:
			buf, _ := json.Marshal(b)
			rd = bytes.NewReader(buf)
		}
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "test-session-id"})
	return req
}

func workerRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+testWorkerToken)
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func newJob(kind model.JobKind, owner string, status model.JobStatus) *model.Job {
	now := time.Now().UTC()
	j := &model.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Owner:     owner,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch kind {
	case model.JobKindSitemap:
		j.Sitemap = &model.SitemapPayload{Domain: "example.com"}
	case model.JobKindCrawl:
		j.Crawl = &model.CrawlPayload{Domain: "example.com"}
	case model.JobKindScreenshot:
		j.Screenshot = &model.ScreenshotPayload{
			URL:     "https://example.com/",
			Options: model.CaptureOptions{}.WithDefaults(),
		}
	}
	if status != model.JobStatusPending {
		j.StartedAt = &now
	}
	if status.Terminal() {
		j.CompletedAt = &now
	}
	return j
}

func newRecorder(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func newRecorderFor(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
