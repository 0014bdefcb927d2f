package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"go.uber.org/mock/gomock"
)

type sseFrame struct {
	event string
	id    string
	data  string
}

// readFrame reads one event, skipping heartbeat comments.
func readFrame(t *testing.T, rd *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.event != "" {
				return f
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			f.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, srv *httptest.Server, query string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events"+query, nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "test-session-id"})
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body)
}

func TestEvents_StreamsOwnTransitions(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.handler)
	t.Cleanup(srv.Close)

	job := newJob(model.JobKindScreenshot, testUser, model.JobStatusProcessing)
	h.repo.EXPECT().Get(gomock.Any(), model.JobKindScreenshot, job.ID).Return(job, nil)

	rd := openStream(t, srv, "?kind=screenshot&job_id="+job.ID)

	assert.Equal(t, sseEventConnected, readFrame(t, rd).event)
	snap := readFrame(t, rd)
	assert.Equal(t, sseEventSnapshot, snap.event)
	assert.Equal(t, job.ID, snap.id)

	done := *job
	done.Status = model.JobStatusCompleted
	h.repo.EXPECT().Transition(gomock.Any(), gomock.Any()).Return(&done, model.JobStatusProcessing, nil)
	_, err := h.jobs.Transition(context.Background(), &model.TransitionRequest{
		Kind: model.JobKindScreenshot, ID: job.ID, To: model.JobStatusCompleted, ScreenshotURL: "https://cdn.example.com/a.png",
	})
	require.NoError(t, err)

	f := readFrame(t, rd)
	assert.Equal(t, sseEventJob, f.event)
	assert.Equal(t, job.ID+":completed", f.id)
	var ev model.JobEvent
	require.NoError(t, json.Unmarshal([]byte(f.data), &ev))
	assert.Equal(t, model.JobStatusProcessing, ev.From)
	assert.Equal(t, model.JobStatusCompleted, ev.Status)
}

func TestEvents_OtherOwnersAreFiltered(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.handler)
	t.Cleanup(srv.Close)

	rd := openStream(t, srv, "?kind=crawl")
	assert.Equal(t, sseEventConnected, readFrame(t, rd).event)

	theirs := newJob(model.JobKindCrawl, "someone-else", model.JobStatusFailed)
	mine := newJob(model.JobKindCrawl, testUser, model.JobStatusFailed)
	gomock.InOrder(
		h.repo.EXPECT().Transition(gomock.Any(), gomock.Any()).Return(theirs, model.JobStatusProcessing, nil),
		h.repo.EXPECT().Transition(gomock.Any(), gomock.Any()).Return(mine, model.JobStatusProcessing, nil),
	)
	for _, j := range []*model.Job{theirs, mine} {
		_, err := h.jobs.Transition(context.Background(), &model.TransitionRequest{
			Kind: model.JobKindCrawl, ID: j.ID, To: model.JobStatusFailed, ErrorMessage: "crawl timed out after 15m0s",
		})
		require.NoError(t, err)
	}

	f := readFrame(t, rd)
	assert.Equal(t, mine.ID+":failed", f.id)
}

func TestEvents_Rejections(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(userRequest(http.MethodGet, "/api/events?kind=browser", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	theirs := newJob(model.JobKindSitemap, "someone-else", model.JobStatusPending)
	h.repo.EXPECT().Get(gomock.Any(), model.JobKindSitemap, theirs.ID).Return(theirs, nil)
	rec = h.do(userRequest(http.MethodGet, "/api/events?kind=sitemap&job_id="+theirs.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := userRequest(http.MethodGet, "/api/events", nil)
	req.Header.Del("Cookie")
	assert.Equal(t, http.StatusUnauthorized, h.do(req).Code)
}
