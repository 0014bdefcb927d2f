package httpx

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"go.uber.org/mock/gomock"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type upload struct {
	field       string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, files ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.field+`.bin"`)
		if f.contentType != "" {
			hdr.Set("Content-Type", f.contentType)
		}
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestWorkerToken(t *testing.T) {
	h := newHarness(t, nil)
	for _, auth := range []string{"", "Bearer wrong", "Basic " + testWorkerToken, testWorkerToken} {
		req := workerRequest(http.MethodGet, "/api/worker/screenshot-jobs/reserve?wait=0", nil)
		req.Header.Set("Authorization", auth)
		rec := h.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, auth)
	}
}

func TestWorkerToken_EmptyConfiguredTokenRejects(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	req := workerRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := newRecorderFor(RequireWorkerToken("")(next), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReserve(t *testing.T) {
	h := newHarness(t, nil)
	job := newJob(model.JobKindScreenshot, testUser, model.JobStatusProcessing)
	gomock.InOrder(
		h.repo.EXPECT().ReserveNext(gomock.Any(), model.JobKindScreenshot).Return(nil, model.ErrNoJobsAvailable),
		h.repo.EXPECT().ReserveNext(gomock.Any(), model.JobKindScreenshot).Return(job, nil),
	)

	rec := h.do(workerRequest(http.MethodGet, "/api/worker/screenshot-jobs/reserve?wait=0", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(workerRequest(http.MethodGet, "/api/worker/screenshot-jobs/reserve?wait=0", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.Job](t, rec)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
}

func TestReserve_RepositoryError(t *testing.T) {
	h := newHarness(t, nil)
	h.repo.EXPECT().ReserveNext(gomock.Any(), model.JobKindScreenshot).Return(nil, errors.New("connection refused"))

	rec := h.do(workerRequest(http.MethodGet, "/api/worker/screenshot-jobs/reserve?wait=0", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestComplete_UploadsAndCompletes(t *testing.T) {
	h := newHarness(t, nil)
	job := newJob(model.JobKindScreenshot, testUser, model.JobStatusProcessing)
	h.repo.EXPECT().Get(gomock.Any(), model.JobKindScreenshot, job.ID).Return(job, nil)
	h.repo.EXPECT().Transition(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *model.TransitionRequest) (*model.Job, model.JobStatus, error) {
			assert.Equal(t, model.JobStatusCompleted, req.To)
			assert.True(t, strings.HasPrefix(req.ScreenshotURL, "https://cdn.example.com/screenshots/"))
			assert.True(t, strings.HasPrefix(req.ThumbnailURL, "https://cdn.example.com/screenshots/"))
			assert.NotEqual(t, req.ScreenshotURL, req.ThumbnailURL)
			done := *job
			done.Status = model.JobStatusCompleted
			payload := *job.Screenshot
			payload.ScreenshotURL, payload.ThumbnailURL = &req.ScreenshotURL, &req.ThumbnailURL
			done.Screenshot = &payload
			return &done, model.JobStatusProcessing, nil
		})

	body, ct := multipartBody(t,
		upload{field: "image", data: pngBytes},
		upload{field: "thumbnail", contentType: "image/jpeg", data: []byte("\xff\xd8\xff thumb")},
	)
	req := workerRequest(http.MethodPost, "/api/worker/screenshot-jobs/"+job.ID+"/complete", body)
	req.Header.Set("Content-Type", ct)
	rec := h.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[model.Job](t, rec)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Screenshot.ScreenshotURL)

	require.Len(t, h.store.puts, 2)
	assert.Equal(t, "image/png", h.store.puts[0].contentType)
	assert.Equal(t, pngBytes, h.store.puts[0].data)
	assert.Equal(t, "image/jpeg", h.store.puts[1].contentType)
}

func TestComplete_Rejections(t *testing.T) {
	t.Run("not processing", func(t *testing.T) {
		h := newHarness(t, nil)
		job := newJob(model.JobKindScreenshot, testUser, model.JobStatusCompleted)
		h.repo.EXPECT().Get(gomock.Any(), model.JobKindScreenshot, job.ID).Return(job, nil)

		body, ct := multipartBody(t, upload{field: "image", data: pngBytes})
		req := workerRequest(http.MethodPost, "/api/worker/screenshot-jobs/"+job.ID+"/complete", body)
		req.Header.Set("Content-Type", ct)
		rec := h.do(req)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "invalid_transition", decode[errorBody](t, rec).Error)
		assert.Empty(t, h.store.puts)
	})

	t.Run("missing image", func(t *testing.T) {
		h := newHarness(t, nil)
		job := newJob(model.JobKindScreenshot, testUser, model.JobStatusProcessing)
		h.repo.EXPECT().Get(gomock.Any(), model.JobKindScreenshot, job.ID).Return(job, nil)

		body, ct := multipartBody(t, upload{field: "thumbnail", data: pngBytes})
		req := workerRequest(http.MethodPost, "/api/worker/screenshot-jobs/"+job.ID+"/complete", body)
		req.Header.Set("Content-Type", ct)
		rec := h.do(req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		h := newHarness(t, nil)
		job := newJob(model.JobKindScreenshot, testUser, model.JobStatusProcessing)
		h.repo.EXPECT().Get(gomock.Any(), model.JobKindScreenshot, job.ID).Return(job, nil)

		req := workerRequest(http.MethodPost, "/api/worker/screenshot-jobs/"+job.ID+"/complete", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		rec := h.do(req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		h := newHarness(t, nil)
		job := newJob(model.JobKindScreenshot, testUser, model.JobStatusProcessing)
		h.repo.EXPECT().Get(gomock.Any(), model.JobKindScreenshot, job.ID).Return(nil, model.ErrJobNotFound)

		rec := h.do(workerRequest(http.MethodPost, "/api/worker/screenshot-jobs/"+job.ID+"/complete", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		h := newHarness(t, nil)
		h.store.err = errors.New("bucket unavailable")
		job := newJob(model.JobKindScreenshot, testUser, model.JobStatusProcessing)
		h.repo.EXPECT().Get(gomock.Any(), model.JobKindScreenshot, job.ID).Return(job, nil)

		body, ct := multipartBody(t, upload{field: "image", data: pngBytes})
		req := workerRequest(http.MethodPost, "/api/worker/screenshot-jobs/"+job.ID+"/complete", body)
		req.Header.Set("Content-Type", ct)
		rec := h.do(req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestFail(t *testing.T) {
	h := newHarness(t, nil)
	job := newJob(model.JobKindScreenshot, testUser, model.JobStatusProcessing)
	h.repo.EXPECT().Transition(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *model.TransitionRequest) (*model.Job, model.JobStatus, error) {
			assert.Equal(t, model.JobStatusFailed, req.To)
			assert.Equal(t, "navigation timeout", req.ErrorMessage)
			failed := *job
			failed.Status = model.JobStatusFailed
			failed.ErrorMessage = &req.ErrorMessage
			return &failed, model.JobStatusProcessing, nil
		})

	rec := h.do(workerRequest(http.MethodPost, "/api/worker/screenshot-jobs/"+job.ID+"/fail",
		strings.NewReader(`{"error":"navigation timeout"}`)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.JobStatusFailed, decode[model.Job](t, rec).Status)
}

func TestFail_TerminalJobIsImmutable(t *testing.T) {
	h := newHarness(t, nil)
	job := newJob(model.JobKindScreenshot, testUser, model.JobStatusCompleted)
	h.repo.EXPECT().Transition(gomock.Any(), gomock.Any()).Return(nil, model.JobStatus(""), model.ErrInvalidTransition)

	rec := h.do(workerRequest(http.MethodPost, "/api/worker/screenshot-jobs/"+job.ID+"/fail",
		strings.NewReader(`{"error":"late failure"}`)))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[errorBody](t, rec).Error)
}

func TestFail_RequiresMessage(t *testing.T) {
	h := newHarness(t, nil)
	job := newJob(model.JobKindScreenshot, testUser, model.JobStatusProcessing)
	rec := h.do(workerRequest(http.MethodPost, "/api/worker/screenshot-jobs/"+job.ID+"/fail",
		strings.NewReader(`{"error":"   "}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
