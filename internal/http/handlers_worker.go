package httpx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/target/mmk-pageshot/internal/artifact"
	"github.com/target/mmk-pageshot/internal/domain/model"
	apperrors "github.com/target/mmk-pageshot/internal/errors"
	"github.com/target/mmk-pageshot/internal/service"
)

// DefaultMaxUploadBytes bounds one completion upload (image plus thumbnail).
const DefaultMaxUploadBytes int64 = 32 << 20

const (
	formFieldImage     = "image"
	formFieldThumbnail = "thumbnail"
)

// WorkerHandlers serve the render worker API: reserve a screenshot job, then complete or fail it.
type WorkerHandlers struct {
	Jobs           *service.JobService
	Artifacts      artifact.Store
	MaxUploadBytes int64
	Logger         *slog.Logger
}

func (h *WorkerHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Reserve handles GET /api/worker/screenshot-jobs/reserve?wait=.
// It long-polls up to wait seconds (the policy default when absent) and answers 204 when
// nothing arrived. The returned job is already processing.
func (h *WorkerHandlers) Reserve(w http.ResponseWriter, r *http.Request) {
	wait, ok := parseSecondsQuery(r, "wait")
	if !ok {
		wait = -1
	}
	job, err := h.Jobs.ReserveWait(r.Context(), model.JobKindScreenshot, wait)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// Complete handles POST /api/worker/screenshot-jobs/{id}/complete.
// The multipart body carries the rendered image and an optional thumbnail; both go to the
// artifact store before the job is marked completed with their URLs.
func (h *WorkerHandlers) Complete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := h.Jobs.Lookup(r.Context(), model.JobKindScreenshot, id)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	if job.Status != model.JobStatusProcessing {
		writeServiceError(w, r, h.logger(), apperrors.InvalidTransition(model.ErrInvalidTransition,
			"screenshot job %s is %s, not processing", job.ID, job.Status))
		return
	}

	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		writeServiceError(w, r, h.logger(), apperrors.Validationf("invalid multipart upload: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	imageURL, err := h.store(r, formFieldImage)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	if imageURL == "" {
		writeServiceError(w, r, h.logger(), apperrors.ValidationField(formFieldImage, "image file is required"))
		return
	}
	thumbURL, err := h.store(r, formFieldThumbnail)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}

	done, err := h.Jobs.Transition(r.Context(), &model.TransitionRequest{
		Kind:          model.JobKindScreenshot,
		ID:            job.ID,
		To:            model.JobStatusCompleted,
		ScreenshotURL: imageURL,
		ThumbnailURL:  thumbURL,
	})
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, done)
}

// store uploads one form file and returns its public URL, or "" when the field is absent.
func (h *WorkerHandlers) store(r *http.Request, field string) (string, error) {
	file, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.ValidationField(field, err.Error())
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", field, err)
	}
	if len(data) == 0 {
		return "", apperrors.ValidationField(field, field+" file is empty")
	}
	u, err := h.Artifacts.Put(r.Context(), data, contentTypeOf(hdr, data))
	if err != nil {
		return "", fmt.Errorf("store %s: %w", field, err)
	}
	return u, nil
}

func contentTypeOf(hdr *multipart.FileHeader, data []byte) string {
	ct := strings.TrimSpace(hdr.Header.Get("Content-Type"))
	if ct == "" || ct == "application/octet-stream" {
		return http.DetectContentType(data)
	}
	return ct
}

type failJobRequest struct {
	Error string `json:"error"`
}

// Fail handles POST /api/worker/screenshot-jobs/{id}/fail.
func (h *WorkerHandlers) Fail(w http.ResponseWriter, r *http.Request) {
	var req failJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Error) == "" {
		writeServiceError(w, r, h.logger(), apperrors.ValidationField("error", "error is required"))
		return
	}
	job, err := h.Jobs.Transition(r.Context(), &model.TransitionRequest{
		Kind:         model.JobKindScreenshot,
		ID:           r.PathValue("id"),
		To:           model.JobStatusFailed,
		ErrorMessage: req.Error,
	})
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}
