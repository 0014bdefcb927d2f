package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/target/mmk-pageshot/internal/domain/model"
	apperrors "github.com/target/mmk-pageshot/internal/errors"
)

// MaxBatchURLs caps how many screenshot jobs one dispatch may create.
const MaxBatchURLs = 100

// DispatchRequest asks for one screenshot job per URL, all sharing the same capture options.
type DispatchRequest struct {
	Owner        string
	URLs         []string
	SitemapJobID *string
	Options      model.CaptureOptions
}

// DispatchService fans a URL list out into screenshot jobs.
type DispatchService struct {
	jobs   *JobService
	logger *slog.Logger
}

// NewDispatchService constructs a DispatchService on top of the job service.
func NewDispatchService(jobs *JobService, logger *slog.Logger) *DispatchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DispatchService{jobs: jobs, logger: logger.With("component", "dispatch_service")}
}

// Dispatch validates the whole request, then creates every job in one transaction and
// returns their ids in URL order. Any validation failure creates nothing.
func (d *DispatchService) Dispatch(ctx context.Context, req DispatchRequest) ([]string, error) {
	if strings.TrimSpace(req.Owner) == "" {
		return nil, apperrors.ValidationField("owner", "owner is required")
	}
	if len(req.URLs) == 0 {
		return nil, apperrors.ValidationField("urls", "at least one url is required")
	}
	if len(req.URLs) > MaxBatchURLs {
		return nil, apperrors.ValidationField("urls",
			fmt.Sprintf("at most %d urls per batch (got %d)", MaxBatchURLs, len(req.URLs)))
	}

	opts := req.Options.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, apperrors.ValidationField("options", err.Error())
	}

	reqs := make([]*model.CreateJobRequest, 0, len(req.URLs))
	for i, raw := range req.URLs {
		u, err := validateCaptureURL(raw)
		if err != nil {
			return nil, apperrors.ValidationField("urls", fmt.Sprintf("urls[%d]: %v", i, err))
		}
		reqs = append(reqs, &model.CreateJobRequest{
			Kind:  model.JobKindScreenshot,
			Owner: req.Owner,
			Screenshot: &model.ScreenshotPayload{
				URL:          u,
				SitemapJobID: cloneID(req.SitemapJobID),
				Options:      opts.Clone(),
			},
		})
	}

	jobs, err := d.jobs.CreateBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	d.logger.InfoContext(ctx, "dispatched screenshot batch", "owner", req.Owner, "count", len(ids))
	return ids, nil
}

// Progress summarises the owner's screenshot jobs among ids.
func (d *DispatchService) Progress(ctx context.Context, owner string, ids []string) (model.BatchProgress, error) {
	if len(ids) == 0 {
		return model.BatchProgress{}, apperrors.ValidationField("ids", "at least one id is required")
	}
	jobs, err := d.jobs.ListByIDs(ctx, owner, model.JobKindScreenshot, ids)
	if err != nil {
		return model.BatchProgress{}, err
	}
	return model.NewBatchProgress(jobs), nil
}

func validateCaptureURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("url is empty")
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return u.String(), nil
}

func cloneID(id *string) *string {
	if id == nil || *id == "" {
		return nil
	}
	v := *id
	return &v
}
