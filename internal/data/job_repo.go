package data

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/target/mmk-pageshot/internal/domain/model"
)

// TransitionChannel carries cross-instance transition notices.
const TransitionChannel = "job_transition"

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger *slog.Logger
	// Now stamps transitions and reaper cutoffs; defaults to time.Now.
	Now func() time.Time
	// InstanceID tags transition notices so a process can skip its own.
	InstanceID string
}

// JobRepo stores sitemap, crawl and screenshot jobs in their own tables.
type JobRepo struct {
	DB         *sql.DB
	now        func() time.Time
	logger     *slog.Logger
	instanceID string
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := cfg.InstanceID
	if id == "" {
		id = uuid.NewString()
	}
	return &JobRepo{
		DB:         db,
		now:        now,
		logger:     logger.With("component", "job_repo"),
		instanceID: id,
	}
}

// InstanceID returns the origin tag written on transition notices.
func (r *JobRepo) InstanceID() string { return r.instanceID }

// jobTable describes the table and kind-specific columns for one job kind.
type jobTable struct {
	kind   model.JobKind
	name   string
	extras []string
}

var commonColumns = []string{
	"id::text", "owner", "status", "error_message",
	"created_at", "started_at", "completed_at", "updated_at",
}

var jobTables = map[model.JobKind]jobTable{
	model.JobKindSitemap: {
		kind:   model.JobKindSitemap,
		name:   "sitemap_jobs",
		extras: []string{"domain", "urls", "source"},
	},
	model.JobKindCrawl: {
		kind:   model.JobKindCrawl,
		name:   "crawl_jobs",
		extras: []string{"domain", "sitemap_job_id::text", "max_urls", "crawl_depth", "discovered_urls"},
	},
	model.JobKindScreenshot: {
		kind:   model.JobKindScreenshot,
		name:   "screenshot_jobs",
		extras: []string{"url", "sitemap_job_id::text", "options", "screenshot_url", "thumbnail_url"},
	},
}

func tableFor(kind model.JobKind) (jobTable, error) {
	t, ok := jobTables[kind]
	if !ok {
		return jobTable{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return t, nil
}

// columns renders the select list, optionally qualified with a table alias.
func (t jobTable) columns(alias string) string {
	all := make([]string, 0, len(commonColumns)+len(t.extras))
	for _, c := range append(append([]string{}, commonColumns...), t.extras...) {
		if alias != "" {
			c = alias + "." + c
		}
		all = append(all, c)
	}
	return strings.Join(all, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scan reads one row selected with t.columns into a Job.
func (t jobTable) scan(row rowScanner) (*model.Job, error) {
	job := &model.Job{Kind: t.kind}
	dest := []any{
		&job.ID, &job.Owner, &job.Status, &job.ErrorMessage,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt,
	}

	var finish func() error
	switch t.kind {
	case model.JobKindSitemap:
		p := &model.SitemapPayload{}
		var source *string
		dest = append(dest, &p.Domain, &p.URLs, &source)
		finish = func() error {
			if source != nil {
				p.Source = model.SourceTag(*source)
			}
			job.Sitemap = p
			return nil
		}
	case model.JobKindCrawl:
		p := &model.CrawlPayload{}
		dest = append(dest, &p.Domain, &p.SitemapJobID, &p.MaxURLs, &p.CrawlDepth, &p.DiscoveredURLs)
		finish = func() error {
			job.Crawl = p
			return nil
		}
	case model.JobKindScreenshot:
		p := &model.ScreenshotPayload{}
		var opts []byte
		dest = append(dest, &p.URL, &p.SitemapJobID, &opts, &p.ScreenshotURL, &p.ThumbnailURL)
		finish = func() error {
			if len(opts) > 0 {
				if err := json.Unmarshal(opts, &p.Options); err != nil {
					return fmt.Errorf("decode capture options: %w", err)
				}
			}
			job.Screenshot = p
			return nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, t.kind)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := finish(); err != nil {
		return nil, err
	}
	return job, nil
}
