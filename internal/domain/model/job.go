// Package model defines the core data types shared by the discovery, crawl and screenshot job pipeline.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobKind identifies which of the three job tables a job lives in.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobKind string

// JobStatus represents the current status of a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobStatus string

const (
	// JobKindSitemap is a sitemap discovery job for a domain.
	JobKindSitemap JobKind = "sitemap"
	// JobKindCrawl is a bulk crawl job run through the external crawler.
	JobKindCrawl JobKind = "crawl"
	// JobKindScreenshot is a single-URL screenshot capture job.
	JobKindScreenshot JobKind = "screenshot"

	// JobStatusPending indicates a job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates a job has been picked up by a worker.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job has failed to complete.
	JobStatusFailed JobStatus = "failed"
)

var (
	// ErrNoJobsAvailable is returned when no jobs are available for reservation.
	ErrNoJobsAvailable = errors.New("no jobs available")
	// ErrJobNotFound is returned when no job of the requested kind has the id.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a status change is not allowed from the job's current status.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// AllJobKinds lists every job kind in a stable order.
func AllJobKinds() []JobKind {
	return []JobKind{JobKindSitemap, JobKindCrawl, JobKindScreenshot}
}

// Valid returns true if the JobKind is known.
func (k JobKind) Valid() bool {
	return k == JobKindSitemap || k == JobKindCrawl || k == JobKindScreenshot
}

// UnmarshalText implements encoding.TextUnmarshaler for JobKind to allow env and query parsing.
func (k *JobKind) UnmarshalText(text []byte) error {
	v := JobKind(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobKind: %q", string(text))
	}
	*k = v
	return nil
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusProcessing || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// UnmarshalText implements encoding.TextUnmarshaler for JobStatus.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", string(text))
	}
	*s = v
	return nil
}

// Terminal reports whether no further transition is possible from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// AllowedFrom returns the statuses a job may be in when moving to target.
// pending -> failed is allowed for jobs that fail before dispatch.
func AllowedFrom(target JobStatus) []JobStatus {
	switch target {
	case JobStatusProcessing:
		return []JobStatus{JobStatusPending}
	case JobStatusCompleted:
		return []JobStatus{JobStatusProcessing}
	case JobStatusFailed:
		return []JobStatus{JobStatusPending, JobStatusProcessing}
	case JobStatusPending:
		return nil
	default:
		return nil
	}
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to JobStatus) bool {
	for _, s := range AllowedFrom(to) {
		if s == from {
			return true
		}
	}
	return false
}

// Job is the shared shape of all three job kinds. Exactly one payload pointer is set, matching Kind.
type Job struct {
	ID           string     `json:"id"`
	Kind         JobKind    `json:"kind"`
	Owner        string     `json:"owner"`
	Status       JobStatus  `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Sitemap    *SitemapPayload    `json:"sitemap,omitempty"`
	Crawl      *CrawlPayload      `json:"crawl,omitempty"`
	Screenshot *ScreenshotPayload `json:"screenshot,omitempty"`
}

// SitemapPayload holds the sitemap discovery fields.
type SitemapPayload struct {
	Domain string    `json:"domain"`
	URLs   []string  `json:"urls"`
	Source SourceTag `json:"source,omitempty"`
}

// CrawlPayload holds the bulk crawl fields. MaxURLs and CrawlDepth are hints handed to the crawler.
type CrawlPayload struct {
	Domain         string   `json:"domain"`
	SitemapJobID   *string  `json:"sitemap_job_id,omitempty"`
	MaxURLs        int      `json:"max_urls"`
	CrawlDepth     int      `json:"crawl_depth"`
	DiscoveredURLs []string `json:"discovered_urls"`
}

// ScreenshotPayload holds the screenshot capture fields.
type ScreenshotPayload struct {
	URL           string         `json:"url"`
	SitemapJobID  *string        `json:"sitemap_job_id,omitempty"`
	Options       CaptureOptions `json:"options"`
	ScreenshotURL *string        `json:"screenshot_url,omitempty"`
	ThumbnailURL  *string        `json:"thumbnail_url,omitempty"`
}

// Domain returns the job's domain for sitemap and crawl jobs.
func (j *Job) Domain() string {
	switch {
	case j.Sitemap != nil:
		return j.Sitemap.Domain
	case j.Crawl != nil:
		return j.Crawl.Domain
	default:
		return ""
	}
}

// ResultURLs returns the write-once URL result for sitemap and crawl jobs.
func (j *Job) ResultURLs() []string {
	switch {
	case j.Sitemap != nil:
		return j.Sitemap.URLs
	case j.Crawl != nil:
		return j.Crawl.DiscoveredURLs
	default:
		return nil
	}
}

// CreateJobRequest represents a request to create a new job of any kind.
type CreateJobRequest struct {
	Kind       JobKind
	Owner      string
	Sitemap    *SitemapPayload
	Crawl      *CrawlPayload
	Screenshot *ScreenshotPayload
}

// Validate checks the request carries exactly the payload that matches its kind.
func (r *CreateJobRequest) Validate() error {
	if !r.Kind.Valid() {
		return errors.New("invalid job kind")
	}
	if strings.TrimSpace(r.Owner) == "" {
		return errors.New("owner is required")
	}

	set := 0
	for _, p := range []bool{r.Sitemap != nil, r.Crawl != nil, r.Screenshot != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return errors.New("exactly one payload is required")
	}

	switch r.Kind {
	case JobKindSitemap:
		if r.Sitemap == nil || r.Sitemap.Domain == "" {
			return errors.New("sitemap job requires a domain")
		}
	case JobKindCrawl:
		if r.Crawl == nil || r.Crawl.Domain == "" {
			return errors.New("crawl job requires a domain")
		}
		if r.Crawl.MaxURLs < 0 || r.Crawl.CrawlDepth < 0 {
			return errors.New("max_urls and crawl_depth must be >= 0")
		}
		if err := validateOptionalID(r.Crawl.SitemapJobID); err != nil {
			return err
		}
	case JobKindScreenshot:
		if r.Screenshot == nil || r.Screenshot.URL == "" {
			return errors.New("screenshot job requires a url")
		}
		if err := validateOptionalID(r.Screenshot.SitemapJobID); err != nil {
			return err
		}
		return r.Screenshot.Options.Validate()
	}
	return nil
}

func validateOptionalID(id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	if _, err := uuid.Parse(*id); err != nil {
		return errors.New("sitemap job id must be a valid UUID")
	}
	return nil
}

// TransitionRequest moves a job to a new status, carrying the fields that status may set.
type TransitionRequest struct {
	Kind JobKind
	ID   string
	To   JobStatus

	// ErrorMessage is recorded only when To is failed.
	ErrorMessage string
	// URLs is the sitemap/crawl result, recorded only when To is completed.
	URLs []string
	// Source tags a completed sitemap job.
	Source SourceTag
	// ScreenshotURL and ThumbnailURL are recorded on completed screenshot jobs.
	ScreenshotURL string
	ThumbnailURL  string
}

// Validate checks that the patch fields match the target status.
func (r *TransitionRequest) Validate() error {
	if !r.Kind.Valid() {
		return errors.New("invalid job kind")
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		return errors.New("job id must be a valid UUID")
	}
	if !r.To.Valid() || r.To == JobStatusPending {
		return fmt.Errorf("invalid target status %q", r.To)
	}
	if r.To != JobStatusFailed && r.ErrorMessage != "" {
		return errors.New("error message is only allowed on failed")
	}
	if r.To == JobStatusFailed && strings.TrimSpace(r.ErrorMessage) == "" {
		return errors.New("failed transition requires an error message")
	}
	if r.To != JobStatusCompleted && (len(r.URLs) > 0 || r.Source != "" || r.ScreenshotURL != "" || r.ThumbnailURL != "") {
		return errors.New("result fields are only allowed on completed")
	}
	if r.Source != "" && r.Kind != JobKindSitemap {
		return errors.New("source is only allowed on sitemap jobs")
	}
	if r.Kind == JobKindScreenshot && len(r.URLs) > 0 {
		return errors.New("urls are not allowed on screenshot jobs")
	}
	if r.Kind != JobKindScreenshot && (r.ScreenshotURL != "" || r.ThumbnailURL != "") {
		return errors.New("artifact urls are only allowed on screenshot jobs")
	}
	return nil
}

// ListOptions pages through an owner's jobs, newest first.
type ListOptions struct {
	Status *JobStatus
	Limit  int
	Offset int
}

// JobEvent is published on every successful transition.
type JobEvent struct {
	Kind   JobKind   `json:"kind"`
	JobID  string    `json:"job_id"`
	Owner  string    `json:"owner"`
	From   JobStatus `json:"from"`
	Status JobStatus `json:"status"`
	At     time.Time `json:"at"`
	Job    *Job      `json:"job,omitempty"`
}

// JobStats represents counts of jobs per status for one kind.
type JobStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
