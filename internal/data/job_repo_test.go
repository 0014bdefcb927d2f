package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-pageshot/internal/domain/model"
)

const testJobID = "550e8400-e29b-41d4-a716-446655440000"

func TestTableFor(t *testing.T) {
	for _, kind := range model.AllJobKinds() {
		tbl, err := tableFor(kind)
		require.NoError(t, err)
		assert.Equal(t, string(kind)+"_jobs", tbl.name)
	}
	_, err := tableFor("browser")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestJobTable_Columns(t *testing.T) {
	tbl := jobTables[model.JobKindSitemap]
	assert.Equal(t,
		"id::text, owner, status, error_message, created_at, started_at, completed_at, updated_at, domain, urls, source",
		tbl.columns(""))
	assert.Contains(t, tbl.columns("j"), "j.id::text, j.owner")
	assert.Contains(t, jobTables[model.JobKindCrawl].columns("j"), "j.sitemap_job_id::text")
}

func TestBuildTransition(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("processing sets started_at", func(t *testing.T) {
		q, args := buildTransition(jobTables[model.JobKindCrawl], &model.TransitionRequest{
			Kind: model.JobKindCrawl, ID: testJobID, To: model.JobStatusProcessing,
		}, now)
		assert.Contains(t, q, "UPDATE crawl_jobs SET status = $2, updated_at = $3, started_at = $3 WHERE id = $1")
		assert.Contains(t, q, "status = ANY($4::text[])")
		require.Len(t, args, 4)
		assert.Equal(t, []string{"pending"}, args[3])
	})

	t.Run("completed sitemap writes urls and source", func(t *testing.T) {
		q, args := buildTransition(jobTables[model.JobKindSitemap], &model.TransitionRequest{
			Kind: model.JobKindSitemap, ID: testJobID, To: model.JobStatusCompleted,
			URLs: []string{"https://a.example/"}, Source: model.SourceBulkCrawl,
		}, now)
		assert.Contains(t, q, "completed_at = $3, urls = $4, source = $5")
		assert.Contains(t, q, "ANY($6::text[])")
		assert.Equal(t, []string{"https://a.example/"}, args[3])
		assert.Equal(t, "bulk_crawl", args[4])
		assert.Equal(t, []string{"processing"}, args[5])
	})

	t.Run("completed with nil urls stores empty set", func(t *testing.T) {
		_, args := buildTransition(jobTables[model.JobKindCrawl], &model.TransitionRequest{
			Kind: model.JobKindCrawl, ID: testJobID, To: model.JobStatusCompleted,
		}, now)
		assert.Equal(t, []string{}, args[3])
	})

	t.Run("failed allows pending and processing", func(t *testing.T) {
		q, args := buildTransition(jobTables[model.JobKindScreenshot], &model.TransitionRequest{
			Kind: model.JobKindScreenshot, ID: testJobID, To: model.JobStatusFailed, ErrorMessage: "boom",
		}, now)
		assert.Contains(t, q, "error_message = $4")
		assert.Equal(t, "boom", args[3])
		assert.Equal(t, []string{"pending", "processing"}, args[4])
	})

	t.Run("screenshot completion writes artifacts", func(t *testing.T) {
		q, args := buildTransition(jobTables[model.JobKindScreenshot], &model.TransitionRequest{
			Kind: model.JobKindScreenshot, ID: testJobID, To: model.JobStatusCompleted,
			ScreenshotURL: "https://cdn/x.png",
		}, now)
		assert.Contains(t, q, "screenshot_url = $4, thumbnail_url = $5")
		assert.Equal(t, "https://cdn/x.png", args[3])
		assert.Nil(t, args[4])
	})
}

func TestPriorStatus(t *testing.T) {
	started := time.Now()
	assert.Equal(t, model.JobStatusPending, priorStatus(model.JobStatusProcessing, &model.Job{}))
	assert.Equal(t, model.JobStatusProcessing, priorStatus(model.JobStatusCompleted, &model.Job{StartedAt: &started}))
	assert.Equal(t, model.JobStatusPending, priorStatus(model.JobStatusFailed, &model.Job{}))
	assert.Equal(t, model.JobStatusProcessing, priorStatus(model.JobStatusFailed, &model.Job{StartedAt: &started}))
}

func TestReaperLockMinor_Distinct(t *testing.T) {
	seen := map[int]bool{}
	for _, kind := range model.AllJobKinds() {
		for _, op := range []int{reaperOpFailStale, reaperOpDelete} {
			m := reaperLockMinor(kind, op)
			assert.False(t, seen[m], "duplicate lock key %d", m)
			seen[m] = true
		}
	}
}
