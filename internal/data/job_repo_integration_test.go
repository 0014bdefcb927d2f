package data

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-pageshot/internal/core"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"github.com/target/mmk-pageshot/internal/testutil"
)

func TestJobRepo_Integration_ReserveFIFO(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewJobRepo(db, RepoConfig{})

		var ids []string
		for _, d := range []string{"a.example", "b.example", "c.example"} {
			job, err := repo.Create(ctx, testutil.CrawlJobRequest(testutil.DefaultOwner, d, nil))
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusPending, job.Status)
			ids = append(ids, job.ID)
		}

		for _, want := range ids {
			job, err := repo.ReserveNext(ctx, model.JobKindCrawl)
			require.NoError(t, err)
			assert.Equal(t, want, job.ID)
			assert.Equal(t, model.JobStatusProcessing, job.Status)
			assert.NotNil(t, job.StartedAt)
		}

		_, err := repo.ReserveNext(ctx, model.JobKindCrawl)
		assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

func TestJobRepo_Integration_TransitionLifecycle(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewJobRepo(db, RepoConfig{})

		created, err := repo.Create(ctx, testutil.SitemapJobRequest(testutil.DefaultOwner, "shop.example.com"))
		require.NoError(t, err)

		_, _, err = repo.Transition(ctx, &model.TransitionRequest{
			Kind: model.JobKindSitemap, ID: created.ID, To: model.JobStatusCompleted,
		})
		require.ErrorIs(t, err, model.ErrInvalidTransition, "pending cannot skip to completed")

		job, from, err := repo.Transition(ctx, &model.TransitionRequest{
			Kind: model.JobKindSitemap, ID: created.ID, To: model.JobStatusProcessing,
		})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, from)
		require.NotNil(t, job.StartedAt)

		urls := []string{"https://shop.example.com/a", "https://shop.example.com/b"}
		job, from, err = repo.Transition(ctx, &model.TransitionRequest{
			Kind: model.JobKindSitemap, ID: created.ID, To: model.JobStatusCompleted,
			URLs: urls, Source: model.SourceForPath("/wp-sitemap.xml"),
		})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, from)
		assert.Equal(t, model.JobStatusCompleted, job.Status)
		assert.ElementsMatch(t, urls, job.Sitemap.URLs)
		assert.Equal(t, model.SourceTag("wp-sitemap_xml"), job.Sitemap.Source)
		assert.Nil(t, job.ErrorMessage)
		assert.Equal(t, created.Owner, job.Owner)
		assert.True(t, created.CreatedAt.Equal(job.CreatedAt))

		_, _, err = repo.Transition(ctx, &model.TransitionRequest{
			Kind: model.JobKindSitemap, ID: created.ID, To: model.JobStatusFailed, ErrorMessage: "late",
		})
		require.ErrorIs(t, err, model.ErrInvalidTransition)

		stored, err := repo.Get(ctx, model.JobKindSitemap, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, stored.Status)
		assert.Nil(t, stored.ErrorMessage)
		assert.ElementsMatch(t, urls, stored.Sitemap.URLs)
	})
}

func TestJobRepo_Integration_FailFromPending(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewJobRepo(db, RepoConfig{})

		created, err := repo.Create(ctx, testutil.ScreenshotJobRequest(testutil.DefaultOwner, "https://example.com/"))
		require.NoError(t, err)

		job, from, err := repo.Transition(ctx, &model.TransitionRequest{
			Kind: model.JobKindScreenshot, ID: created.ID, To: model.JobStatusFailed, ErrorMessage: "renderer unavailable",
		})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, from)
		assert.Nil(t, job.StartedAt)
		assert.NotNil(t, job.CompletedAt)
		require.NotNil(t, job.ErrorMessage)
		assert.Equal(t, "renderer unavailable", *job.ErrorMessage)
	})
}

func TestJobRepo_Integration_ConcurrentTerminalFirstWins(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewJobRepo(db, RepoConfig{})

		_, err := repo.Create(ctx, testutil.CrawlJobRequest(testutil.DefaultOwner, "example.com", nil))
		require.NoError(t, err)
		job, err := repo.ReserveNext(ctx, model.JobKindCrawl)
		require.NoError(t, err)

		reqs := []*model.TransitionRequest{
			{Kind: model.JobKindCrawl, ID: job.ID, To: model.JobStatusFailed, ErrorMessage: "crawl timed out"},
			{Kind: model.JobKindCrawl, ID: job.ID, To: model.JobStatusCompleted, URLs: []string{"https://example.com/"}},
		}
		errs := make([]error, len(reqs))
		var wg sync.WaitGroup
		for i, req := range reqs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, errs[i] = repo.Transition(ctx, req)
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, model.ErrInvalidTransition)
			}
		}
		assert.Equal(t, 1, succeeded)
	})
}

func TestJobRepo_Integration_OwnerScoping(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewJobRepo(db, RepoConfig{})

		mine, err := repo.Create(ctx, testutil.SitemapJobRequest("alice", "a.example"))
		require.NoError(t, err)
		theirs, err := repo.Create(ctx, testutil.SitemapJobRequest("bob", "b.example"))
		require.NoError(t, err)

		jobs, err := repo.ListByOwner(ctx, "alice", model.JobKindSitemap, model.ListOptions{})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, mine.ID, jobs[0].ID)

		jobs, err = repo.ListByIDs(ctx, "alice", model.JobKindSitemap, []string{mine.ID, theirs.ID})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, mine.ID, jobs[0].ID)

		_, err = repo.ListByOwner(ctx, "", model.JobKindSitemap, model.ListOptions{})
		assert.Error(t, err)
	})
}

func TestJobRepo_Integration_CreateBatchAtomic(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewJobRepo(db, RepoConfig{})

		missing := "00000000-0000-0000-0000-000000000001"
		bad := testutil.ScreenshotJobRequest(testutil.DefaultOwner, "https://example.com/b")
		bad.Screenshot.SitemapJobID = &missing

		_, err := repo.CreateBatch(ctx, []*model.CreateJobRequest{
			testutil.ScreenshotJobRequest(testutil.DefaultOwner, "https://example.com/a"),
			bad,
		})
		require.Error(t, err)

		stats, err := repo.Stats(ctx, model.JobKindScreenshot)
		require.NoError(t, err)
		assert.Zero(t, stats.Pending, "no job may survive a failed batch")
	})
}

func TestJobRepo_Integration_Reaper(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		now := time.Now()
		repo := NewJobRepo(db, RepoConfig{Now: func() time.Time { return now }})

		for range 3 {
			_, err := repo.Create(ctx, testutil.CrawlJobRequest(testutil.DefaultOwner, "example.com", nil))
			require.NoError(t, err)
		}

		now = now.Add(2 * time.Hour)
		ids, err := repo.FailStaleJobs(ctx, core.JobAgeParams{
			Kind: model.JobKindCrawl, Status: model.JobStatusPending, MaxAge: time.Hour, BatchSize: 2,
		})
		require.NoError(t, err)
		assert.Len(t, ids, 2)

		now = now.Add(48 * time.Hour)
		n, err := repo.DeleteOldJobs(ctx, core.JobAgeParams{
			Kind: model.JobKindCrawl, Status: model.JobStatusFailed, MaxAge: 24 * time.Hour, BatchSize: 10,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		_, err = repo.DeleteOldJobs(ctx, core.JobAgeParams{Kind: model.JobKindCrawl, Status: model.JobStatusPending})
		assert.Error(t, err)
	})
}

func TestJobRepo_Integration_ReaperSparesSitemapWithOpenCrawl(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		now := time.Now()
		repo := NewJobRepo(db, RepoConfig{Now: func() time.Time { return now }})

		sitemap, err := repo.Create(ctx, testutil.SitemapJobRequest(testutil.DefaultOwner, "example.com"))
		require.NoError(t, err)
		_, err = repo.ReserveNext(ctx, model.JobKindSitemap)
		require.NoError(t, err)
		crawl, err := repo.Create(ctx, testutil.CrawlJobRequest(testutil.DefaultOwner, "example.com", &sitemap.ID))
		require.NoError(t, err)

		now = now.Add(3 * time.Hour)
		stale := core.JobAgeParams{
			Kind: model.JobKindSitemap, Status: model.JobStatusProcessing, MaxAge: 2 * time.Hour, BatchSize: 10,
		}
		ids, err := repo.FailStaleJobs(ctx, stale)
		require.NoError(t, err)
		assert.Empty(t, ids)

		_, _, err = repo.Transition(ctx, &model.TransitionRequest{
			Kind: model.JobKindCrawl, ID: crawl.ID, To: model.JobStatusFailed, ErrorMessage: "crawler exited 1",
		})
		require.NoError(t, err)

		ids, err = repo.FailStaleJobs(ctx, stale)
		require.NoError(t, err)
		assert.Equal(t, []string{sitemap.ID}, ids)
	})
}
