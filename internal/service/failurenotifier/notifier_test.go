package failurenotifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"github.com/target/mmk-pageshot/internal/observability/notify"
)

type recorder struct {
	mu  sync.Mutex
	got []notify.Failure
	err error
}

func (r *recorder) Notify(_ context.Context, f notify.Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, f)
	return r.err
}

func (r *recorder) failures() []notify.Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Failure(nil), r.got...)
}

func failedCrawlEvent() model.JobEvent {
	msg := "crawler exited with status 2"
	sitemapID := "sm-1"
	return model.JobEvent{
		Kind:   model.JobKindCrawl,
		JobID:  "crawl-1",
		Owner:  "alice",
		From:   model.JobStatusProcessing,
		Status: model.JobStatusFailed,
		At:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Job: &model.Job{
			ID:           "crawl-1",
			Kind:         model.JobKindCrawl,
			Owner:        "alice",
			Status:       model.JobStatusFailed,
			ErrorMessage: &msg,
			Crawl:        &model.CrawlPayload{Domain: "example.com", SitemapJobID: &sitemapID},
		},
	}
}

func TestNotifyFansOutToEverySink(t *testing.T) {
	ok, failing := &recorder{}, &recorder{err: errors.New("boom")}
	svc := NewService(Options{Sinks: []SinkRegistration{
		{Name: "ok", Sink: ok},
		{Name: "failing", Sink: failing},
		{Name: "nil"},
	}})
	require.True(t, svc.Enabled())

	svc.Notify(context.Background(), notify.Failure{JobID: "123", Kind: "crawl"})

	require.Len(t, ok.failures(), 1)
	require.Len(t, failing.failures(), 1)
	assert.Equal(t, notify.SeverityCritical, ok.failures()[0].Severity)
}

func TestServiceWithoutSinks(t *testing.T) {
	svc := NewService(Options{})
	assert.False(t, svc.Enabled())
	svc.HandleJobEvent(context.Background(), failedCrawlEvent())
	svc.Wait()
}

func TestFailureFromEvent(t *testing.T) {
	f := FailureFromEvent(failedCrawlEvent())
	assert.Equal(t, "crawl-1", f.JobID)
	assert.Equal(t, "crawl", f.Kind)
	assert.Equal(t, "alice", f.Owner)
	assert.Equal(t, "example.com", f.Target)
	assert.Equal(t, "crawler exited with status 2", f.Message)
	assert.Equal(t, "other", f.Class)
	assert.Equal(t, map[string]string{"from_status": "processing", "sitemap_job_id": "sm-1"}, f.Labels)

	ev := failedCrawlEvent()
	ev.Job = nil
	bare := FailureFromEvent(ev)
	assert.Empty(t, bare.Target)
	assert.Empty(t, bare.Class)
}

func TestFailureFromScreenshotEvent(t *testing.T) {
	msg := "navigation timeout of 30000 ms exceeded"
	ev := model.JobEvent{
		Kind:   model.JobKindScreenshot,
		JobID:  "shot-1",
		Status: model.JobStatusFailed,
		Job: &model.Job{
			Kind:         model.JobKindScreenshot,
			ErrorMessage: &msg,
			Screenshot:   &model.ScreenshotPayload{URL: "https://example.com/about"},
		},
	}
	f := FailureFromEvent(ev)
	assert.Equal(t, "https://example.com/about", f.Target)
	assert.Equal(t, "timeout", f.Class)
	assert.NotContains(t, f.Labels, "sitemap_job_id")
}

func TestHandleJobEventOnlyFailed(t *testing.T) {
	rec := &recorder{}
	svc := NewService(Options{Sinks: []SinkRegistration{{Name: "capture", Sink: rec}}})

	completed := failedCrawlEvent()
	completed.Status = model.JobStatusCompleted
	svc.HandleJobEvent(context.Background(), completed)
	svc.HandleJobEvent(context.Background(), failedCrawlEvent())
	svc.Wait()

	got := rec.failures()
	require.Len(t, got, 1)
	assert.Equal(t, "crawl-1", got[0].JobID)
}

func TestHandleJobEventKindFilter(t *testing.T) {
	rec := &recorder{}
	svc := NewService(Options{
		Kinds: []model.JobKind{model.JobKindScreenshot},
		Sinks: []SinkRegistration{{Sink: rec}},
	})

	svc.HandleJobEvent(context.Background(), failedCrawlEvent())
	svc.Wait()
	assert.Empty(t, rec.failures())
}
