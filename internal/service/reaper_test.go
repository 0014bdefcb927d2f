package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/core"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"github.com/target/mmk-pageshot/internal/mocks"
	"github.com/target/mmk-pageshot/internal/observability/metrics"
	"go.uber.org/mock/gomock"
)

// fakeReaperRepo returns each configured count once per (kind, status), then 0.
type fakeReaperRepo struct {
	mu      sync.Mutex
	counts  map[core.JobAgeParams]int64
	calls   map[core.JobAgeParams]int
	failErr error
}

func newFakeReaperRepo() *fakeReaperRepo {
	return &fakeReaperRepo{
		counts: map[core.JobAgeParams]int64{},
		calls:  map[core.JobAgeParams]int{},
	}
}

func reaperKey(kind model.JobKind, status model.JobStatus) core.JobAgeParams {
	return core.JobAgeParams{Kind: kind, Status: status}
}

func (f *fakeReaperRepo) next(params core.JobAgeParams) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := reaperKey(params.Kind, params.Status)
	f.calls[key]++
	if f.calls[key] == 1 {
		return f.counts[key]
	}
	return 0
}

func (f *fakeReaperRepo) callsFor(kind model.JobKind, status model.JobStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[reaperKey(kind, status)]
}

func (f *fakeReaperRepo) FailStaleJobs(_ context.Context, params core.JobAgeParams) ([]string, error) {
	n := f.next(params)
	if f.failErr != nil {
		return nil, f.failErr
	}
	ids := make([]string, 0, n)
	for i := range n {
		ids = append(ids, fmt.Sprintf("%s-%s-%d", params.Kind, params.Status, i))
	}
	return ids, nil
}

func (f *fakeReaperRepo) DeleteOldJobs(_ context.Context, params core.JobAgeParams) (int64, error) {
	return f.next(params), nil
}

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:         5 * time.Minute,
		PendingMaxAge:    1 * time.Hour,
		ProcessingMaxAge: 2 * time.Hour,
		CompletedMaxAge:  7 * 24 * time.Hour,
		FailedMaxAge:     7 * 24 * time.Hour,
		BatchSize:        1000,
	}
}

func newTestReaper(t *testing.T, opts ReaperServiceOptions) *ReaperService {
	t.Helper()
	svc, err := NewReaperService(opts)
	require.NoError(t, err)
	return svc
}

func TestNewReaperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   newFakeReaperRepo(),
			Config: testReaperConfig(),
			Logger: slog.Default(),
		})
		require.NoError(t, err)
		assert.Equal(t, model.AllJobKinds(), svc.kinds)
		assert.Len(t, svc.plan, 4*len(model.AllJobKinds()))
	})

	t.Run("returns error when repo is nil", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{Config: testReaperConfig()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ReaperRepository is required")
	})
}

func TestReaperService_sweep(t *testing.T) {
	t.Run("drains every kind and status", func(t *testing.T) {
		repo := newFakeReaperRepo()
		repo.counts[reaperKey(model.JobKindSitemap, model.JobStatusPending)] = 5
		repo.counts[reaperKey(model.JobKindCrawl, model.JobStatusProcessing)] = 2
		repo.counts[reaperKey(model.JobKindScreenshot, model.JobStatusCompleted)] = 10

		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		svc := newTestReaper(t, ReaperServiceOptions{Repo: repo, Config: testReaperConfig(), Metrics: m})

		affected, err := svc.sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(17), affected)

		for _, kind := range model.AllJobKinds() {
			for _, status := range []model.JobStatus{
				model.JobStatusPending, model.JobStatusProcessing, model.JobStatusCompleted, model.JobStatusFailed,
			} {
				want := 1
				if repo.counts[reaperKey(kind, status)] > 0 {
					want = 2
				}
				assert.Equal(t, want, repo.callsFor(kind, status), "%s/%s", kind, status)
			}
		}

		assert.InDelta(t, 5, promtestutil.ToFloat64(m.ReaperJobs.WithLabelValues("sitemap", reaperActionFailPending)), 0)
		assert.InDelta(t, 2, promtestutil.ToFloat64(m.ReaperJobs.WithLabelValues("crawl", reaperActionFailProcessing)), 0)
		assert.InDelta(t, 10, promtestutil.ToFloat64(m.ReaperJobs.WithLabelValues("screenshot", reaperActionDeleteComplete)), 0)
	})

	t.Run("continues on partial errors", func(t *testing.T) {
		repo := newFakeReaperRepo()
		repo.failErr = errors.New("fail error")
		svc := newTestReaper(t, ReaperServiceOptions{Repo: repo, Config: testReaperConfig()})

		_, err := svc.sweep(context.Background())
		require.Error(t, err)
		assert.ErrorContains(t, err, "fail error")
		for _, kind := range model.AllJobKinds() {
			assert.Equal(t, 1, repo.callsFor(kind, model.JobStatusPending))
			assert.Equal(t, 1, repo.callsFor(kind, model.JobStatusFailed))
		}
	})

	t.Run("passes configured ages and batch size", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockReaperRepository(ctrl)
		cfg := testReaperConfig()
		svc := newTestReaper(t, ReaperServiceOptions{
			Repo:   repo,
			Config: cfg,
			Kinds:  []model.JobKind{model.JobKindCrawl},
		})

		gomock.InOrder(
			repo.EXPECT().FailStaleJobs(gomock.Any(), core.JobAgeParams{
				Kind: model.JobKindCrawl, Status: model.JobStatusPending, MaxAge: cfg.PendingMaxAge, BatchSize: 1000,
			}).Return(nil, nil),
			repo.EXPECT().FailStaleJobs(gomock.Any(), core.JobAgeParams{
				Kind: model.JobKindCrawl, Status: model.JobStatusProcessing, MaxAge: cfg.ProcessingMaxAge, BatchSize: 1000,
			}).Return(nil, nil),
			repo.EXPECT().DeleteOldJobs(gomock.Any(), core.JobAgeParams{
				Kind: model.JobKindCrawl, Status: model.JobStatusCompleted, MaxAge: cfg.CompletedMaxAge, BatchSize: 1000,
			}).Return(int64(0), nil),
			repo.EXPECT().DeleteOldJobs(gomock.Any(), core.JobAgeParams{
				Kind: model.JobKindCrawl, Status: model.JobStatusFailed, MaxAge: cfg.FailedMaxAge, BatchSize: 1000,
			}).Return(int64(0), nil),
		)

		_, err := svc.RunOnce(context.Background())
		require.NoError(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockReaperRepository(ctrl)
		repo.EXPECT().FailStaleJobs(gomock.Any(), gomock.Any()).Return(nil, context.Canceled).AnyTimes()
		repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).Return(int64(0), context.Canceled).AnyTimes()
		svc := newTestReaper(t, ReaperServiceOptions{Repo: repo, Config: testReaperConfig()})

		_, err := svc.sweep(context.Background())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestReaperService_Run(t *testing.T) {
	t.Run("stops on context cancellation", func(t *testing.T) {
		repo := newFakeReaperRepo()
		cfg := testReaperConfig()
		cfg.Interval = 100 * time.Millisecond
		svc := newTestReaper(t, ReaperServiceOptions{Repo: repo, Config: cfg})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- svc.Run(ctx)
		}()

		require.Eventually(t, func() bool {
			return repo.callsFor(model.JobKindSitemap, model.JobStatusPending) >= 1
		}, time.Second, 5*time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Run did not stop after context cancellation")
		}
	})

	t.Run("continues running despite cleanup errors", func(t *testing.T) {
		repo := newFakeReaperRepo()
		repo.failErr = errors.New("test error")
		cfg := testReaperConfig()
		cfg.Interval = 20 * time.Millisecond
		svc := newTestReaper(t, ReaperServiceOptions{Repo: repo, Config: cfg})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() {
			done <- svc.Run(ctx)
		}()

		require.Eventually(t, func() bool {
			return repo.callsFor(model.JobKindCrawl, model.JobStatusPending) >= 2
		}, 2*time.Second, 5*time.Millisecond)
		cancel()
		require.NoError(t, <-done)
	})
}

type recordingSettler struct {
	mu      sync.Mutex
	settled map[model.JobKind][]string
}

func (r *recordingSettler) SettleReaped(_ context.Context, kind model.JobKind, ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled == nil {
		r.settled = map[model.JobKind][]string{}
	}
	r.settled[kind] = append(r.settled[kind], ids...)
}

func TestReaperService_SettlesFailedJobs(t *testing.T) {
	repo := newFakeReaperRepo()
	repo.counts[reaperKey(model.JobKindCrawl, model.JobStatusPending)] = 2
	repo.counts[reaperKey(model.JobKindCrawl, model.JobStatusCompleted)] = 4
	settler := &recordingSettler{}
	svc := newTestReaper(t, ReaperServiceOptions{Repo: repo, Config: testReaperConfig(), Settler: settler})

	affected, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), affected)
	assert.Equal(t, map[model.JobKind][]string{
		model.JobKindCrawl: {"crawl-pending-0", "crawl-pending-1"},
	}, settler.settled)
}
