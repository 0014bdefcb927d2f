// Package reaper wires the Postgres job store into the reaper service for the
// reaper process mode and the admin CLI.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/core"
	"github.com/target/mmk-pageshot/internal/data"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"github.com/target/mmk-pageshot/internal/observability/metrics"
	"github.com/target/mmk-pageshot/internal/service"
)

// RunnerOptions needs DB unless Repo is set. Kinds narrows the sweep.
// Jobs settles sitemap jobs linked to reaped crawl jobs; when nil and DB is
// set, a JobService over the same store is built.
type RunnerOptions struct {
	DB      *sql.DB
	Repo    core.ReaperRepository
	Jobs    *service.JobService
	Config  config.ReaperConfig
	Kinds   []model.JobKind
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Runner owns a configured ReaperService.
type Runner struct {
	svc *service.ReaperService
}

func NewRunner(opts RunnerOptions) (*Runner, error) {
	repo := opts.Repo
	jobs := opts.Jobs
	if repo == nil {
		if opts.DB == nil {
			return nil, errors.New("database connection is required")
		}
		jobRepo := data.NewJobRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
		repo = jobRepo
		if jobs == nil {
			var err error
			jobs, err = service.NewJobService(service.JobServiceOptions{
				Repo:    jobRepo,
				Logger:  opts.Logger,
				Metrics: opts.Metrics,
			})
			if err != nil {
				return nil, fmt.Errorf("job service: %w", err)
			}
		}
	}
	var settler service.ReapedJobSettler
	if jobs != nil {
		settler = jobs
	}
	svc, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:    repo,
		Settler: settler,
		Config:  opts.Config,
		Kinds:   opts.Kinds,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("reaper service: %w", err)
	}
	return &Runner{svc: svc}, nil
}

// Run sweeps on the configured interval until ctx ends.
func (r *Runner) Run(ctx context.Context) error { return r.svc.Run(ctx) }

// RunOnce sweeps once and reports how many jobs were failed or deleted.
func (r *Runner) RunOnce(ctx context.Context) (int64, error) { return r.svc.RunOnce(ctx) }
