// Package crawlrunner runs the external bulk crawler for crawl jobs and turns its
// CSV export into the job's discovered URL list.
package crawlrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/adapters/jobrunner"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"github.com/target/mmk-pageshot/internal/observability/metrics"
	"github.com/target/mmk-pageshot/internal/supervise"
)

// ExportTabs selects the crawler export holding every internal URL.
const ExportTabs = "Internal:All"

// ErrCrawlTimeout is returned when the crawler outlives its hard timeout.
var ErrCrawlTimeout = errors.New("crawl timed out")

// ProcessError reports a crawler that exited non-zero.
type ProcessError struct {
	ExitCode int
	Signal   string
	Stderr   string
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("crawl process exited with code %d", e.ExitCode)
	if e.Signal != "" {
		msg = "crawl process killed by " + e.Signal
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Args are the per-run crawler arguments.
type Args struct {
	Domain     string
	OutputDir  string
	ConfigFile string
	MaxURLs    int
	MaxDepth   int
}

// BuildArgs renders the crawler command line. Zero hints are omitted.
func BuildArgs(a Args) []string {
	args := []string{
		"--crawl", "https://" + a.Domain,
		"--output-folder", a.OutputDir,
		"--export-tabs", ExportTabs,
		"--headless",
	}
	if a.ConfigFile != "" {
		args = append(args, "--config", a.ConfigFile)
	}
	if a.MaxURLs > 0 {
		args = append(args, "--max-urls", strconv.Itoa(a.MaxURLs))
	}
	if a.MaxDepth > 0 {
		args = append(args, "--max-depth", strconv.Itoa(a.MaxDepth))
	}
	return args
}

// RunFunc executes a supervised command.
type RunFunc func(ctx context.Context, c supervise.Command) (supervise.Result, error)

// Options configures a Crawler.
type Options struct {
	Config  config.CrawlConfig
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Run defaults to supervise.Run.
	Run RunFunc
}

// Crawler handles crawl jobs.
type Crawler struct {
	cfg     config.CrawlConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	run     RunFunc
}

// New validates opts and returns a Crawler.
func New(opts Options) (*Crawler, error) {
	if opts.Config.Command == "" {
		return nil, errors.New("crawl command is required")
	}
	if opts.Config.OutputRoot == "" {
		return nil, errors.New("crawl output root is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	run := opts.Run
	if run == nil {
		run = supervise.Run
	}
	return &Crawler{
		cfg:     opts.Config,
		logger:  logger.With("component", "crawl_runner"),
		metrics: opts.Metrics,
		run:     run,
	}, nil
}

// OutputDir is the per-job export folder.
func (c *Crawler) OutputDir(jobID string) string {
	return filepath.Join(c.cfg.OutputRoot, jobID)
}

// Handle is a jobrunner.HandlerFunc for crawl jobs.
func (c *Crawler) Handle(ctx context.Context, job *model.Job) (*jobrunner.Outcome, error) {
	if job.Crawl == nil {
		return nil, fmt.Errorf("crawl job %s has no crawl payload", job.ID)
	}
	log := c.logger.With("job_id", job.ID, "kind", job.Kind, "domain", job.Crawl.Domain)

	dir := c.OutputDir(job.ID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear output folder: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output folder: %w", err)
	}
	if !c.cfg.KeepOutput {
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				log.WarnContext(ctx, "failed to remove crawl output", "dir", dir, "error", err)
			}
		}()
	}

	args := BuildArgs(Args{
		Domain:     job.Crawl.Domain,
		OutputDir:  dir,
		ConfigFile: c.baseConfig(),
		MaxURLs:    job.Crawl.MaxURLs,
		MaxDepth:   job.Crawl.CrawlDepth,
	})
	log.InfoContext(ctx, "starting crawl", "command", c.cfg.Command, "args", args)

	res, err := c.run(ctx, supervise.Command{
		Path:        c.cfg.Command,
		Args:        args,
		Dir:         dir,
		Timeout:     c.timeout(),
		KillGrace:   c.cfg.KillGrace,
		StderrLimit: supervise.DefaultStderrLimit,
	})
	if err != nil {
		return nil, c.classify(ctx, log, res, err)
	}

	path, err := FindNewestCSV(dir)
	if err != nil {
		c.metrics.ObserveCrawl(metrics.ResultError, res.Duration, 0)
		return nil, err
	}
	urls, err := ParseExportFile(path)
	if err != nil {
		c.metrics.ObserveCrawl(metrics.ResultError, res.Duration, 0)
		return nil, err
	}

	c.metrics.ObserveCrawl(metrics.ResultSuccess, res.Duration, len(urls))
	log.InfoContext(ctx, "crawl finished", "export", filepath.Base(path), "urls", len(urls), "elapsed", res.Duration)
	return &jobrunner.Outcome{URLs: urls}, nil
}

// baseConfig returns the configured crawler config file when it exists.
func (c *Crawler) baseConfig() string {
	if c.cfg.BaseConfig == "" {
		return ""
	}
	if _, err := os.Stat(c.cfg.BaseConfig); err != nil {
		c.logger.Debug("crawler base config not usable", "path", c.cfg.BaseConfig, "error", err)
		return ""
	}
	return c.cfg.BaseConfig
}

func (c *Crawler) classify(ctx context.Context, log *slog.Logger, res supervise.Result, err error) error {
	var exitErr *supervise.ExitError
	switch {
	case errors.Is(err, supervise.ErrTimeout):
		c.metrics.ObserveCrawl(metrics.ResultTimeout, res.Duration, 0)
		log.WarnContext(ctx, "crawl timed out", "timeout", c.timeout(), "signal", res.Signal)
		return fmt.Errorf("%w after %s", ErrCrawlTimeout, c.timeout())
	case errors.As(err, &exitErr):
		c.metrics.ObserveCrawl(metrics.ResultError, res.Duration, 0)
		return &ProcessError{
			ExitCode: exitErr.Result.ExitCode,
			Signal:   exitErr.Result.Signal,
			Stderr:   exitErr.Result.Stderr,
		}
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		c.metrics.ObserveCrawl(metrics.ResultError, res.Duration, 0)
		return fmt.Errorf("run crawler: %w", err)
	}
}

func (c *Crawler) timeout() time.Duration {
	if c.cfg.Timeout <= 0 {
		return 15 * time.Minute
	}
	return c.cfg.Timeout
}
