package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/mmk-pageshot/internal/adapters/crawlrunner"
	"github.com/target/mmk-pageshot/internal/adapters/reaper"
	"github.com/target/mmk-pageshot/internal/bootstrap"
	"github.com/target/mmk-pageshot/internal/data"
	"github.com/target/mmk-pageshot/internal/discovery"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"github.com/target/mmk-pageshot/internal/util"
)

const (
	defaultResolveTimeout = 2 * time.Minute
	defaultJobsLimit      = 20
	maxJobsLimit          = 500
	maxErrorColumn        = 60
)

type resolveOptions struct {
	Domain  string
	Timeout time.Duration
	Cache   bool
	JSON    bool
}

type jobsOptions struct {
	Kind   model.JobKind
	Owner  string
	Status *model.JobStatus
	Limit  int
	Offset int
	JSON   bool
}

type statsOptions struct {
	Kinds []model.JobKind
}

type parseCSVOptions struct {
	Path string
	JSON bool
}

func runResolve(cmdCtx *commandContext, args []string) error {
	opts, err := parseResolveFlags(args)
	if err != nil {
		return err
	}

	redisClient, err := connectRedisIfConfigured(cmdCtx.Ctx, cmdCtx.Logger, cmdCtx.Config.Redis, opts.Cache)
	if err != nil {
		return err
	}
	defer closeRedis(cmdCtx.Logger, redisClient)

	resolver := bootstrap.NewResolver(
		cmdCtx.Config.Discovery,
		redisClient,
		cmdCtx.Config.Redis.KeyPrefix+"discovery:",
		nil,
		cmdCtx.Logger,
	)

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	res, err := resolver.Resolve(ctx, opts.Domain)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", opts.Domain, err)
	}
	return printResolveResult(cmdCtx.Stdout, res, opts.JSON)
}

func printResolveResult(w io.Writer, res *discovery.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if err := writef(w, "Domain: %s\nSource: %s\nURLs:   %d\n\n", res.Domain, res.Source, len(res.URLs)); err != nil {
		return err
	}
	for _, u := range res.URLs {
		if err := writeln(w, u); err != nil {
			return err
		}
	}
	return nil
}

func runJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobsFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, time.Minute, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})
		jobs, listErr := repo.ListByOwner(ctx, opts.Owner, opts.Kind, model.ListOptions{
			Status: opts.Status,
			Limit:  opts.Limit,
			Offset: opts.Offset,
		})
		if listErr != nil {
			return fmt.Errorf("list jobs: %w", listErr)
		}
		if opts.JSON {
			enc := json.NewEncoder(cmdCtx.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(jobs)
		}
		return printJobsTable(cmdCtx.Stdout, jobs)
	})
}

func printJobsTable(out io.Writer, jobs []*model.Job) error {
	if len(jobs) == 0 {
		return writeln(out, "No jobs found.")
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writeln(w, "ID\tSTATUS\tTARGET\tCREATED\tDURATION\tERROR"); err != nil {
		return fmt.Errorf("write jobs header: %w", err)
	}
	for _, j := range jobs {
		if err := writef(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID,
			j.Status,
			jobTarget(j),
			j.CreatedAt.UTC().Format(time.RFC3339),
			util.FormatJobDuration(util.JobDuration(j.StartedAt, j.CompletedAt)),
			util.Abbreviate(util.Deref(j.ErrorMessage), maxErrorColumn),
		); err != nil {
			return fmt.Errorf("write job row %s: %w", j.ID, err)
		}
	}
	return w.Flush()
}

func jobTarget(j *model.Job) string {
	if d := j.Domain(); d != "" {
		return d
	}
	if j.Screenshot != nil {
		return j.Screenshot.URL
	}
	return ""
}

func runStats(cmdCtx *commandContext, args []string) error {
	opts, err := parseKindFlags("stats", args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, time.Minute, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})
		rows := make([]kindStats, 0, len(opts.Kinds))
		for _, kind := range opts.Kinds {
			st, statsErr := repo.Stats(ctx, kind)
			if statsErr != nil {
				return fmt.Errorf("%s stats: %w", kind, statsErr)
			}
			rows = append(rows, kindStats{Kind: kind, Stats: *st})
		}
		return printStats(cmdCtx.Stdout, rows)
	})
}

type kindStats struct {
	Kind  model.JobKind
	Stats model.JobStats
}

func printStats(out io.Writer, rows []kindStats) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writeln(w, "KIND\tPENDING\tPROCESSING\tCOMPLETED\tFAILED"); err != nil {
		return fmt.Errorf("write stats header: %w", err)
	}
	for _, r := range rows {
		if err := writef(w, "%s\t%d\t%d\t%d\t%d\n",
			r.Kind, r.Stats.Pending, r.Stats.Processing, r.Stats.Completed, r.Stats.Failed); err != nil {
			return fmt.Errorf("write stats row: %w", err)
		}
	}
	return w.Flush()
}

func runReap(cmdCtx *commandContext, args []string) error {
	opts, err := parseKindFlags("reap", args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, 10*time.Minute, func(ctx context.Context, db *sql.DB) error {
		cfg := cmdCtx.Config.Reaper
		cfg.Sanitize()
		runner, rerr := reaper.NewRunner(reaper.RunnerOptions{
			DB:     db,
			Config: cfg,
			Kinds:  opts.Kinds,
			Logger: cmdCtx.Logger,
		})
		if rerr != nil {
			return rerr
		}
		n, rerr := runner.RunOnce(ctx)
		if rerr != nil {
			return fmt.Errorf("reap: %w", rerr)
		}
		return writef(cmdCtx.Stdout, "Reaped %d jobs.\n", n)
	})
}

func runParseCSV(cmdCtx *commandContext, args []string) error {
	opts, err := parseParseCSVFlags(args)
	if err != nil {
		return err
	}
	return parseCSV(cmdCtx.Stdout, opts)
}

func parseCSV(out io.Writer, opts parseCSVOptions) error {
	path := opts.Path
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if path, err = crawlrunner.FindNewestCSV(path); err != nil {
			return err
		}
	}
	urls, err := crawlrunner.ParseExportFile(path)
	if err != nil {
		return err
	}
	if opts.JSON {
		return json.NewEncoder(out).Encode(map[string]any{"file": path, "urls": urls})
	}
	for _, u := range urls {
		if err := writeln(out, u); err != nil {
			return err
		}
	}
	return nil
}

func parseResolveFlags(args []string) (resolveOptions, error) {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := resolveOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultResolveTimeout, "Maximum duration for the whole resolution")
	fs.BoolVar(&opts.Cache, "cache", false, "Read and populate the Redis discovery cache")
	fs.BoolVar(&opts.JSON, "json", false, "Print the result as JSON")

	if err := fs.Parse(args); err != nil {
		return resolveOptions{}, err
	}
	if fs.NArg() != 1 {
		return resolveOptions{}, errors.New("usage: resolve [flags] <domain>")
	}
	domain, err := discovery.Normalize(fs.Arg(0))
	if err != nil {
		return resolveOptions{}, err
	}
	opts.Domain = domain
	if opts.Timeout <= 0 {
		return resolveOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseJobsFlags(args []string) (jobsOptions, error) {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		opts   jobsOptions
		kind   string
		status string
	)
	fs.StringVar(&kind, "kind", string(model.JobKindSitemap), "Job kind: sitemap, crawl or screenshot")
	fs.StringVar(&opts.Owner, "owner", "", "Owner (user id) whose jobs to list")
	fs.StringVar(&status, "status", "", "Only list jobs in this status")
	fs.IntVar(&opts.Limit, "limit", defaultJobsLimit, "Maximum number of jobs to list")
	fs.IntVar(&opts.Offset, "offset", 0, "Number of jobs to skip")
	fs.BoolVar(&opts.JSON, "json", false, "Print jobs as JSON")

	if err := fs.Parse(args); err != nil {
		return jobsOptions{}, err
	}
	if err := opts.Kind.UnmarshalText([]byte(kind)); err != nil {
		return jobsOptions{}, err
	}
	opts.Owner = strings.TrimSpace(opts.Owner)
	if opts.Owner == "" {
		return jobsOptions{}, errors.New("--owner is required")
	}
	if status != "" {
		var st model.JobStatus
		if err := st.UnmarshalText([]byte(status)); err != nil {
			return jobsOptions{}, err
		}
		opts.Status = &st
	}
	if opts.Limit < 1 || opts.Limit > maxJobsLimit {
		return jobsOptions{}, fmt.Errorf("--limit must be between 1 and %d", maxJobsLimit)
	}
	if opts.Offset < 0 {
		return jobsOptions{}, errors.New("--offset must not be negative")
	}
	return opts, nil
}

func parseKindFlags(name string, args []string) (statsOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var kind string
	fs.StringVar(&kind, "kind", "", "Job kind; every kind when empty")
	if err := fs.Parse(args); err != nil {
		return statsOptions{}, err
	}
	if kind == "" {
		return statsOptions{Kinds: model.AllJobKinds()}, nil
	}
	var k model.JobKind
	if err := k.UnmarshalText([]byte(kind)); err != nil {
		return statsOptions{}, err
	}
	return statsOptions{Kinds: []model.JobKind{k}}, nil
}

func parseParseCSVFlags(args []string) (parseCSVOptions, error) {
	fs := flag.NewFlagSet("parse-csv", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := parseCSVOptions{}
	fs.BoolVar(&opts.JSON, "json", false, "Print the file and URLs as JSON")
	if err := fs.Parse(args); err != nil {
		return parseCSVOptions{}, err
	}
	if fs.NArg() != 1 {
		return parseCSVOptions{}, errors.New("usage: parse-csv [flags] <file-or-directory>")
	}
	opts.Path = fs.Arg(0)
	return opts, nil
}
