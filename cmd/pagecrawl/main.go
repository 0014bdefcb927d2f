// Command pagecrawl is the bundled bulk crawler. It walks one site and writes an
// internal_all.csv export in the folder the crawl runner hands it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// internalAllTab is the only export tab this crawler produces.
const internalAllTab = "Internal:All"

type cliOptions struct {
	CrawlURL   string
	OutputDir  string
	ExportTabs string
	Headless   bool
	ConfigFile string
	MaxURLs    int
	MaxDepth   int
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, os.Args[1:], os.Stderr); err != nil {
		logger.Error("crawl failed", "error", err)
		stop()
		os.Exit(1) //nolint:forbidigo // crawl runner reads the exit status
	}
}

func run(ctx context.Context, logger *slog.Logger, args []string, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	opts, err := resolveOptions(cli)
	if err != nil {
		return err
	}
	logger.Info("starting crawl",
		"url", opts.Start.String(),
		"output", opts.OutputDir,
		"max_urls", opts.Config.MaxURLs,
		"max_depth", opts.Config.MaxDepth,
	)
	_, err = crawl(ctx, logger, opts)
	return err
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, error) {
	fs := flag.NewFlagSet("pagecrawl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts cliOptions
	fs.StringVar(&opts.CrawlURL, "crawl", "", "Start URL of the site to crawl")
	fs.StringVar(&opts.OutputDir, "output-folder", "", "Folder receiving the CSV export")
	fs.StringVar(&opts.ExportTabs, "export-tabs", internalAllTab, "Comma separated export tabs")
	fs.BoolVar(&opts.Headless, "headless", false, "Accepted for compatibility; pages are never rendered")
	fs.StringVar(&opts.ConfigFile, "config", "", "YAML base configuration")
	fs.IntVar(&opts.MaxURLs, "max-urls", 0, "Stop after this many URLs; overrides the config file")
	fs.IntVar(&opts.MaxDepth, "max-depth", 0, "Maximum link depth from the start page; overrides the config file")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if strings.TrimSpace(opts.CrawlURL) == "" {
		return cliOptions{}, errors.New("--crawl is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return cliOptions{}, errors.New("--output-folder is required")
	}
	if opts.MaxURLs < 0 || opts.MaxDepth < 0 {
		return cliOptions{}, errors.New("--max-urls and --max-depth must not be negative")
	}
	if !hasTab(opts.ExportTabs, internalAllTab) {
		return cliOptions{}, fmt.Errorf("unsupported --export-tabs %q: only %s is produced", opts.ExportTabs, internalAllTab)
	}
	return opts, nil
}

func hasTab(tabs, want string) bool {
	for _, t := range strings.Split(tabs, ",") {
		if strings.EqualFold(strings.TrimSpace(t), want) {
			return true
		}
	}
	return false
}

func resolveOptions(cli cliOptions) (crawlOptions, error) {
	start, err := url.Parse(strings.TrimSpace(cli.CrawlURL))
	if err != nil {
		return crawlOptions{}, fmt.Errorf("parse --crawl: %w", err)
	}
	if (start.Scheme != "http" && start.Scheme != "https") || start.Host == "" {
		return crawlOptions{}, fmt.Errorf("--crawl must be an absolute http(s) URL, got %q", cli.CrawlURL)
	}
	if start.Path == "" {
		start.Path = "/"
	}

	cfg, err := loadConfig(cli.ConfigFile)
	if err != nil {
		return crawlOptions{}, err
	}
	if cli.MaxURLs > 0 {
		cfg.MaxURLs = cli.MaxURLs
	}
	if cli.MaxDepth > 0 {
		cfg.MaxDepth = cli.MaxDepth
	}
	return crawlOptions{Start: start, OutputDir: cli.OutputDir, Config: cfg}, nil
}
