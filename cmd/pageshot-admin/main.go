// Command pageshot-admin holds operator tooling: schema management, local sitemap
// resolution, job inspection and crawl export parsing.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/bootstrap"
	"github.com/target/mmk-pageshot/internal/migrate"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Stdout io.Writer
}

const defaultMigrationTimeout = 5 * time.Minute

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stderr); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err == nil {
		logger, err = bootstrap.NewLogger(os.Stderr, &cfg)
	}
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		Stdout: os.Stdout,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Apply pending database migrations (--status lists them)",
			run:         runMigrations,
		},
		"db-reset": {
			name:        "db-reset",
			description: "Drop the database schema and run migrations",
			run:         runDBReset,
		},
		"resolve": {
			name:        "resolve",
			description: "Resolve a domain's sitemap locally and print the URLs",
			run:         runResolve,
		},
		"jobs": {
			name:        "jobs",
			description: "List a user's jobs of one kind",
			run:         runJobs,
		},
		"stats": {
			name:        "stats",
			description: "Print job counts per status",
			run:         runStats,
		},
		"reap": {
			name:        "reap",
			description: "Run one reaper sweep with the configured ages",
			run:         runReap,
		},
		"parse-csv": {
			name:        "parse-csv",
			description: "Parse a crawler internal_all.csv export (or the newest one in a directory)",
			run:         runParseCSV,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: pageshot-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(w, "  %-12s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
	Status  bool
}

type dbResetOptions struct {
	Timeout     time.Duration
	Yes         bool
	AllowRemote bool
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		if opts.Status {
			list, statusErr := migrate.Status(ctx, db)
			if statusErr != nil {
				return fmt.Errorf("migration status: %w", statusErr)
			}
			return printMigrations(cmdCtx.Stdout, list)
		}
		cmdCtx.Logger.Info("running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func printMigrations(out io.Writer, list []migrate.Migration) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writeln(w, "VERSION\tAPPLIED"); err != nil {
		return err
	}
	for _, m := range list {
		applied := "pending"
		if !m.Pending() {
			applied = m.AppliedAt.UTC().Format(time.RFC3339)
		}
		if err := writef(w, "%s\t%s\n", m.Version, applied); err != nil {
			return err
		}
	}
	return w.Flush()
}

func runDBReset(cmdCtx *commandContext, args []string) error {
	opts, err := parseDBResetFlags(args)
	if err != nil {
		return err
	}

	target := fmt.Sprintf(
		"database %q on %s:%d",
		cmdCtx.Config.Postgres.Name,
		cmdCtx.Config.Postgres.Host,
		cmdCtx.Config.Postgres.Port,
	)

	remote, err := guardRemoteHost(cmdCtx, opts.AllowRemote, "drop and recreate the public schema")
	if err != nil {
		return err
	}
	// Remote hosts always get the interactive prompt, even with --yes.
	if !opts.Yes || remote {
		if confirmErr := confirm(os.Stdin, cmdCtx.Stdout, "reset database schema", target); confirmErr != nil {
			return confirmErr
		}
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("dropping public schema", "database", cmdCtx.Config.Postgres.Name)
		if resetErr := cmdCtx.resetDatabase(ctx, db); resetErr != nil {
			return resetErr
		}

		cmdCtx.Logger.Info("re-running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}

		cmdCtx.Logger.Info("database reset completed successfully")
		return nil
	})
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for migrations to complete")
	fs.BoolVar(&opts.Status, "status", false, "List migrations and whether each is applied, without applying any")

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseDBResetFlags(args []string) (dbResetOptions, error) {
	fs := flag.NewFlagSet("db-reset", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := dbResetOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for reset operations to complete")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Permit running against database hosts that do not look local")

	if err := fs.Parse(args); err != nil {
		return dbResetOptions{}, err
	}
	if opts.Timeout <= 0 {
		return dbResetOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectPostgres(ctx, cmdCtx.Config.Postgres, cmdCtx.Logger)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}

func guardRemoteHost(cmdCtx *commandContext, allow bool, action string) (bool, error) {
	remote := isLikelyRemoteHost(cmdCtx.Config.Postgres.Host)
	if !remote {
		return false, nil
	}
	if !allow {
		return true, fmt.Errorf(
			"refusing to run against potentially remote database host %q; re-run with --allow-remote if this is intentional",
			cmdCtx.Config.Postgres.Host,
		)
	}
	if err := writef(os.Stderr, "\nWARNING: database host %q does not look like a local address.\nThis operation will %s.\n",
		cmdCtx.Config.Postgres.Host, action); err != nil {
		return true, fmt.Errorf("print remote host warning: %w", err)
	}
	return true, nil
}

func (cmdCtx *commandContext) resetDatabase(ctx context.Context, db *sql.DB) error {
	cfg := &cmdCtx.Config.Postgres
	statements := []string{
		"DROP SCHEMA public CASCADE",
		"CREATE SCHEMA public",
		"GRANT ALL ON SCHEMA public TO public",
	}
	if user := strings.TrimSpace(cfg.User); user != "" && !strings.EqualFold(user, "public") {
		statements = append(statements, "GRANT ALL ON SCHEMA public TO "+quoteIdentifier(user))
	}

	for _, stmt := range statements {
		cmdCtx.Logger.DebugContext(ctx, "executing reset statement", "sql", stmt)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return false
	}
	if h == "localhost" || h == "127.0.0.1" || h == "::1" {
		return false
	}
	if strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

// confirm reads a y/yes answer from in.
func confirm(in io.Reader, out io.Writer, action, target string) error {
	if err := writef(out, "About to %s for %s.\nContinue? [y/N]: ", action, target); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}
	resp, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(resp)) {
	case "y", "yes":
		return nil
	default:
		return errors.New("aborted by user")
	}
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}
