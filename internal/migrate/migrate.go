// Package migrate applies the embedded SQL schema for the job tables.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/mmk-pageshot/internal/data/pgxutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// lockKey is the advisory lock that serializes instances migrating at startup.
const lockKey int64 = 4242_0001

const createLedger = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migration is one embedded schema file and when it was applied.
type Migration struct {
	Version   string
	AppliedAt *time.Time
}

// Pending reports whether the migration has not been applied.
func (m Migration) Pending() bool { return m.AppliedAt == nil }

// versions lists the embedded migration versions in apply order.
func versions() ([]string, error) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, strings.TrimSuffix(path.Base(n), ".sql"))
	}
	slices.Sort(out)
	return out, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func applied(ctx context.Context, q querier) (map[string]time.Time, error) {
	rows, err := q.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	out := map[string]time.Time{}
	var (
		v  string
		at time.Time
	)
	_, err = pgx.ForEachRow(rows, []any{&v, &at}, func() error {
		out[v] = at
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan schema_migrations: %w", err)
	}
	return out, nil
}

// Run applies every embedded migration not yet recorded in schema_migrations,
// each in its own transaction. Concurrent callers wait on an advisory lock.
func Run(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "migrations")

	all, err := versions()
	if err != nil {
		return err
	}
	return pgxutil.Conn(ctx, db, func(c *pgx.Conn) error {
		if _, err := c.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer func() {
			if _, err := c.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockKey); err != nil {
				logger.WarnContext(ctx, "release migration lock", "error", err)
			}
		}()

		if _, err := c.Exec(ctx, createLedger); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}
		done, err := applied(ctx, c)
		if err != nil {
			return err
		}
		for _, v := range all {
			if _, ok := done[v]; ok {
				continue
			}
			if err := apply(ctx, c, v); err != nil {
				return err
			}
			logger.InfoContext(ctx, "applied migration", "version", v)
		}
		return nil
	})
}

func apply(ctx context.Context, c *pgx.Conn, version string) error {
	body, err := migrationsFS.ReadFile("migrations/" + version + ".sql")
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}
	return pgx.BeginFunc(ctx, c, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("exec migration %s: %w", version, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		return nil
	})
}

// Status lists every embedded migration with its apply time. A database that
// was never migrated reports all of them pending.
func Status(ctx context.Context, db *sql.DB) ([]Migration, error) {
	all, err := versions()
	if err != nil {
		return nil, err
	}
	var done map[string]time.Time
	err = pgxutil.Conn(ctx, db, func(c *pgx.Conn) error {
		var exists bool
		if err := c.QueryRow(ctx, `SELECT to_regclass('schema_migrations') IS NOT NULL`).Scan(&exists); err != nil {
			return fmt.Errorf("check schema_migrations: %w", err)
		}
		if !exists {
			return nil
		}
		done, err = applied(ctx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return merge(all, done), nil
}

func merge(all []string, done map[string]time.Time) []Migration {
	out := make([]Migration, 0, len(all))
	for _, v := range all {
		m := Migration{Version: v}
		if at, ok := done[v]; ok {
			m.AppliedAt = &at
		}
		out = append(out, m)
	}
	return out
}
