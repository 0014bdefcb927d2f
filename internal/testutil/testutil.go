// Package testutil provides Postgres and Redis helpers for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	// Import pgx driver for database/sql compatibility in tests.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/target/mmk-pageshot/internal/migrate"
)

// TestingTB is an interface that covers both *testing.T and *testing.B.
type TestingTB interface {
	Helper()
	Skip(args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
}

// TestDBConfig holds configuration for test database.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig returns the test database configuration.
// Defaults to port 55432 (local test DB from the docker-compose test profile).
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "pageshot"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "pageshot"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "pageshot"),
	}
}

// DSN renders the config as a postgres URL.
func (c TestDBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		c.User, c.Password, net.JoinHostPort(c.Host, c.Port), c.DBName,
		getEnvOrDefault("DB_SSL_MODE", "disable"))
}

// SkipIfNoTestDB skips the test if test database is not available.
// TEST_REQUIRE_DB turns the skip into a failure.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()

	db, err := sql.Open("pgx", DefaultTestDBConfig().DSN())
	if err != nil {
		skipOrFail(t, requireDB(), "Test database not available:", err)
		return
	}
	defer closeAndLog(t, "test db", db)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		skipOrFail(t, requireDB(), "Test database not available:", pingErr)
	}
}

// SetupTestDB opens the test database, applies migrations and empties the job tables.
func SetupTestDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	db, err := sql.Open("pgx", DefaultTestDBConfig().DSN())
	if err != nil {
		t.Fatal("Failed to open database:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatal("Failed to connect to test database. Make sure PostgreSQL is running (docker-compose up -d):", err)
	}
	if err := migrate.Run(ctx, db, slog.Default()); err != nil {
		t.Fatal("Failed to run migrations:", err)
	}

	CleanupTestDB(t, db)
	return db
}

// CleanupTestDB removes all rows from the job tables, children first.
func CleanupTestDB(t TestingTB, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, table := range []string{"screenshot_jobs", "crawl_jobs", "sitemap_jobs"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("Failed to clean up table %s: %v", table, err)
		}
	}
}

// WithTestDB is a helper that sets up and tears down a test database.
func WithTestDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	db := SetupTestDB(t)
	defer func() {
		CleanupTestDB(t, db)
		closeAndLog(t, "test db", db)
	}()
	fn(db)
}

// SetupTestRedis returns a client on an isolated, flushed Redis DB. It skips when Redis is down.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr := getEnvOrDefault("TEST_REDIS_ADDR", "localhost:56379")
	dbIndex := 1
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			dbIndex = i
		}
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: dbIndex})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		closeAndLog(t, "redis client", client)
		skipOrFail(t, requireRedis(), "Redis not available for testing:", err)
		return nil
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush redis DB %d: %v", dbIndex, err)
	}
	return client
}

// TestTime returns a fixed time for testing.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func skipOrFail(t TestingTB, required bool, args ...any) {
	if required {
		t.Fatal(args...)
	}
	t.Skip(args...)
}

func closeAndLog(t TestingTB, name string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		t.Logf("warning: failed to close %s: %v", name, err)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envBool parses common truthy values from env vars.
func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }
