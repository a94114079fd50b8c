// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PGTest opens a test database connection, applies the goose migrations from
// the migrations/ directory, and returns the *sql.DB plus a cleanup function.
//
// Tests should call this at the top:
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// The database comes from POSTGRES_URL, or from a throwaway Postgres
// container when TESTCONTAINERS=1. With neither set, the test is skipped.
// The cleanup function truncates all application tables (not system tables).
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" && os.Getenv("TESTCONTAINERS") == "1" {
		dbURL = containerURL(t)
	}
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set and TESTCONTAINERS!=1, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	ctx := context.Background()

	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: goose dialect: %v", err)
	}
	goose.SetLogger(goose.NopLogger())
	if err := goose.UpContext(ctx, db, findMigrationsDir(t)); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: run migrations: %v", err)
	}

	cleanup := func() {
		truncateAll(ctx, db)
		_ = db.Close()
	}

	return db, cleanup
}

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// containerURL starts one Postgres container per test binary. The
// testcontainers reaper removes it when the process exits.
func containerURL(t *testing.T) string {
	t.Helper()
	containerOnce.Do(func() {
		ctx := context.Background()
		ctr, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("fraudgate_test"),
			postgres.WithUsername("fraudgate"),
			postgres.WithPassword("fraudgate"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerDSN, containerErr = ctr.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Fatalf("pgtest: start postgres container: %v", containerErr)
	}
	return containerDSN
}

// findMigrationsDir walks up from the test working directory to find
// the project-level migrations/ directory.
func findMigrationsDir(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("pgtest: getwd: %v", err)
	}

	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("pgtest: could not find migrations/ directory walking up from cwd")
		}
		dir = parent
	}
}

// truncateAll truncates all user-created tables to provide a clean slate
// between tests. The goose version table is kept so migrations are not
// re-applied on top of existing tables.
func truncateAll(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		  AND tablename NOT LIKE 'pg_%'
		  AND tablename NOT LIKE 'sql_%'
		  AND tablename <> 'goose_db_version'
	`)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}

	if len(tables) > 0 {
		// Table names come from pg_tables system catalog, not user input.
		stmt := "TRUNCATE " + strings.Join(tables, ", ") + " CASCADE" // #nosec G202 -- table names from pg_tables, not user input
		_, _ = db.ExecContext(ctx, stmt)                              // #nosec G104 -- best-effort cleanup in test teardown
	}
}
