// Package testhelpers provides a PostgreSQL testcontainer harness for
// database integration tests. Tests using it must be guarded by
// AURIC_INTEGRATION_TESTS so unit runs stay Docker-free.
package testhelpers

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aurictrade/auric/internal/db"
)

// PostgresContainer holds the testcontainer instance and connection details
type PostgresContainer struct {
	Container     *postgres.PostgresContainer
	ConnectionStr string
	DB            *db.DB
	t             *testing.T
}

// SkipUnlessIntegration skips the test unless integration tests are enabled
func SkipUnlessIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("AURIC_INTEGRATION_TESTS") == "" {
		t.Skip("Skipping integration test: AURIC_INTEGRATION_TESTS not set")
	}
}

// SetupTestDatabase starts a PostgreSQL container, applies migrations and
// returns a ready store. The container is terminated via t.Cleanup.
func SetupTestDatabase(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("auric_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	if err := applyMigrations(ctx, connStr); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	store, err := db.New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(store.Close)

	return &PostgresContainer{
		Container:     container,
		ConnectionStr: connStr,
		DB:            store,
		t:             t,
	}
}

func applyMigrations(ctx context.Context, connStr string) error {
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return db.NewMigrator(sqlDB, migrationsDir()).Migrate(ctx)
}

// migrationsDir resolves the repo-level migrations directory relative to
// this source file so tests work from any package directory.
func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
}
