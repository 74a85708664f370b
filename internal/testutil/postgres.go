// Package testutil starts throwaway backing stores for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupPostgres starts postgres:15-alpine, applies every up migration and
// returns an open handle. The container is terminated on test cleanup.
func SetupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, ApplyMigrations(db))
	return db
}

func ApplyMigrations(db *sql.DB) error {
	dirPath := migrationsDir()

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "up.sql") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dirPath, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "adapters", "repository", "postgres", "migrations")
}

// SeedSchool inserts a school and returns its ID.
func SeedSchool(t *testing.T, db *sql.DB, districtID, subDistrictID int64, quota int) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`
		INSERT INTO schools (name, district_id, sub_district_id, expected_table_count)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, fmt.Sprintf("school-%d-%d", districtID, time.Now().UnixNano()), districtID, subDistrictID, quota).Scan(&id)
	require.NoError(t, err)
	return id
}

// SeedTable inserts a polling table with the given number and returns its ID.
func SeedTable(t *testing.T, db *sql.DB, schoolID int64, number int) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`INSERT INTO polling_tables (school_id, number) VALUES ($1, $2) RETURNING id`, schoolID, number).Scan(&id)
	require.NoError(t, err)
	return id
}
