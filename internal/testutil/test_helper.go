package testutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"github.com/johndosdos/chatsync/internal/storage"
)

func ProjectRoot() string {
	_, file, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(file), "../../")
	return root
}

// DbInit connects to TEST_DB_URL and resets the schema to the latest
// migration. The test is skipped when TEST_DB_URL is not set.
func DbInit(t testing.TB) *pgxpool.Pool {
	t.Helper()

	if err := godotenv.Load(filepath.Join(ProjectRoot(), ".env")); err != nil {
		t.Logf("failed to load .env file: %+v", err)
	}

	testURL := os.Getenv("TEST_DB_URL")
	if testURL == "" {
		t.Skip("TEST_DB_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dbPool, err := pgxpool.New(ctx, testURL)
	if err != nil {
		t.Fatalf("could not connect to the postgresql database: %v", err)
	}

	DbGooseReset(t, dbPool)
	if err := storage.Migrate(ctx, dbPool); err != nil {
		dbPool.Close()
		t.Fatalf("storage.Migrate() error = %+v", err)
	}

	return dbPool
}

func DbGooseReset(t testing.TB, dbPool *pgxpool.Pool) {
	t.Helper()

	dbForGoose := stdlib.OpenDBFromPool(dbPool)
	defer dbForGoose.Close()

	goose.SetBaseFS(storage.Migrations)
	_ = goose.SetDialect("postgres")
	if err := goose.Reset(dbForGoose, storage.MigrationsDir); err != nil {
		t.Fatalf("goose.Reset() error = %+v", err)
	}
}

// DbCleanup drops the schema and closes the pool.
func DbCleanup(t testing.TB, dbPool *pgxpool.Pool) {
	t.Helper()
	DbGooseReset(t, dbPool)
	dbPool.Close()
}
