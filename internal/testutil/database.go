// Package testutil provides shared test helpers for the pantry-must-flow project.
// It offers an isolated in-memory database and a fluent builder for purchase history.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
	now     time.Time
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	Now            time.Time
	CustomSetup    func(context.Context, *storage.SQLiteStorage) error
	SkipMigrations bool
}

// SetupTestDB creates a new migrated in-memory database pinned to now.
// It automatically handles cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t, time.Date(2024, 1, 21, 9, 0, 0, 0, time.UTC))
//	testutil.NewHistory(t, "61400000000").Receipt("2024-01-14", "Milk", "Bread").Build(db)
func SetupTestDB(t *testing.T, now time.Time) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{Now: now})
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	store.SetClock(func() time.Time { return now })

	ctx := context.Background()
	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		now:     now,
		t:       t,
	}
}

// Now returns the instant the database clock is pinned to.
func (db *TestDB) Now() time.Time {
	return db.now
}
