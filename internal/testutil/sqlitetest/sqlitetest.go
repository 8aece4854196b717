// Package sqlitetest opens throwaway SQLite databases with the real schema applied.
package sqlitetest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-identity/migrations"
)

// Open returns a migrated database in a temp directory. It is closed when
// the test completes.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	// A temp file rather than :memory: so WAL mode matches production.
	db, err := database.Open(t.Context(), database.Config{
		Path:        filepath.Join(t.TempDir(), "identity-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(t.Context(), migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}
