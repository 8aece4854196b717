package migrations_test

import (
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-identity/migrations"
)

func TestMigrations_UpDownUp(t *testing.T) {
	ctx := t.Context()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "schema.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	var grants int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM role_permissions rp
		JOIN roles r ON r.id = rp.role_id
		WHERE r.name = 'user'`).Scan(&grants); err != nil {
		t.Fatalf("counting user grants: %v", err)
	}
	if grants != 4 {
		t.Errorf("user role grants = %d, want 4", grants)
	}

	// Roll everything back and re-apply to prove the down files are complete.
	for range 3 {
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			t.Fatalf("MigrateDown() error = %v", err)
		}
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("re-Migrate() error = %v", err)
	}
}
