// Package database provides SQLite connectivity for the identity service.
//
// This package manages:
//   - Database connection with WAL mode and foreign keys enabled
//   - Schema migrations read from an fs.FS (see the migrations package)
//   - Transaction helper and timestamp encoding shared by repositories
//
// All timestamps are stored as fixed-width UTC text (TimeLayout) so that
// string comparison in SQL orders them chronologically.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
