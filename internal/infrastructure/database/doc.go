// Package database provides SQLite connectivity for lorawatch.
//
// This package manages:
//   - The database connection (WAL mode, busy timeout, single writer)
//   - Additive schema migrations read from an fs.FS
//   - Health checks
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
