// Package database provides the SQLite store behind minerctl's history.
//
// This package manages:
//   - The connection, in WAL mode with a busy timeout
//   - Versioned schema migrations read from any fs.FS
//   - Pool settings for SQLite's single writer
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        "/var/lib/minerctl/minerctl.db",
//	    WALMode:     true,
//	    BusyTimeout: 5 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive. New columns are NULLABLE or carry a DEFAULT, and
// every .up.sql ships with a .down.sql.
package database
