// Package database provides the SQLite connection behind the relay's
// session log.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Applying embedded schema migrations in version order
//   - Health checks and pool statistics for the metrics endpoint
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600 after opening
//   - Raw home tokens are never stored; callers write fingerprints
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Files); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql. Migrations
// only ever add; there is no down path.
package database
