// Package database provides SQLite persistence for Coachsync Core.
//
// It wraps database/sql with lifecycle management (Open/Close/HealthCheck),
// WAL-mode configuration tuned for a single-writer workload, and embedded
// SQL migrations applied at startup.
//
// Migrations live in the top-level migrations/ directory, are embedded into
// the binary via go:embed, and follow the naming scheme
// YYYYMMDD_HHMMSS_description.{up,down}.sql. Each migration runs in its own
// transaction.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
