// Package database provides the SQLite store behind hub settings.
//
// It opens the database with WAL mode and a busy timeout, and applies
// additive migrations read from any fs.FS (the migrations package embeds
// the hub's own).
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
