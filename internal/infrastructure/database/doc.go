// Package database opens the SQLite file behind the device event journal
// and applies its schema migrations.
//
// Migrations come from any fs.FS whose root holds
// YYYYMMDD_HHMMSS_name.up.sql files and optional .down.sql counterparts:
//
//	db, err := database.Open(database.Config{Path: cfg.Journal.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Files); err != nil {
//	    return err
//	}
//
// The database file is created with 0600 permissions.
package database
