// Package migrations embeds the journal's SQL migration files into the
// binary so no SQL files need to ship alongside it.
package migrations

import "embed"

// Files holds the *.up.sql and *.down.sql migrations at its root, ready to
// pass to database.DB.Migrate.
//
//go:embed *.sql
var Files embed.FS
