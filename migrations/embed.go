// Package migrations embeds the minerctl schema so the binary can migrate
// its history database without SQL files on disk.
package migrations

import "embed"

// FS holds the migration files at its root, ready for database.Migrate.
//
//go:embed *.sql
var FS embed.FS
