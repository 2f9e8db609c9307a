// Package migrations holds the bun schema migrations. Each migration file
// registers itself via init; the db subcommand drives the migrator.
package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is the registry the db subcommand feeds into migrate.NewMigrator.
var Migrations = migrate.NewMigrations()
