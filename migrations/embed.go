// Package migrations embeds the SQL schema for the agent's local store.
package migrations

import (
	"embed"

	"github.com/nerrad567/fieldrelay/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
