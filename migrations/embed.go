// Package migrations embeds SQL schema files into the binary so the
// database layer can apply them without shipping loose files.
package migrations

import (
	"embed"

	"github.com/nerrad567/pulse-link-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
