package githubapp

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
)

// migrationsFS contains the SQL migration tree. Each dialect keeps its own
// subdirectory so recursive migration discovery never mixes dialects.
//
//go:embed data/sql/migrations/postgres/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the full embedded migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}

// MigrationsFor returns the migration filesystem rooted at the directory for
// the requested dialect. "postgres" is the default.
func MigrationsFor(dialect string) (fs.FS, error) {
	switch strings.TrimSpace(strings.ToLower(dialect)) {
	case "", "postgres", "postgresql":
		return fs.Sub(migrationsFS, "data/sql/migrations/postgres")
	case "sqlite", "sqlite3":
		return fs.Sub(migrationsFS, "data/sql/migrations/sqlite")
	default:
		return nil, fmt.Errorf("githubapp: unsupported migration dialect %q", dialect)
	}
}
