package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// OpenPostgres opens a postgres-backed bun DB for the delivery ledger and
// rate-limit state stores. Hosts that manage their own pool should use
// NewRepositoryFactoryFromDB instead.
func OpenPostgres(dsn string) (*bun.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: postgres dsn is required")
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres connection: %w", err)
	}
	return bun.NewDB(sqlDB, pgdialect.New()), nil
}

// NewRepositoryFactoryForPostgres opens a postgres connection and builds the
// stores in one step.
func NewRepositoryFactoryForPostgres(dsn string) (*RepositoryFactory, error) {
	db, err := OpenPostgres(dsn)
	if err != nil {
		return nil, err
	}
	return NewRepositoryFactoryFromDB(db)
}
