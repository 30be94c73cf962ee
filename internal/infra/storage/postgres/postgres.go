// Package postgres implements the storage repositories on PostgreSQL via
// database/sql with the pgx driver and sqlx struct scanning. Schema changes
// live in migrations/ and are applied with goose at startup.
package postgres

import (
	"fmt"

	"github.com/pressly/goose/v3"
)

// Migrate applies all pending goose migrations from dir.
func (db *DB) Migrate(dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db.DB.DB, dir); err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}
	return nil
}
