package store

import (
	"database/sql"
	_ "embed"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/omnierr"
)

//go:embed migrations/001_initial_schema.sql
var migration001 string

//go:embed migrations/002_env_history.sql
var migration002 string

// runMigrations applies all pending schema migrations in order, each
// inside its own transaction. Returns omnierr.ErrStoreCorrupt if a
// migration cannot complete.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return eris.Wrapf(omnierr.ErrStoreCorrupt, "failed to create schema_migrations table: %v", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{version: 1, sql: migration001},
		{version: 2, sql: migration002},
	}

	for _, m := range migrations {
		applied, err := isMigrationApplied(db, m.version)
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreCorrupt, "failed to check migration %d: %v", m.version, err)
		}
		if applied {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreCorrupt, "failed to begin transaction for migration %d: %v", m.version, err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			//nolint:errcheck // rollback in error path
			tx.Rollback()
			return eris.Wrapf(omnierr.ErrStoreCorrupt, "failed to execute migration %d: %v", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			//nolint:errcheck // rollback in error path
			tx.Rollback()
			return eris.Wrapf(omnierr.ErrStoreCorrupt, "failed to record migration %d: %v", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return eris.Wrapf(omnierr.ErrStoreCorrupt, "failed to commit migration %d: %v", m.version, err)
		}
	}

	return nil
}

func isMigrationApplied(db *sql.DB, version int) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
	if err != nil {
		return false, eris.Wrap(err, "failed to query schema_migrations")
	}
	return count > 0, nil
}
