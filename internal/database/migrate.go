package database

import (
	"database/sql"
	"fmt"
	"log"
)

// getSchemaVersion reads PRAGMA user_version from the database.
func getSchemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// SchemaVersion returns the ledger's applied schema version.
func (db *DB) SchemaVersion() (int, error) {
	return getSchemaVersion(db.conn)
}

// migrate applies every migration newer than the stored user_version and
// returns how many ran.
func migrate(conn *sql.DB) (int, error) {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		log.Printf("Ledger migration %d: %s", m.Version, m.Description)
		if err := applyMigration(conn, m); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// applyMigration runs one migration in a transaction, then stamps its
// version. modernc/sqlite rejects PRAGMA user_version inside a transaction,
// so a crash between the two re-runs the migration; every migration uses
// IF NOT EXISTS DDL for that reason.
func applyMigration(conn *sql.DB, m Migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	if err := m.Up(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("stamping version %d: %w", m.Version, err)
	}
	return nil
}
