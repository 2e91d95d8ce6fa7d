package db

import (
	"database/sql"
)

func init() {
	RegisterMigration(Migration{
		Version:     3,
		Description: "Enforce unique (session_id, sequence) on events",
		Up:          migration003Up,
	})
}

func migration003Up(db *sql.DB) error {
	_, err := db.Exec(`
		DROP INDEX IF EXISTS idx_events_session_sequence;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_events_session_sequence ON events(session_id, sequence);
	`)
	return err
}
