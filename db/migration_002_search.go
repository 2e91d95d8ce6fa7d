package db

import (
	"database/sql"
)

func init() {
	RegisterMigration(Migration{
		Version:     2,
		Description: "Create FTS5 index over message event content",
		Up:          migration002Up,
	})
}

func migration002Up(db *sql.DB) error {
	// Standalone FTS table rather than an external-content one: events are
	// immutable, so there is no UPDATE path to keep in sync.
	_, err := db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
			event_id UNINDEXED,
			session_id UNINDEXED,
			content
		);

		CREATE TRIGGER IF NOT EXISTS events_fts_insert AFTER INSERT ON events
		WHEN new.type IN ('message.user', 'message.assistant', 'compact.summary')
		BEGIN
			-- Block-array content indexes only its text blocks' text, so the
			-- JSON envelope ('type', 'text', tool inputs) never matches a query
			INSERT INTO events_fts (event_id, session_id, content)
			VALUES (
				new.id,
				new.session_id,
				COALESCE(
					CASE json_type(new.payload, '$.content')
						WHEN 'text' THEN json_extract(new.payload, '$.content')
						WHEN 'array' THEN (
							SELECT group_concat(json_extract(b.value, '$.text'), ' ')
							FROM json_each(new.payload, '$.content') AS b
							WHERE json_extract(b.value, '$.type') = 'text'
						)
					END,
					json_extract(new.payload, '$.summary'),
					''
				)
			);
		END;

		CREATE TRIGGER IF NOT EXISTS events_fts_delete AFTER DELETE ON events
		BEGIN
			DELETE FROM events_fts WHERE event_id = old.id;
		END;
	`)
	return err
}
