package db

import (
	"database/sql"
)

func init() {
	RegisterMigration(Migration{
		Version:     1,
		Description: "Create workspaces, sessions, and events tables",
		Up:          migration001Up,
	})
}

func migration001Up(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL UNIQUE,
			name TEXT,
			created_at INTEGER NOT NULL,
			last_activity_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			title TEXT,
			model TEXT NOT NULL,

			-- tree pointers
			head_event_id TEXT,
			root_event_id TEXT,

			-- fork provenance
			parent_session_id TEXT REFERENCES sessions(id),
			fork_from_event_id TEXT,

			created_at INTEGER NOT NULL,
			last_activity_at INTEGER NOT NULL,
			archived_at INTEGER,

			-- denormalized counters, maintained on append
			event_count INTEGER NOT NULL DEFAULT 0,
			message_count INTEGER NOT NULL DEFAULT 0,
			turn_count INTEGER NOT NULL DEFAULT 0,
			total_input_tokens INTEGER NOT NULL DEFAULT 0,
			total_output_tokens INTEGER NOT NULL DEFAULT 0,
			total_cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			total_cache_creation_tokens INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			parent_id TEXT REFERENCES events(id),
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			sequence INTEGER NOT NULL,
			depth INTEGER NOT NULL DEFAULT 0,
			type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',

			-- extracted for indexed lookup
			tool_call_id TEXT,
			tool_name TEXT,
			turn INTEGER,
			input_tokens INTEGER,
			output_tokens INTEGER,
			cache_read_tokens INTEGER,
			cache_creation_tokens INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_events_session_sequence ON events(session_id, sequence);
		CREATE INDEX IF NOT EXISTS idx_events_parent ON events(parent_id);
		CREATE INDEX IF NOT EXISTS idx_events_tool_call ON events(tool_call_id) WHERE tool_call_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_sessions_workspace ON sessions(workspace_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_fork_from ON sessions(fork_from_event_id) WHERE fork_from_event_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity_at);
	`)
	return err
}
