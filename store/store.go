package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sessiongraph/sessiongraph/db"
	"github.com/sessiongraph/sessiongraph/event"
	"github.com/sessiongraph/sessiongraph/log"
)

var logger = log.GetLogger("STORE")

// Store is the append-only event ledger and session tracker backed by SQLite
type Store struct {
	conn *sql.DB
}

// New wraps an already-opened database connection
func New(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// Open opens (or creates) the database at path and returns a store over it
func Open(path string) (*Store, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	return &Store{conn: conn}, nil
}

// Conn exposes the underlying connection for read-only integrations
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// Close closes the underlying connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// CreateSessionOptions configures a new session
type CreateSessionOptions struct {
	WorkspacePath string
	Title         *string
	Model         string
	SystemPrompt  string
	// Metadata is merged into the root event payload
	Metadata map[string]any
}

// CreateSessionResult is a new session together with its root event
type CreateSessionResult struct {
	Session   *event.Session
	RootEvent *event.Event
}

// CreateSession creates the workspace (if needed), the session row, and the
// root session.start event in a single transaction. The session's head and
// root both point at the new event.
func (s *Store) CreateSession(opts CreateSessionOptions) (*CreateSessionResult, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("create session: model is required")
	}

	now := db.NowMs()
	sessionID := event.NewSessionID()
	eventID := event.NewEventID()

	payload := map[string]any{
		"model": opts.Model,
	}
	if opts.SystemPrompt != "" {
		payload["systemPrompt"] = opts.SystemPrompt
	}
	if opts.Title != nil {
		payload["title"] = *opts.Title
	}
	for k, v := range opts.Metadata {
		payload[k] = v
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("create session: marshal payload: %w", err)
	}

	var workspaceID string
	err = retryOnBusy(func() error {
		return db.Transaction(s.conn, func(tx *sql.Tx) error {
			var err error
			workspaceID, err = getOrCreateWorkspace(tx, opts.WorkspacePath, now)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`
				INSERT INTO sessions (
					id, workspace_id, title, model,
					head_event_id, root_event_id,
					created_at, last_activity_at,
					event_count, message_count
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0)`,
				sessionID, workspaceID, db.NullString(opts.Title), opts.Model,
				eventID, eventID, now, now,
			)
			if err != nil {
				return fmt.Errorf("insert session: %w", err)
			}

			// Root event: sequence 1, depth 0, no parent
			_, err = tx.Exec(`
				INSERT INTO events (id, session_id, parent_id, workspace_id, sequence, depth, type, timestamp, payload)
				VALUES (?, ?, NULL, ?, 1, 0, ?, ?, ?)`,
				eventID, sessionID, workspaceID, event.TypeSessionStart, now, string(payloadJSON),
			)
			if err != nil {
				return fmt.Errorf("insert root event: %w", err)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("session_id", sessionID).
		Str("workspace_id", workspaceID).
		Str("model", opts.Model).
		Msg("session created")

	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	evt, err := s.GetEvent(eventID)
	if err != nil {
		return nil, err
	}
	return &CreateSessionResult{Session: sess, RootEvent: evt}, nil
}

// getOrCreateWorkspace returns the workspace ID for path, creating the row
// on first use and bumping last_activity_at otherwise
func getOrCreateWorkspace(tx *sql.Tx, path string, now int64) (string, error) {
	if path == "" {
		path = "."
	}

	var id string
	err := tx.QueryRow("SELECT id FROM workspaces WHERE path = ?", path).Scan(&id)
	if err == sql.ErrNoRows {
		id = event.NewWorkspaceID()
		_, err = tx.Exec(
			"INSERT INTO workspaces (id, path, created_at, last_activity_at) VALUES (?, ?, ?, ?)",
			id, path, now, now,
		)
		if err != nil {
			return "", fmt.Errorf("insert workspace: %w", err)
		}
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup workspace: %w", err)
	}

	_, err = tx.Exec("UPDATE workspaces SET last_activity_at = ? WHERE id = ?", now, id)
	if err != nil {
		return "", fmt.Errorf("touch workspace: %w", err)
	}
	return id, nil
}

// eventColumns is the canonical column list for event scans
const eventColumns = `id, session_id, parent_id, workspace_id, sequence, depth, type, timestamp, payload,
	tool_call_id, tool_name, turn, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens`

func scanEvent(row db.RowScanner) (event.Event, error) {
	return scanEventWith(row)
}

// scanEventWith scans the canonical event columns plus any extra trailing
// columns (used by search to pick up the snippet)
func scanEventWith(row db.RowScanner, extra ...any) (event.Event, error) {
	var e event.Event
	var parentID, toolCallID, toolName sql.NullString
	var turn, inTok, outTok, cacheRead, cacheCreate sql.NullInt64
	var payload string

	dest := []any{
		&e.ID, &e.SessionID, &parentID, &e.WorkspaceID, &e.Sequence, &e.Depth,
		&e.Type, &e.Timestamp, &payload,
		&toolCallID, &toolName, &turn, &inTok, &outTok, &cacheRead, &cacheCreate,
	}
	dest = append(dest, extra...)

	err := row.Scan(dest...)
	if err != nil {
		return e, err
	}

	e.Payload = json.RawMessage(payload)
	e.ParentID = db.StringPtr(parentID)
	e.ToolCallID = db.StringPtr(toolCallID)
	e.ToolName = db.StringPtr(toolName)
	e.Turn = db.IntPtr(turn)
	e.InputTokens = db.IntPtr(inTok)
	e.OutputTokens = db.IntPtr(outTok)
	e.CacheReadTokens = db.IntPtr(cacheRead)
	e.CacheCreationTokens = db.IntPtr(cacheCreate)
	return e, nil
}

// sessionColumns is the canonical column list for session scans
const sessionColumns = `id, workspace_id, title, model, head_event_id, root_event_id,
	parent_session_id, fork_from_event_id, created_at, last_activity_at, archived_at,
	event_count, message_count, turn_count,
	total_input_tokens, total_output_tokens, total_cache_read_tokens, total_cache_creation_tokens`

func scanSession(row db.RowScanner) (event.Session, error) {
	var s event.Session
	var title, parentSession, forkFrom sql.NullString
	var archivedAt sql.NullInt64

	err := row.Scan(
		&s.ID, &s.WorkspaceID, &title, &s.Model, &s.HeadEventID, &s.RootEventID,
		&parentSession, &forkFrom, &s.CreatedAt, &s.LastActivityAt, &archivedAt,
		&s.EventCount, &s.MessageCount, &s.TurnCount,
		&s.TokenUsage.InputTokens, &s.TokenUsage.OutputTokens,
		&s.TokenUsage.CacheReadTokens, &s.TokenUsage.CacheCreationTokens,
	)
	if err != nil {
		return s, err
	}

	s.Title = db.StringPtr(title)
	s.ParentSessionID = db.StringPtr(parentSession)
	s.ForkFromEventID = db.StringPtr(forkFrom)
	s.ArchivedAt = db.IntPtr(archivedAt)
	return s, nil
}
