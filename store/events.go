package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sessiongraph/sessiongraph/db"
	"github.com/sessiongraph/sessiongraph/event"
)

// AppendOptions describes one event to append
type AppendOptions struct {
	SessionID string
	Type      string
	Payload   json.RawMessage

	// ParentID pins the event under an explicit parent instead of the
	// session head. Appending under an ancestor starts a new branch.
	ParentID *string

	// Timestamp defaults to now when zero
	Timestamp int64
}

// Append writes one event and advances the session head, atomically.
// Parent resolution, sequence assignment, the insert, the head move, and
// the counter updates all commit or roll back together.
func (s *Store) Append(opts AppendOptions) (*event.Event, error) {
	var eventID string
	err := retryOnBusy(func() error {
		return db.Transaction(s.conn, func(tx *sql.Tx) error {
			var err error
			eventID, err = appendTx(tx, opts)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Str("session_id", opts.SessionID).
		Str("event_id", eventID).
		Str("type", opts.Type).
		Msg("event appended")

	return s.GetEvent(eventID)
}

// appendTx is Append's transactional core: it validates the type, resolves
// the parent, inserts the event, and advances the head inside the caller's
// transaction. Operations that pair an append with another write (such as
// UpdateModel) run it alongside their own statements so both land or neither.
func appendTx(tx *sql.Tx, opts AppendOptions) (string, error) {
	if !event.KnownType(opts.Type) {
		return "", fmt.Errorf("append %q: %w", opts.Type, event.ErrUnknownType)
	}
	if opts.Type == event.TypeSessionStart {
		return "", fmt.Errorf("append: session.start is written by CreateSession only: %w", event.ErrUnknownType)
	}

	payload := opts.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	timestamp := opts.Timestamp
	if timestamp == 0 {
		timestamp = db.NowMs()
	}

	eventID := event.NewEventID()
	idx := extractIndexed(opts.Type, payload)

	sess, err := getSessionTx(tx, opts.SessionID)
	if err != nil {
		return "", err
	}

	implicit := opts.ParentID == nil
	parentID := sess.HeadEventID
	if !implicit {
		parentID = *opts.ParentID
	}

	parent, err := getEventTx(tx, parentID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("append to %s: parent %s: %w", opts.SessionID, parentID, event.ErrInvalidParent)
	}
	if err != nil {
		return "", fmt.Errorf("append: load parent: %w", err)
	}
	if parent.WorkspaceID != sess.WorkspaceID {
		return "", fmt.Errorf("append to %s: parent %s belongs to another workspace: %w",
			opts.SessionID, parentID, event.ErrInvalidParent)
	}

	seq, err := nextSequence(tx, opts.SessionID, parent.Sequence)
	if err != nil {
		return "", err
	}

	_, err = tx.Exec(`
		INSERT INTO events (
			id, session_id, parent_id, workspace_id, sequence, depth, type, timestamp, payload,
			tool_call_id, tool_name, turn,
			input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		eventID, opts.SessionID, parentID, sess.WorkspaceID, seq, parent.Depth+1,
		opts.Type, timestamp, string(payload),
		db.NullString(idx.toolCallID), db.NullString(idx.toolName), db.NullInt64(idx.turn),
		db.NullInt64(idx.inputTokens), db.NullInt64(idx.outputTokens),
		db.NullInt64(idx.cacheReadTokens), db.NullInt64(idx.cacheCreationTokens),
	)
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}

	if err := advanceHead(tx, sess, opts.Type, idx, eventID, parentID, implicit, timestamp); err != nil {
		return "", err
	}
	return eventID, nil
}

// advanceHead moves the session head to the new event and folds the event
// into the denormalized counters. For implicit-parent appends the move is
// conditional on the head still being the resolved parent; losing that race
// rolls the whole append back with ErrStaleHead.
func advanceHead(tx *sql.Tx, sess *event.Session, eventType string, idx indexedFields,
	eventID, parentID string, implicit bool, now int64) error {

	messageInc := 0
	if event.IsMessageType(eventType) {
		messageInc = 1
	}
	turnInc := 0
	if eventType == event.TypeTurnEnd {
		turnInc = 1
	}

	set := `head_event_id = ?, last_activity_at = ?,
		event_count = event_count + 1,
		message_count = message_count + ?,
		turn_count = turn_count + ?,
		total_input_tokens = total_input_tokens + ?,
		total_output_tokens = total_output_tokens + ?,
		total_cache_read_tokens = total_cache_read_tokens + ?,
		total_cache_creation_tokens = total_cache_creation_tokens + ?`
	args := []any{
		eventID, now, messageInc, turnInc,
		orZero(idx.inputTokens), orZero(idx.outputTokens),
		orZero(idx.cacheReadTokens), orZero(idx.cacheCreationTokens),
	}

	query := "UPDATE sessions SET " + set + " WHERE id = ?"
	args = append(args, sess.ID)
	if implicit {
		query += " AND head_event_id = ?"
		args = append(args, parentID)
	}

	res, err := tx.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("advance head: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance head: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("append to %s: %w", sess.ID, event.ErrStaleHead)
	}
	return nil
}

func orZero(i *int64) int64 {
	if i == nil {
		return 0
	}
	return *i
}

// nextSequence returns max(session's own max sequence, parent sequence) + 1.
// Taking the parent into account keeps sequences strictly increasing along
// the chain even when the chain starts in another session's history.
func nextSequence(tx *sql.Tx, sessionID string, parentSeq int64) (int64, error) {
	var ownMax int64
	err := tx.QueryRow(
		"SELECT COALESCE(MAX(sequence), 0) FROM events WHERE session_id = ?",
		sessionID,
	).Scan(&ownMax)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	if parentSeq > ownMax {
		ownMax = parentSeq
	}
	return ownMax + 1, nil
}

// indexedFields are payload attributes promoted to columns at append time
type indexedFields struct {
	toolCallID          *string
	toolName            *string
	turn                *int64
	inputTokens         *int64
	outputTokens        *int64
	cacheReadTokens     *int64
	cacheCreationTokens *int64
}

func extractIndexed(eventType string, payload json.RawMessage) indexedFields {
	var p struct {
		ToolCallID *string `json:"toolCallId"`
		ToolName   *string `json:"toolName"`
		Name       *string `json:"name"`
		Turn       *int64  `json:"turn"`
		TokenUsage *struct {
			InputTokens         int64 `json:"inputTokens"`
			OutputTokens        int64 `json:"outputTokens"`
			CacheReadTokens     int64 `json:"cacheReadTokens"`
			CacheCreationTokens int64 `json:"cacheCreationTokens"`
		} `json:"tokenUsage"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		// Malformed payloads are stored as-is; they just lose indexing
		return indexedFields{}
	}

	idx := indexedFields{turn: p.Turn}
	if eventType == event.TypeToolCall || eventType == event.TypeToolResult {
		idx.toolCallID = p.ToolCallID
		idx.toolName = p.ToolName
		if idx.toolName == nil {
			idx.toolName = p.Name
		}
	}
	if p.TokenUsage != nil {
		idx.inputTokens = &p.TokenUsage.InputTokens
		idx.outputTokens = &p.TokenUsage.OutputTokens
		idx.cacheReadTokens = &p.TokenUsage.CacheReadTokens
		idx.cacheCreationTokens = &p.TokenUsage.CacheCreationTokens
	}
	return idx
}

func getSessionTx(tx *sql.Tx, sessionID string) (*event.Session, error) {
	row := tx.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE id = ?", sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", sessionID, event.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return &sess, nil
}

func getEventTx(tx *sql.Tx, eventID string) (*event.Event, error) {
	row := tx.QueryRow("SELECT "+eventColumns+" FROM events WHERE id = ?", eventID)
	evt, err := scanEvent(row)
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

// GetEvent returns a single event by ID
func (s *Store) GetEvent(eventID string) (*event.Event, error) {
	evt, err := db.SelectOne(s.conn,
		"SELECT "+eventColumns+" FROM events WHERE id = ?",
		[]db.QueryParam{eventID}, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	if evt == nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, event.ErrEventNotFound)
	}
	return evt, nil
}

// GetEvents returns the session's linear history: the ancestor chain from
// the root to the current head, in ascending sequence order. For forked
// sessions the chain crosses into ancestor sessions transparently. Sibling
// branches are never included.
func (s *Store) GetEvents(sessionID string) ([]event.Event, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.GetAncestors(sess.HeadEventID)
}

// GetEventsSince returns the portion of the session's chain with sequence
// greater than afterSequence
func (s *Store) GetEventsSince(sessionID string, afterSequence int64) ([]event.Event, error) {
	events, err := s.GetEvents(sessionID)
	if err != nil {
		return nil, err
	}
	for i, e := range events {
		if e.Sequence > afterSequence {
			return events[i:], nil
		}
	}
	return nil, nil
}

// ancestorChainQuery walks parent links from an event up to its root.
// lvl bounds runaway recursion on a corrupted tree.
const ancestorChainQuery = `
	WITH RECURSIVE chain AS (
		SELECT ` + eventColumns + `, 0 AS lvl FROM events WHERE id = ?
		UNION ALL
		SELECT e.id, e.session_id, e.parent_id, e.workspace_id, e.sequence, e.depth, e.type, e.timestamp, e.payload,
			e.tool_call_id, e.tool_name, e.turn, e.input_tokens, e.output_tokens, e.cache_read_tokens, e.cache_creation_tokens,
			chain.lvl + 1
		FROM events e
		JOIN chain ON e.id = chain.parent_id
		WHERE chain.lvl < 100000
	)
	SELECT ` + eventColumns + ` FROM chain ORDER BY lvl DESC`

// GetAncestors returns the chain from the root down to (and including) the
// given event, in root-first order
func (s *Store) GetAncestors(eventID string) ([]event.Event, error) {
	events, err := db.Select(s.conn, ancestorChainQuery, []db.QueryParam{eventID}, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("get ancestors of %s: %w", eventID, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("get ancestors of %s: %w", eventID, event.ErrEventNotFound)
	}
	return events, nil
}

// GetChildren returns the direct children of an event, ordered by sequence
func (s *Store) GetChildren(eventID string) ([]event.Event, error) {
	return db.Select(s.conn,
		"SELECT "+eventColumns+" FROM events WHERE parent_id = ? ORDER BY sequence, timestamp",
		[]db.QueryParam{eventID}, scanEvent)
}

// DeleteMessage appends a tombstone event marking the target as deleted.
// The target itself is never mutated; reconstruction skips tombstoned
// events while leaving the chain intact for audit.
func (s *Store) DeleteMessage(sessionID, targetEventID, reason string) (*event.Event, error) {
	target, err := s.GetEvent(targetEventID)
	if err != nil {
		return nil, err
	}

	switch target.Type {
	case event.TypeMessageUser, event.TypeMessageAssistant, event.TypeToolResult:
	default:
		return nil, fmt.Errorf("delete %s (%s): %w", targetEventID, target.Type, event.ErrNotDeletable)
	}

	payload := map[string]any{"targetEventId": targetEventID}
	if reason != "" {
		payload["reason"] = reason
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("delete message: marshal payload: %w", err)
	}

	return s.Append(AppendOptions{
		SessionID: sessionID,
		Type:      event.TypeMessageDeleted,
		Payload:   payloadJSON,
	})
}
