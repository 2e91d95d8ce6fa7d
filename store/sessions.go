package store

import (
	"database/sql"
	"fmt"

	"github.com/sessiongraph/sessiongraph/db"
	"github.com/sessiongraph/sessiongraph/event"
)

// GetSession returns a session by ID
func (s *Store) GetSession(sessionID string) (*event.Session, error) {
	sess, err := db.SelectOne(s.conn,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?",
		[]db.QueryParam{sessionID}, scanSession)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, event.ErrSessionNotFound)
	}
	return sess, nil
}

// ListSessionsOptions filters ListSessions
type ListSessionsOptions struct {
	// WorkspacePath restricts results to one workspace when non-empty
	WorkspacePath string
	// IncludeArchived keeps archived sessions in the result
	IncludeArchived bool
	// Limit caps the result count; 0 means no cap
	Limit int
}

// ListSessions returns sessions ordered by most recent activity
func (s *Store) ListSessions(opts ListSessionsOptions) ([]event.Session, error) {
	query := "SELECT " + sessionColumns + " FROM sessions WHERE 1=1"
	var params []db.QueryParam

	if opts.WorkspacePath != "" {
		query += " AND workspace_id IN (SELECT id FROM workspaces WHERE path = ?)"
		params = append(params, opts.WorkspacePath)
	}
	if !opts.IncludeArchived {
		query += " AND archived_at IS NULL"
	}
	query += " ORDER BY last_activity_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		params = append(params, opts.Limit)
	}

	return db.Select(s.conn, query, params, scanSession)
}

// GetWorkspace returns a workspace by path
func (s *Store) GetWorkspace(path string) (*event.Workspace, error) {
	ws, err := db.SelectOne(s.conn,
		"SELECT id, path, name, created_at, last_activity_at FROM workspaces WHERE path = ?",
		[]db.QueryParam{path},
		func(row db.RowScanner) (event.Workspace, error) {
			var w event.Workspace
			var name sql.NullString
			err := row.Scan(&w.ID, &w.Path, &name, &w.CreatedAt, &w.LastActivityAt)
			w.Name = db.StringPtr(name)
			return w, err
		})
	if err != nil {
		return nil, fmt.Errorf("get workspace %s: %w", path, err)
	}
	return ws, nil
}

// ArchiveSession soft-deletes a session. Its events stay in the tree; forks
// hanging off them are unaffected.
func (s *Store) ArchiveSession(sessionID string) error {
	res, err := db.Run(s.conn,
		"UPDATE sessions SET archived_at = ? WHERE id = ? AND archived_at IS NULL",
		db.NowMs(), sessionID)
	if err != nil {
		return fmt.Errorf("archive session %s: %w", sessionID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Either missing or already archived; distinguish for the caller
		exists, err := db.Exists(s.conn, "SELECT 1 FROM sessions WHERE id = ?", sessionID)
		if err != nil {
			return fmt.Errorf("archive session %s: %w", sessionID, err)
		}
		if !exists {
			return fmt.Errorf("archive session %s: %w", sessionID, event.ErrSessionNotFound)
		}
	}
	return nil
}

// UnarchiveSession restores an archived session
func (s *Store) UnarchiveSession(sessionID string) error {
	res, err := db.Run(s.conn,
		"UPDATE sessions SET archived_at = NULL WHERE id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("unarchive session %s: %w", sessionID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("unarchive session %s: %w", sessionID, event.ErrSessionNotFound)
	}
	return nil
}

// UpdateTitle renames a session
func (s *Store) UpdateTitle(sessionID, title string) error {
	res, err := db.Run(s.conn,
		"UPDATE sessions SET title = ?, last_activity_at = ? WHERE id = ?",
		title, db.NowMs(), sessionID)
	if err != nil {
		return fmt.Errorf("update title %s: %w", sessionID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("update title %s: %w", sessionID, event.ErrSessionNotFound)
	}
	return nil
}

// UpdateModel changes the model recorded for future turns and appends a
// config.model_change marker so reconstruction can see where it happened.
// The marker and the row update commit together: the chain never carries a
// model change the session row does not reflect.
func (s *Store) UpdateModel(sessionID, model string) error {
	if model == "" {
		return fmt.Errorf("update model %s: model is required", sessionID)
	}
	payload := []byte(fmt.Sprintf(`{"model":%q}`, model))

	return retryOnBusy(func() error {
		return db.Transaction(s.conn, func(tx *sql.Tx) error {
			if _, err := appendTx(tx, AppendOptions{
				SessionID: sessionID,
				Type:      event.TypeModelChange,
				Payload:   payload,
			}); err != nil {
				return err
			}
			if _, err := tx.Exec("UPDATE sessions SET model = ? WHERE id = ?", model, sessionID); err != nil {
				return fmt.Errorf("update model %s: %w", sessionID, err)
			}
			return nil
		})
	})
}

// TokenUsageSummary returns the session's denormalized token totals
func (s *Store) TokenUsageSummary(sessionID string) (*event.TokenUsage, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	usage := sess.TokenUsage
	return &usage, nil
}
