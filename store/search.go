package store

import (
	"fmt"
	"strings"

	"github.com/sessiongraph/sessiongraph/db"
	"github.com/sessiongraph/sessiongraph/event"
)

// SearchOptions filters Search
type SearchOptions struct {
	// SessionID restricts matches to events written by one session
	SessionID string
	// Limit caps results; defaults to 50
	Limit int
}

// SearchResult is one full-text match
type SearchResult struct {
	Event   event.Event `json:"event"`
	Snippet string      `json:"snippet"`
}

// Search runs a full-text query over message content. Only message.user,
// message.assistant, and compact.summary events are indexed.
func (s *Store) Search(query string, opts SearchOptions) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	stmt := `
		SELECT ` + prefixedEventColumns("e") + `,
			snippet(events_fts, 2, '[', ']', '…', 16)
		FROM events_fts f
		JOIN events e ON e.id = f.event_id
		WHERE events_fts MATCH ?`
	params := []db.QueryParam{query}
	if opts.SessionID != "" {
		stmt += " AND f.session_id = ?"
		params = append(params, opts.SessionID)
	}
	stmt += " ORDER BY rank LIMIT ?"
	params = append(params, limit)

	results, err := db.Select(s.conn, stmt, params, scanSearchResult)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return results, nil
}

func scanSearchResult(row db.RowScanner) (SearchResult, error) {
	var r SearchResult
	evt, err := scanEventWith(row, &r.Snippet)
	if err != nil {
		return r, err
	}
	r.Event = evt
	return r, nil
}

// prefixedEventColumns qualifies the canonical event column list with a
// table alias
func prefixedEventColumns(alias string) string {
	cols := strings.Split(eventColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
