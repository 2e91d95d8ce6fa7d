package store

import (
	"database/sql"
	"fmt"

	"github.com/sessiongraph/sessiongraph/db"
	"github.com/sessiongraph/sessiongraph/event"
)

// ForkOptions configures Fork
type ForkOptions struct {
	// FromEventID picks the fork point; nil forks from the source head
	FromEventID *string
	Title       *string
	// Model defaults to the source session's model when empty
	Model string
}

// ForkResult is the new session plus its provenance
type ForkResult struct {
	Session             *event.Session
	ForkedFromEventID   string
	ForkedFromSessionID string
}

// Fork creates a new session whose history is the source chain up to the
// fork point. No events are copied and none are written: the new session's
// root and head both point at the fork event, and the first event appended
// to it will be the one event whose parent lives in another session's
// history. Later appends to the source cannot move the fork point.
func (s *Store) Fork(sourceSessionID string, opts ForkOptions) (*ForkResult, error) {
	now := db.NowMs()
	sessionID := event.NewSessionID()

	err := retryOnBusy(func() error {
		return db.Transaction(s.conn, func(tx *sql.Tx) error {
			source, err := getSessionTx(tx, sourceSessionID)
			if err != nil {
				return err
			}

			forkEventID := source.HeadEventID
			if opts.FromEventID != nil {
				forkEventID = *opts.FromEventID
				onChain, err := eventOnChain(tx, source.HeadEventID, forkEventID)
				if err != nil {
					return err
				}
				if !onChain {
					return fmt.Errorf("fork %s at %s: %w", sourceSessionID, forkEventID, event.ErrForkSourceNotFound)
				}
			}

			model := opts.Model
			if model == "" {
				model = source.Model
			}

			// Seed counters from the inherited chain so they describe what
			// the session sees, not just what it wrote
			counters, err := chainCounters(tx, forkEventID)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`
				INSERT INTO sessions (
					id, workspace_id, title, model,
					head_event_id, root_event_id,
					parent_session_id, fork_from_event_id,
					created_at, last_activity_at,
					event_count, message_count, turn_count,
					total_input_tokens, total_output_tokens,
					total_cache_read_tokens, total_cache_creation_tokens
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sessionID, source.WorkspaceID, db.NullString(opts.Title), model,
				forkEventID, forkEventID,
				sourceSessionID, forkEventID,
				now, now,
				counters.events, counters.messages, counters.turns,
				counters.usage.InputTokens, counters.usage.OutputTokens,
				counters.usage.CacheReadTokens, counters.usage.CacheCreationTokens,
			)
			if err != nil {
				return fmt.Errorf("insert forked session: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("session_id", sessionID).
		Str("source_session_id", sourceSessionID).
		Str("fork_event_id", sess.RootEventID).
		Msg("session forked")

	return &ForkResult{
		Session:             sess,
		ForkedFromEventID:   sess.RootEventID,
		ForkedFromSessionID: sourceSessionID,
	}, nil
}

// eventOnChain reports whether candidate is on the ancestor chain of head
// (including head itself)
func eventOnChain(tx *sql.Tx, headEventID, candidateID string) (bool, error) {
	var found bool
	err := tx.QueryRow(`
		WITH RECURSIVE chain AS (
			SELECT id, parent_id, 0 AS lvl FROM events WHERE id = ?
			UNION ALL
			SELECT e.id, e.parent_id, chain.lvl + 1 FROM events e
			JOIN chain ON e.id = chain.parent_id
			WHERE chain.lvl < 100000
		)
		SELECT EXISTS(SELECT 1 FROM chain WHERE id = ?)`,
		headEventID, candidateID,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check chain membership: %w", err)
	}
	return found, nil
}

type chainStats struct {
	events   int64
	messages int64
	turns    int64
	usage    event.TokenUsage
}

// chainCounters aggregates the denormalized counters over the ancestor
// chain ending at headEventID
func chainCounters(tx *sql.Tx, headEventID string) (chainStats, error) {
	var c chainStats
	err := tx.QueryRow(`
		WITH RECURSIVE chain AS (
			SELECT id, parent_id, type, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens, 0 AS lvl
			FROM events WHERE id = ?
			UNION ALL
			SELECT e.id, e.parent_id, e.type, e.input_tokens, e.output_tokens, e.cache_read_tokens, e.cache_creation_tokens, chain.lvl + 1
			FROM events e
			JOIN chain ON e.id = chain.parent_id
			WHERE chain.lvl < 100000
		)
		SELECT
			COUNT(*),
			SUM(CASE WHEN type IN (?, ?) THEN 1 ELSE 0 END),
			SUM(CASE WHEN type = ? THEN 1 ELSE 0 END),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cache_read_tokens), 0),
			COALESCE(SUM(cache_creation_tokens), 0)
		FROM chain`,
		headEventID,
		event.TypeMessageUser, event.TypeMessageAssistant, event.TypeTurnEnd,
	).Scan(
		&c.events, &c.messages, &c.turns,
		&c.usage.InputTokens, &c.usage.OutputTokens,
		&c.usage.CacheReadTokens, &c.usage.CacheCreationTokens,
	)
	if err != nil {
		return c, fmt.Errorf("chain counters: %w", err)
	}
	return c, nil
}
