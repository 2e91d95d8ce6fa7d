package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sessiongraph/sessiongraph/db"
	"github.com/sessiongraph/sessiongraph/event"
)

// SubtreeDirection selects which way GetSubtree walks
type SubtreeDirection int

const (
	// Descendants walks child links away from the root
	Descendants SubtreeDirection = iota
	// Ancestors walks parent links toward the root
	Ancestors
)

// SubtreeOptions configures GetSubtree
type SubtreeOptions struct {
	// MaxDepth bounds the walk; 0 means unbounded
	MaxDepth  int
	Direction SubtreeDirection
}

// GetSubtree returns the events reachable from eventID in the chosen
// direction, including the event itself. Descendant order is breadth-first
// by level then sequence; ancestor order is root-first.
func (s *Store) GetSubtree(eventID string, opts SubtreeOptions) ([]event.Event, error) {
	if opts.Direction == Ancestors {
		events, err := s.GetAncestors(eventID)
		if err != nil {
			return nil, err
		}
		if opts.MaxDepth > 0 && len(events) > opts.MaxDepth+1 {
			events = events[len(events)-opts.MaxDepth-1:]
		}
		return events, nil
	}

	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 100000
	}

	query := `
		WITH RECURSIVE subtree AS (
			SELECT ` + eventColumns + `, 0 AS lvl FROM events WHERE id = ?
			UNION ALL
			SELECT e.id, e.session_id, e.parent_id, e.workspace_id, e.sequence, e.depth, e.type, e.timestamp, e.payload,
				e.tool_call_id, e.tool_name, e.turn, e.input_tokens, e.output_tokens, e.cache_read_tokens, e.cache_creation_tokens,
				subtree.lvl + 1
			FROM events e
			JOIN subtree ON e.parent_id = subtree.id
			WHERE subtree.lvl < ?
		)
		SELECT ` + eventColumns + ` FROM subtree ORDER BY lvl, sequence, timestamp`

	events, err := db.Select(s.conn, query, []db.QueryParam{eventID, maxDepth}, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("get subtree of %s: %w", eventID, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("get subtree of %s: %w", eventID, event.ErrEventNotFound)
	}
	return events, nil
}

// GetBranches lists every divergent path hanging off the session's current
// chain: in-session branches (chain events with more than one child) and
// sessions forked from chain events. Branches are derived from parent links
// on every call; nothing is stored.
func (s *Store) GetBranches(sessionID string) ([]event.Branch, error) {
	chain, err := s.GetEvents(sessionID)
	if err != nil {
		return nil, err
	}

	onChain := make(map[string]bool, len(chain))
	ids := make([]string, len(chain))
	for i, e := range chain {
		onChain[e.ID] = true
		ids[i] = e.ID
	}

	var branches []event.Branch

	// In-session divergence: children of chain events that are not
	// themselves on the chain each start a branch
	children, err := s.childrenOf(ids)
	if err != nil {
		return nil, err
	}
	byParent := make(map[string][]event.Event)
	for _, c := range children {
		byParent[*c.ParentID] = append(byParent[*c.ParentID], c)
	}
	for parentID, kids := range byParent {
		if len(kids) < 2 {
			continue
		}
		for _, kid := range kids {
			// Children written by other sessions are fork branches,
			// reported through the session enumeration below
			if onChain[kid.ID] || kid.SessionID != sessionID {
				continue
			}
			leaf, count, err := s.branchLeaf(kid)
			if err != nil {
				return nil, err
			}
			branches = append(branches, event.Branch{
				ForkEventID: parentID,
				SessionID:   kid.SessionID,
				LeafEventID: leaf,
				EventCount:  count,
			})
		}
	}

	// Cross-session divergence: sessions forked from a chain event
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	params := make([]db.QueryParam, 0, len(ids)+1)
	for _, id := range ids {
		params = append(params, id)
	}
	params = append(params, sessionID)
	forked, err := db.Select(s.conn,
		"SELECT "+sessionColumns+" FROM sessions WHERE fork_from_event_id IN ("+placeholders+") AND id != ? AND archived_at IS NULL",
		params, scanSession)
	if err != nil {
		return nil, fmt.Errorf("get forked sessions of %s: %w", sessionID, err)
	}
	for _, f := range forked {
		ownEvents, err := db.Count(s.conn,
			"SELECT COUNT(*) FROM events WHERE session_id = ?", f.ID)
		if err != nil {
			return nil, fmt.Errorf("count fork events: %w", err)
		}
		branches = append(branches, event.Branch{
			ForkEventID: *f.ForkFromEventID,
			SessionID:   f.ID,
			LeafEventID: f.HeadEventID,
			EventCount:  ownEvents,
		})
	}

	sort.Slice(branches, func(i, j int) bool {
		if branches[i].ForkEventID != branches[j].ForkEventID {
			return branches[i].ForkEventID < branches[j].ForkEventID
		}
		return branches[i].SessionID < branches[j].SessionID
	})
	return branches, nil
}

// childrenOf returns all direct children of the given event IDs
func (s *Store) childrenOf(eventIDs []string) ([]event.Event, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventIDs)), ",")
	params := make([]db.QueryParam, len(eventIDs))
	for i, id := range eventIDs {
		params[i] = id
	}
	return db.Select(s.conn,
		"SELECT "+eventColumns+" FROM events WHERE parent_id IN ("+placeholders+") ORDER BY sequence",
		params, scanEvent)
}

// branchLeaf finds the deepest event of a branch within the branch's own
// session, following head-line children (each event's latest child)
func (s *Store) branchLeaf(start event.Event) (string, int64, error) {
	subtree, err := s.GetSubtree(start.ID, SubtreeOptions{})
	if err != nil {
		return "", 0, err
	}
	leaf := start
	var count int64
	for _, e := range subtree {
		if e.SessionID != start.SessionID {
			continue
		}
		count++
		if e.Depth > leaf.Depth || (e.Depth == leaf.Depth && e.Sequence > leaf.Sequence) {
			leaf = e
		}
	}
	return leaf.ID, count, nil
}

// TreeNode is one node of the visualization tree
type TreeNode struct {
	EventID   string      `json:"eventId"`
	SessionID string      `json:"sessionId"`
	Type      string      `json:"type"`
	Sequence  int64       `json:"sequence"`
	Preview   string      `json:"preview,omitempty"`
	OnChain   bool        `json:"onChain"`
	Children  []*TreeNode `json:"children,omitempty"`
}

// TreeOptions configures GetTreeVisualization
type TreeOptions struct {
	// MaxDepth bounds the tree below the root; 0 means unbounded
	MaxDepth int
	// MessagesOnly keeps only message events, reattaching grandchildren to
	// the nearest kept ancestor
	MessagesOnly bool
}

// GetTreeVisualization builds the session's event tree from its root,
// including all branches and forked-session descendants
func (s *Store) GetTreeVisualization(sessionID string, opts TreeOptions) (*TreeNode, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	events, err := s.GetSubtree(sess.RootEventID, SubtreeOptions{MaxDepth: opts.MaxDepth})
	if err != nil {
		return nil, err
	}

	chain, err := s.GetAncestors(sess.HeadEventID)
	if err != nil {
		return nil, err
	}
	onChain := make(map[string]bool, len(chain))
	for _, e := range chain {
		onChain[e.ID] = true
	}

	nodes := make(map[string]*TreeNode, len(events))
	for _, e := range events {
		nodes[e.ID] = &TreeNode{
			EventID:   e.ID,
			SessionID: e.SessionID,
			Type:      e.Type,
			Sequence:  e.Sequence,
			Preview:   payloadPreview(e),
			OnChain:   onChain[e.ID],
		}
	}

	root := nodes[events[0].ID]
	for _, e := range events[1:] {
		if e.ParentID == nil {
			continue
		}
		if parent, ok := nodes[*e.ParentID]; ok {
			parent.Children = append(parent.Children, nodes[e.ID])
		}
	}

	if opts.MessagesOnly {
		root.Children = filterMessageNodes(root.Children)
	}
	return root, nil
}

// filterMessageNodes drops non-message nodes, splicing their children into
// the parent's child list so the tree stays connected
func filterMessageNodes(nodes []*TreeNode) []*TreeNode {
	var kept []*TreeNode
	for _, n := range nodes {
		n.Children = filterMessageNodes(n.Children)
		if n.Type == event.TypeMessageUser || n.Type == event.TypeMessageAssistant {
			kept = append(kept, n)
		} else {
			kept = append(kept, n.Children...)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Sequence < kept[j].Sequence })
	return kept
}

const previewMaxLen = 80

// payloadPreview extracts a short human-readable summary of an event
func payloadPreview(e event.Event) string {
	var p struct {
		Content  json.RawMessage `json:"content"`
		Summary  *string         `json:"summary"`
		ToolName *string         `json:"toolName"`
		Model    *string         `json:"model"`
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return ""
	}

	var text string
	switch {
	case p.Summary != nil:
		text = *p.Summary
	case len(p.Content) > 0:
		text = contentText(p.Content)
	case p.ToolName != nil:
		text = *p.ToolName
	case p.Model != nil:
		text = *p.Model
	}

	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if len(text) > previewMaxLen {
		// Back off to a rune boundary so the cut never splits a multi-byte
		// character
		cut := previewMaxLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "…"
	}
	return text
}

// contentText flattens message content (either a plain string or a list of
// content blocks) into text
func contentText(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, " ")
}
