package event

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Event type constants. The set is closed: the store rejects types it does
// not know about so that reconstruction never meets an unclassifiable event.
const (
	TypeSessionStart     = "session.start"
	TypeMessageUser      = "message.user"
	TypeMessageAssistant = "message.assistant"
	TypeMessageDeleted   = "message.deleted"
	TypeToolCall         = "tool.call"
	TypeToolResult       = "tool.result"
	TypeTurnStart        = "stream.turn_start"
	TypeTurnEnd          = "stream.turn_end"
	TypeCompactBoundary  = "compact.boundary"
	TypeCompactSummary   = "compact.summary"
	TypeContextCleared   = "context.cleared"
	TypeModelChange      = "config.model_change"
	TypeNotificationSent = "notification.sent"
)

// knownTypes is the closed set of accepted event types
var knownTypes = map[string]bool{
	TypeSessionStart:     true,
	TypeMessageUser:      true,
	TypeMessageAssistant: true,
	TypeMessageDeleted:   true,
	TypeToolCall:         true,
	TypeToolResult:       true,
	TypeTurnStart:        true,
	TypeTurnEnd:          true,
	TypeCompactBoundary:  true,
	TypeCompactSummary:   true,
	TypeContextCleared:   true,
	TypeModelChange:      true,
	TypeNotificationSent: true,
}

// KnownType reports whether t is a member of the closed event type set
func KnownType(t string) bool {
	return knownTypes[t]
}

// IsMessageType reports whether events of type t contribute to message_count
func IsMessageType(t string) bool {
	return t == TypeMessageUser || t == TypeMessageAssistant
}

// Event is one immutable node in a session's history tree
type Event struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"sessionId"`
	ParentID    *string         `json:"parentId,omitempty"`
	WorkspaceID string          `json:"workspaceId"`
	Sequence    int64           `json:"sequence"`
	Depth       int64           `json:"depth"`
	Type        string          `json:"type"`
	Timestamp   int64           `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`

	// Extracted from the payload at append time for indexed lookup
	ToolCallID          *string `json:"toolCallId,omitempty"`
	ToolName            *string `json:"toolName,omitempty"`
	Turn                *int64  `json:"turn,omitempty"`
	InputTokens         *int64  `json:"inputTokens,omitempty"`
	OutputTokens        *int64  `json:"outputTokens,omitempty"`
	CacheReadTokens     *int64  `json:"cacheReadTokens,omitempty"`
	CacheCreationTokens *int64  `json:"cacheCreationTokens,omitempty"`
}

// Session tracks one conversation's head within the event tree
type Session struct {
	ID          string  `json:"id"`
	WorkspaceID string  `json:"workspaceId"`
	Title       *string `json:"title,omitempty"`
	Model       string  `json:"model"`

	HeadEventID string `json:"headEventId"`
	RootEventID string `json:"rootEventId"`

	ParentSessionID *string `json:"parentSessionId,omitempty"`
	ForkFromEventID *string `json:"forkFromEventId,omitempty"`

	CreatedAt      int64  `json:"createdAt"`
	LastActivityAt int64  `json:"lastActivityAt"`
	ArchivedAt     *int64 `json:"archivedAt,omitempty"`

	EventCount   int64      `json:"eventCount"`
	MessageCount int64      `json:"messageCount"`
	TurnCount    int64      `json:"turnCount"`
	TokenUsage   TokenUsage `json:"tokenUsage"`
}

// Workspace groups sessions by project directory
type Workspace struct {
	ID             string  `json:"id"`
	Path           string  `json:"path"`
	Name           *string `json:"name,omitempty"`
	CreatedAt      int64   `json:"createdAt"`
	LastActivityAt int64   `json:"lastActivityAt"`
}

// TokenUsage aggregates provider token counts
type TokenUsage struct {
	InputTokens         int64 `json:"inputTokens"`
	OutputTokens        int64 `json:"outputTokens"`
	CacheReadTokens     int64 `json:"cacheReadTokens"`
	CacheCreationTokens int64 `json:"cacheCreationTokens"`
}

// Add accumulates another usage into u
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheCreationTokens += other.CacheCreationTokens
}

// Branch is a derived view of one divergent path in a session's tree.
// Branches are never stored; they are computed from parent links at query time.
type Branch struct {
	// ForkEventID is the event at which this branch diverges
	ForkEventID string `json:"forkEventId"`
	// SessionID owns the events along this branch
	SessionID string `json:"sessionId"`
	// LeafEventID is the deepest event on the branch within its session
	LeafEventID string `json:"leafEventId"`
	// EventCount counts the branch's own events below the fork point
	EventCount int64 `json:"eventCount"`
}

// ID prefixes keep identifiers self-describing in logs and CLI output
const (
	eventIDPrefix     = "evt_"
	sessionIDPrefix   = "sess_"
	workspaceIDPrefix = "ws_"
)

func newID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does
		return prefix + uuid.NewString()
	}
	return prefix + id.String()
}

// NewEventID returns a new time-sortable event identifier
func NewEventID() string { return newID(eventIDPrefix) }

// NewSessionID returns a new time-sortable session identifier
func NewSessionID() string { return newID(sessionIDPrefix) }

// NewWorkspaceID returns a new time-sortable workspace identifier
func NewWorkspaceID() string { return newID(workspaceIDPrefix) }
