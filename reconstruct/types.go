package reconstruct

import (
	"encoding/json"

	"github.com/sessiongraph/sessiongraph/event"
)

// Role identifies which side of the conversation a message belongs to.
// RoleToolResult is user-side: providers expect tool results to arrive in
// the user position.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "toolResult"
)

// Block is one content block. The set of populated fields depends on Type:
// "text" uses Text; "tool_use" uses ID, Name, Input; "tool_result" uses
// ToolUseID, Content, IsError.
type Block struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string          `json:"toolUseId,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"isError,omitempty"`
}

const (
	blockText       = "text"
	blockToolUse    = "tool_use"
	blockToolResult = "tool_result"
)

// TextBlock builds a text content block
func TextBlock(text string) Block {
	return Block{Type: blockText, Text: text}
}

// Message is one provider-ready conversation message. EventIDs trace it
// back to the events it was built from; synthetic messages carry none.
type Message struct {
	Role     Role     `json:"role"`
	Blocks   []Block  `json:"blocks"`
	EventIDs []string `json:"eventIds,omitempty"`
}

// Text flattens the message's text blocks into a single string
func (m Message) Text() string {
	var out string
	for _, b := range m.Blocks {
		if b.Type == blockText {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// UserSide reports whether the message occupies the user position
func (m Message) UserSide() bool {
	return m.Role == RoleUser || m.Role == RoleToolResult
}

// Result is a reconstructed conversation ready to send to a provider
type Result struct {
	Messages     []Message        `json:"messages"`
	SystemPrompt string           `json:"systemPrompt,omitempty"`
	TokenUsage   event.TokenUsage `json:"tokenUsage"`
	TurnCount    int64            `json:"turnCount"`
}
