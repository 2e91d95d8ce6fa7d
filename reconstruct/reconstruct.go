// Package reconstruct turns a linear event chain back into the message list
// a model provider expects: strict user/assistant alternation, tool results
// in the user position, and no dangling tool calls.
package reconstruct

import (
	"encoding/json"
	"fmt"

	"github.com/sessiongraph/sessiongraph/event"
)

const (
	// compactionSummaryPrefix heads the synthetic user message injected
	// after a compaction
	compactionSummaryPrefix = "[Context from earlier in this conversation]"

	// compactionAckText is the synthetic assistant acknowledgement paired
	// with the summary
	compactionAckText = "I understand the previous context. Let me continue helping you."

	// interruptedToolResultText closes tool calls that never got a result
	interruptedToolResultText = "Tool execution was interrupted."
)

type messagePayload struct {
	Content json.RawMessage `json:"content"`
}

type toolCallPayload struct {
	ToolCallID string          `json:"toolCallId"`
	Arguments  json.RawMessage `json:"arguments"`
}

type toolResultPayload struct {
	ToolCallID string          `json:"toolCallId"`
	Content    json.RawMessage `json:"content"`
	IsError    bool            `json:"isError"`
	UIOnly     bool            `json:"uiOnly"`
}

type deletedPayload struct {
	TargetEventID string `json:"targetEventId"`
}

type summaryPayload struct {
	Summary string `json:"summary"`
}

type startPayload struct {
	SystemPrompt string `json:"systemPrompt"`
}

// FromEvents rebuilds the conversation from a root-first event chain.
// Events the chain does not order correctly (a result before its call) are
// tolerated; unknown payload shapes degrade to empty content rather than
// failing the whole reconstruction.
func FromEvents(events []event.Event) (*Result, error) {
	meta := collectMetadata(events)

	b := &builder{meta: meta}
	result := &Result{SystemPrompt: meta.systemPrompt}

	for _, e := range events {
		if meta.deleted[e.ID] {
			continue
		}

		if e.Turn != nil && *e.Turn > result.TurnCount {
			result.TurnCount = *e.Turn
		}
		result.TokenUsage.Add(event.TokenUsage{
			InputTokens:         deref(e.InputTokens),
			OutputTokens:        deref(e.OutputTokens),
			CacheReadTokens:     deref(e.CacheReadTokens),
			CacheCreationTokens: deref(e.CacheCreationTokens),
		})

		switch e.Type {
		case event.TypeMessageUser:
			b.onUserMessage(e)
		case event.TypeMessageAssistant:
			b.onAssistantMessage(e)
		case event.TypeToolResult:
			b.onToolResult(e)
		case event.TypeCompactSummary:
			b.onCompaction(e)
		case event.TypeContextCleared:
			b.clear()
		default:
			// session.start, tool.call, stream.*, compact.boundary,
			// config.*, notification.*, message.deleted: no message output
		}
	}

	b.finish()
	result.Messages = injectMissingToolResults(b.messages, meta.uiOnly)
	return result, nil
}

// metadata is everything pass 1 gathers before any message is built
type metadata struct {
	deleted      map[string]bool
	toolArgs     map[string]json.RawMessage
	uiOnly       map[string]bool
	systemPrompt string
}

func collectMetadata(events []event.Event) metadata {
	meta := metadata{
		deleted:  make(map[string]bool),
		toolArgs: make(map[string]json.RawMessage),
		uiOnly:   make(map[string]bool),
	}
	for _, e := range events {
		switch e.Type {
		case event.TypeMessageDeleted:
			var p deletedPayload
			if err := json.Unmarshal(e.Payload, &p); err == nil && p.TargetEventID != "" {
				meta.deleted[p.TargetEventID] = true
			}
		case event.TypeToolCall:
			var p toolCallPayload
			if err := json.Unmarshal(e.Payload, &p); err == nil && p.ToolCallID != "" {
				meta.toolArgs[p.ToolCallID] = p.Arguments
			}
		case event.TypeToolResult:
			var p toolResultPayload
			if err := json.Unmarshal(e.Payload, &p); err == nil && p.UIOnly {
				meta.uiOnly[p.ToolCallID] = true
			}
		case event.TypeSessionStart:
			if meta.systemPrompt == "" {
				var p startPayload
				if err := json.Unmarshal(e.Payload, &p); err == nil {
					meta.systemPrompt = p.SystemPrompt
				}
			}
		}
	}
	return meta
}

// builder is the pass-2 state machine
type builder struct {
	meta     metadata
	messages []Message

	pending         []Block
	pendingEventIDs []string
}

func (b *builder) clear() {
	b.messages = nil
	b.pending = nil
	b.pendingEventIDs = nil
}

// onCompaction replaces everything built so far with the summary handshake
func (b *builder) onCompaction(e event.Event) {
	var p summaryPayload
	_ = json.Unmarshal(e.Payload, &p)

	b.clear()
	b.messages = append(b.messages,
		Message{
			Role:   RoleUser,
			Blocks: []Block{TextBlock(compactionSummaryPrefix + "\n\n" + p.Summary)},
		},
		Message{
			Role:   RoleAssistant,
			Blocks: []Block{TextBlock(compactionAckText)},
		},
	)
}

func (b *builder) onToolResult(e event.Event) {
	var p toolResultPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil || p.ToolCallID == "" {
		return
	}
	if p.UIOnly {
		// Answered by the user's next message, never sent to the provider
		return
	}
	b.pending = append(b.pending, Block{
		Type:      blockToolResult,
		ToolUseID: p.ToolCallID,
		Content:   p.Content,
		IsError:   p.IsError,
	})
	b.pendingEventIDs = append(b.pendingEventIDs, e.ID)
}

// onUserMessage emits a user message. Pending tool results ride along at
// the front of the same message so the user side stays a single turn.
func (b *builder) onUserMessage(e event.Event) {
	blocks := append(b.takePendingBlocks(), parseContent(e.Payload)...)
	eventIDs := append(b.takePendingEventIDs(), e.ID)

	if last := b.last(); last != nil && last.Role == RoleUser {
		last.Blocks = append(last.Blocks, blocks...)
		last.EventIDs = append(last.EventIDs, eventIDs...)
		return
	}
	b.messages = append(b.messages, Message{Role: RoleUser, Blocks: blocks, EventIDs: eventIDs})
}

func (b *builder) onAssistantMessage(e event.Event) {
	b.flushPending()

	blocks := parseContent(e.Payload)
	for i, blk := range blocks {
		if blk.Type == blockToolUse {
			blocks[i].Input = b.restoreInput(blk.ID, blk.Input)
		}
	}

	if last := b.last(); last != nil && last.Role == RoleAssistant {
		last.Blocks = append(last.Blocks, blocks...)
		last.EventIDs = append(last.EventIDs, e.ID)
		return
	}
	b.messages = append(b.messages, Message{Role: RoleAssistant, Blocks: blocks, EventIDs: []string{e.ID}})
}

// restoreInput swaps a truncated tool_use input for the full arguments
// recorded by the matching tool.call event
func (b *builder) restoreInput(toolUseID string, input json.RawMessage) json.RawMessage {
	var probe struct {
		Truncated bool `json:"_truncated"`
	}
	if err := json.Unmarshal(input, &probe); err != nil || !probe.Truncated {
		return input
	}
	if full, ok := b.meta.toolArgs[toolUseID]; ok && len(full) > 0 {
		return full
	}
	return input
}

// flushPending emits accumulated tool results as a standalone user-side
// message
func (b *builder) flushPending() {
	if len(b.pending) == 0 {
		return
	}
	b.messages = append(b.messages, Message{
		Role:     RoleToolResult,
		Blocks:   b.takePendingBlocks(),
		EventIDs: b.takePendingEventIDs(),
	})
}

func (b *builder) takePendingBlocks() []Block {
	blocks := b.pending
	b.pending = nil
	return blocks
}

func (b *builder) takePendingEventIDs() []string {
	ids := b.pendingEventIDs
	b.pendingEventIDs = nil
	return ids
}

func (b *builder) last() *Message {
	if len(b.messages) == 0 {
		return nil
	}
	return &b.messages[len(b.messages)-1]
}

// finish flushes results that arrived after the final assistant message
func (b *builder) finish() {
	b.flushPending()
}

// parseContent accepts either a plain string or a list of content blocks
func parseContent(payload json.RawMessage) []Block {
	var p messagePayload
	if err := json.Unmarshal(payload, &p); err != nil || len(p.Content) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(p.Content, &asString); err == nil {
		return []Block{TextBlock(asString)}
	}

	var blocks []Block
	if err := json.Unmarshal(p.Content, &blocks); err != nil {
		return nil
	}
	return blocks
}

// injectMissingToolResults guarantees every assistant tool_use has a
// matching tool_result in the next user-side message. Calls answered
// outside the provider conversation are exempt.
func injectMissingToolResults(messages []Message, uiOnly map[string]bool) []Message {
	var out []Message
	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		out = append(out, msg)
		if msg.Role != RoleAssistant {
			continue
		}

		var open []string
		for _, blk := range msg.Blocks {
			if blk.Type == blockToolUse && !uiOnly[blk.ID] {
				open = append(open, blk.ID)
			}
		}
		if len(open) == 0 {
			continue
		}

		answered := make(map[string]bool)
		if i+1 < len(messages) && messages[i+1].UserSide() {
			for _, blk := range messages[i+1].Blocks {
				if blk.Type == blockToolResult {
					answered[blk.ToolUseID] = true
				}
			}
		}

		var synthetic []Block
		for _, id := range open {
			if answered[id] {
				continue
			}
			synthetic = append(synthetic, Block{
				Type:      blockToolResult,
				ToolUseID: id,
				Content:   mustTextContent(interruptedToolResultText),
				IsError:   true,
			})
		}
		if len(synthetic) == 0 {
			continue
		}

		if i+1 < len(messages) && messages[i+1].UserSide() {
			next := messages[i+1]
			next.Blocks = append(synthetic, next.Blocks...)
			out = append(out, next)
			i++
			continue
		}
		out = append(out, Message{Role: RoleToolResult, Blocks: synthetic})
	}
	return out
}

func mustTextContent(text string) json.RawMessage {
	raw, err := json.Marshal([]Block{TextBlock(text)})
	if err != nil {
		return json.RawMessage(fmt.Sprintf("%q", text))
	}
	return raw
}

func deref(i *int64) int64 {
	if i == nil {
		return 0
	}
	return *i
}
