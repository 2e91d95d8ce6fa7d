package reconstruct

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sessiongraph/sessiongraph/event"
)

func evt(id, typ, payload string) event.Event {
	return event.Event{ID: id, Type: typ, Payload: json.RawMessage(payload)}
}

func rebuild(t *testing.T, events []event.Event) *Result {
	t.Helper()
	result, err := FromEvents(events)
	if err != nil {
		t.Fatalf("FromEvents failed: %v", err)
	}
	return result
}

func TestSimpleConversation(t *testing.T) {
	result := rebuild(t, []event.Event{
		evt("e1", event.TypeSessionStart, `{"systemPrompt":"You are helpful.","model":"test-model"}`),
		evt("e2", event.TypeMessageUser, `{"content":"hello"}`),
		evt("e3", event.TypeMessageAssistant, `{"content":[{"type":"text","text":"hi there"}]}`),
	})

	if result.SystemPrompt != "You are helpful." {
		t.Errorf("system prompt = %q", result.SystemPrompt)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result.Messages))
	}
	if result.Messages[0].Role != RoleUser || result.Messages[0].Text() != "hello" {
		t.Errorf("first message wrong: %+v", result.Messages[0])
	}
	if result.Messages[1].Role != RoleAssistant || result.Messages[1].Text() != "hi there" {
		t.Errorf("second message wrong: %+v", result.Messages[1])
	}
}

func TestStringContentNormalizedToBlocks(t *testing.T) {
	result := rebuild(t, []event.Event{
		evt("e1", event.TypeMessageUser, `{"content":"plain text"}`),
	})
	if len(result.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(result.Messages))
	}
	blocks := result.Messages[0].Blocks
	if len(blocks) != 1 || blocks[0].Type != "text" || blocks[0].Text != "plain text" {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestConsecutiveUserMessagesMerged(t *testing.T) {
	result := rebuild(t, []event.Event{
		evt("e1", event.TypeMessageUser, `{"content":"first"}`),
		evt("e2", event.TypeMessageUser, `{"content":"second"}`),
	})
	if len(result.Messages) != 1 {
		t.Fatalf("expected 1 merged message, got %d", len(result.Messages))
	}
	msg := result.Messages[0]
	if len(msg.Blocks) != 2 {
		t.Errorf("expected 2 blocks, got %d", len(msg.Blocks))
	}
	if len(msg.EventIDs) != 2 || msg.EventIDs[0] != "e1" || msg.EventIDs[1] != "e2" {
		t.Errorf("event IDs = %v", msg.EventIDs)
	}
}

func TestConsecutiveAssistantMessagesMerged(t *testing.T) {
	result := rebuild(t, []event.Event{
		evt("e1", event.TypeMessageUser, `{"content":"go"}`),
		evt("e2", event.TypeMessageAssistant, `{"content":[{"type":"text","text":"part one"}]}`),
		evt("e3", event.TypeMessageAssistant, `{"content":[{"type":"text","text":"part two"}]}`),
	})
	if len(result.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result.Messages))
	}
	if got := result.Messages[1].Text(); got != "part one\npart two" {
		t.Errorf("merged assistant text = %q", got)
	}
}

func toolTurn() []event.Event {
	return []event.Event{
		evt("e1", event.TypeMessageUser, `{"content":"read the file"}`),
		evt("e2", event.TypeMessageAssistant, `{"content":[{"type":"tool_use","id":"tc1","name":"read_file","input":{"path":"a.txt"}}]}`),
		evt("e3", event.TypeToolCall, `{"toolCallId":"tc1","toolName":"read_file","arguments":{"path":"a.txt"}}`),
		evt("e4", event.TypeToolResult, `{"toolCallId":"tc1","content":[{"type":"text","text":"file contents"}]}`),
	}
}

func TestToolResultMergedIntoNextUserMessage(t *testing.T) {
	events := append(toolTurn(),
		evt("e5", event.TypeMessageUser, `{"content":"thanks"}`),
	)
	result := rebuild(t, events)

	if len(result.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result.Messages))
	}
	last := result.Messages[2]
	if last.Role != RoleUser {
		t.Fatalf("last role = %s", last.Role)
	}
	if len(last.Blocks) != 2 || last.Blocks[0].Type != "tool_result" || last.Blocks[1].Type != "text" {
		t.Errorf("blocks = %+v", last.Blocks)
	}
	if last.Blocks[0].ToolUseID != "tc1" {
		t.Errorf("tool_result bound to %q", last.Blocks[0].ToolUseID)
	}
}

func TestTrailingToolResultFlushed(t *testing.T) {
	result := rebuild(t, toolTurn())

	if len(result.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result.Messages))
	}
	last := result.Messages[2]
	if last.Role != RoleToolResult {
		t.Errorf("last role = %s", last.Role)
	}
	if len(last.EventIDs) != 1 || last.EventIDs[0] != "e4" {
		t.Errorf("event IDs = %v", last.EventIDs)
	}
}

func TestAdjacentToolResultsMergeIntoOneMessage(t *testing.T) {
	result := rebuild(t, []event.Event{
		evt("e1", event.TypeMessageUser, `{"content":"do two things"}`),
		evt("e2", event.TypeMessageAssistant, `{"content":[
			{"type":"tool_use","id":"tc1","name":"a","input":{}},
			{"type":"tool_use","id":"tc2","name":"b","input":{}}]}`),
		evt("e3", event.TypeToolResult, `{"toolCallId":"tc1","content":[{"type":"text","text":"one"}]}`),
		evt("e4", event.TypeToolResult, `{"toolCallId":"tc2","content":[{"type":"text","text":"two"}]}`),
	})

	if len(result.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result.Messages))
	}
	last := result.Messages[2]
	if last.Role != RoleToolResult || len(last.Blocks) != 2 {
		t.Fatalf("last message = %+v", last)
	}
	if last.Blocks[0].ToolUseID != "tc1" || last.Blocks[1].ToolUseID != "tc2" {
		t.Errorf("result order wrong: %+v", last.Blocks)
	}
}

func TestMissingToolResultInjected(t *testing.T) {
	result := rebuild(t, []event.Event{
		evt("e1", event.TypeMessageUser, `{"content":"go"}`),
		evt("e2", event.TypeMessageAssistant, `{"content":[{"type":"tool_use","id":"tc1","name":"slow_tool","input":{}}]}`),
	})

	if len(result.Messages) != 3 {
		t.Fatalf("expected synthetic result message, got %d messages", len(result.Messages))
	}
	last := result.Messages[2]
	if last.Role != RoleToolResult {
		t.Fatalf("last role = %s", last.Role)
	}
	blk := last.Blocks[0]
	if blk.ToolUseID != "tc1" || !blk.IsError {
		t.Errorf("synthetic block = %+v", blk)
	}
	if !strings.Contains(string(blk.Content), interruptedToolResultText) {
		t.Errorf("synthetic content = %s", blk.Content)
	}
	if len(last.EventIDs) != 0 {
		t.Errorf("synthetic message should carry no event IDs, got %v", last.EventIDs)
	}
}

func TestMissingToolResultInjectedBeforeUserMessage(t *testing.T) {
	result := rebuild(t, []event.Event{
		evt("e1", event.TypeMessageUser, `{"content":"go"}`),
		evt("e2", event.TypeMessageAssistant, `{"content":[{"type":"tool_use","id":"tc1","name":"tool","input":{}}]}`),
		evt("e3", event.TypeMessageUser, `{"content":"never mind"}`),
	})

	if len(result.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result.Messages))
	}
	last := result.Messages[2]
	if last.Blocks[0].Type != "tool_result" || !last.Blocks[0].IsError {
		t.Errorf("expected synthetic result at front of user message, got %+v", last.Blocks)
	}
	if last.Blocks[1].Type != "text" || last.Blocks[1].Text != "never mind" {
		t.Errorf("user text displaced: %+v", last.Blocks)
	}
}

func TestUIOnlyToolResultSkipped(t *testing.T) {
	// A question answered in the UI: the tool result never reaches the
	// provider, and no synthetic result is injected for the call
	result := rebuild(t, []event.Event{
		evt("e1", event.TypeMessageUser, `{"content":"help me decide"}`),
		evt("e2", event.TypeMessageAssistant, `{"content":[{"type":"tool_use","id":"tc1","name":"ask_user_question","input":{"question":"A or B?"}}]}`),
		evt("e3", event.TypeToolResult, `{"toolCallId":"tc1","content":[{"type":"text","text":"chose A"}],"uiOnly":true}`),
		evt("e4", event.TypeMessageUser, `{"content":"A please"}`),
	})

	if len(result.Messages) != 3 {
		t.Fatalf("expected exactly 3 messages, got %d: %+v", len(result.Messages), result.Messages)
	}
	for _, msg := range result.Messages {
		for _, blk := range msg.Blocks {
			if blk.Type == "tool_result" {
				t.Errorf("unexpected tool_result block in %+v", msg)
			}
		}
	}
}

func TestCompactionReplacesHistory(t *testing.T) {
	result := rebuild(t, []event.Event{
		evt("e1", event.TypeMessageUser, `{"content":"old question"}`),
		evt("e2", event.TypeMessageAssistant, `{"content":[{"type":"text","text":"old answer"}]}`),
		evt("e3", event.TypeCompactBoundary, `{}`),
		evt("e4", event.TypeCompactSummary, `{"summary":"They discussed old things."}`),
		evt("e5", event.TypeMessageUser, `{"content":"new question"}`),
	})

	if len(result.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result.Messages))
	}
	first := result.Messages[0]
	if first.Role != RoleUser || !strings.HasPrefix(first.Text(), compactionSummaryPrefix) {
		t.Errorf("summary message = %+v", first)
	}
	if !strings.Contains(first.Text(), "They discussed old things.") {
		t.Errorf("summary text missing: %q", first.Text())
	}
	if result.Messages[1].Role != RoleAssistant || result.Messages[1].Text() != compactionAckText {
		t.Errorf("ack message = %+v", result.Messages[1])
	}
	if result.Messages[2].Text() != "new question" {
		t.Errorf("post-compaction message = %+v", result.Messages[2])
	}
}

func TestContextClearedDropsEverything(t *testing.T) {
	result := rebuild(t, []event.Event{
		evt("e1", event.TypeMessageUser, `{"content":"before"}`),
		evt("e2", event.TypeMessageAssistant, `{"content":[{"type":"text","text":"reply"}]}`),
		evt("e3", event.TypeContextCleared, `{}`),
		evt("e4", event.TypeMessageUser, `{"content":"after"}`),
	})

	if len(result.Messages) != 1 || result.Messages[0].Text() != "after" {
		t.Errorf("messages = %+v", result.Messages)
	}
}

func TestDeletedMessagesSkipped(t *testing.T) {
	result := rebuild(t, []event.Event{
		evt("e1", event.TypeMessageUser, `{"content":"keep"}`),
		evt("e2", event.TypeMessageAssistant, `{"content":[{"type":"text","text":"drop me"}]}`),
		evt("e3", event.TypeMessageUser, `{"content":"also keep"}`),
		evt("e4", event.TypeMessageDeleted, `{"targetEventId":"e2"}`),
	})

	// With e2 gone, the two user messages become adjacent and merge
	if len(result.Messages) != 1 {
		t.Fatalf("expected 1 merged message, got %d", len(result.Messages))
	}
	if got := result.Messages[0].Text(); got != "keep\nalso keep" {
		t.Errorf("text = %q", got)
	}
}

func TestTruncatedToolInputRestored(t *testing.T) {
	result := rebuild(t, []event.Event{
		evt("e1", event.TypeMessageUser, `{"content":"write it"}`),
		evt("e2", event.TypeMessageAssistant, `{"content":[{"type":"tool_use","id":"tc1","name":"write_file","input":{"_truncated":true}}]}`),
		evt("e3", event.TypeToolCall, `{"toolCallId":"tc1","toolName":"write_file","arguments":{"path":"big.txt","content":"full payload"}}`),
		evt("e4", event.TypeToolResult, `{"toolCallId":"tc1","content":[{"type":"text","text":"ok"}]}`),
	})

	assistant := result.Messages[1]
	var input map[string]any
	if err := json.Unmarshal(assistant.Blocks[0].Input, &input); err != nil {
		t.Fatalf("bad input: %v", err)
	}
	if input["content"] != "full payload" {
		t.Errorf("input not restored: %v", input)
	}
}

func TestControlEventsProduceNoMessages(t *testing.T) {
	result := rebuild(t, []event.Event{
		evt("e1", event.TypeSessionStart, `{"systemPrompt":"sp"}`),
		evt("e2", event.TypeTurnStart, `{"turn":1}`),
		evt("e3", event.TypeMessageUser, `{"content":"hi"}`),
		evt("e4", event.TypeModelChange, `{"model":"other"}`),
		evt("e5", event.TypeMessageAssistant, `{"content":[{"type":"text","text":"hello"}]}`),
		evt("e6", event.TypeTurnEnd, `{"turn":1}`),
		evt("e7", event.TypeNotificationSent, `{"kind":"done"}`),
	})

	if len(result.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(result.Messages))
	}
}

func TestTurnCountAndTokenUsage(t *testing.T) {
	turn1 := int64(1)
	turn2 := int64(2)
	in1, out1 := int64(100), int64(50)
	in2, out2 := int64(200), int64(80)

	events := []event.Event{
		evt("e1", event.TypeMessageUser, `{"content":"q1"}`),
		{ID: "e2", Type: event.TypeMessageAssistant,
			Payload:     json.RawMessage(`{"content":[{"type":"text","text":"a1"}]}`),
			Turn:        &turn1,
			InputTokens: &in1, OutputTokens: &out1},
		evt("e3", event.TypeMessageUser, `{"content":"q2"}`),
		{ID: "e4", Type: event.TypeMessageAssistant,
			Payload:     json.RawMessage(`{"content":[{"type":"text","text":"a2"}]}`),
			Turn:        &turn2,
			InputTokens: &in2, OutputTokens: &out2},
	}

	result := rebuild(t, events)
	if result.TurnCount != 2 {
		t.Errorf("turn count = %d", result.TurnCount)
	}
	if result.TokenUsage.InputTokens != 300 || result.TokenUsage.OutputTokens != 130 {
		t.Errorf("token usage = %+v", result.TokenUsage)
	}
}

func TestAlternationInvariant(t *testing.T) {
	events := []event.Event{
		evt("e1", event.TypeSessionStart, `{"systemPrompt":"sp"}`),
		evt("e2", event.TypeMessageUser, `{"content":"q"}`),
		evt("e3", event.TypeMessageAssistant, `{"content":[{"type":"tool_use","id":"tc1","name":"t","input":{}}]}`),
		evt("e4", event.TypeToolResult, `{"toolCallId":"tc1","content":[{"type":"text","text":"r"}]}`),
		evt("e5", event.TypeMessageAssistant, `{"content":[{"type":"tool_use","id":"tc2","name":"t","input":{}}]}`),
		evt("e6", event.TypeToolResult, `{"toolCallId":"tc2","content":[{"type":"text","text":"r2"}]}`),
		evt("e7", event.TypeMessageUser, `{"content":"follow up"}`),
		evt("e8", event.TypeMessageAssistant, `{"content":[{"type":"text","text":"done"}]}`),
		evt("e9", event.TypeMessageAssistant, `{"content":[{"type":"tool_use","id":"tc3","name":"t","input":{}}]}`),
	}

	result := rebuild(t, events)
	for i := 1; i < len(result.Messages); i++ {
		prev, cur := result.Messages[i-1], result.Messages[i]
		if prev.UserSide() == cur.UserSide() {
			t.Errorf("messages %d and %d on the same side: %s then %s", i-1, i, prev.Role, cur.Role)
		}
	}
	// tc3 never resolved: the final message must carry its synthetic result
	last := result.Messages[len(result.Messages)-1]
	if last.Role != RoleToolResult || last.Blocks[0].ToolUseID != "tc3" {
		t.Errorf("dangling tool call not closed: %+v", last)
	}
}

func TestEmptyChain(t *testing.T) {
	result := rebuild(t, nil)
	if len(result.Messages) != 0 {
		t.Errorf("expected no messages, got %d", len(result.Messages))
	}
}

func TestIdempotentRebuild(t *testing.T) {
	events := append(toolTurn(),
		evt("e5", event.TypeMessageUser, `{"content":"and then"}`),
		evt("e6", event.TypeMessageAssistant, `{"content":[{"type":"text","text":"done"}]}`),
	)

	first := rebuild(t, events)
	second := rebuild(t, events)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("rebuild not deterministic:\n%s\n%s", a, b)
	}
}
