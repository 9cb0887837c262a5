package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sworddut/llm-agent-scheduler/internal/llm"
	"github.com/sworddut/llm-agent-scheduler/internal/task"
)

// mockTransport scripts chat-completion replies and records requests.
type mockTransport struct {
	mu       sync.Mutex
	replies  []openai.ChatCompletionMessage
	errs     []error
	requests []llm.Request
}

func (m *mockTransport) ChatCompletion(ctx context.Context, req llm.Request) (openai.ChatCompletionMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	idx := len(m.requests) - 1
	if idx < len(m.errs) && m.errs[idx] != nil {
		return openai.ChatCompletionMessage{}, m.errs[idx]
	}
	if idx < len(m.replies) {
		return m.replies[idx], nil
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "default"}, nil
}

func assistantText(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}
}

func assistantToolCalls(calls ...openai.ToolCall) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, ToolCalls: calls}
}

func toolCall(id, name, args string) openai.ToolCall {
	return openai.ToolCall{
		ID:       id,
		Type:     openai.ToolTypeFunction,
		Function: openai.FunctionCall{Name: name, Arguments: args},
	}
}

func toolResult(id, name, content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		ToolCallID: id,
		Name:       name,
		Content:    content,
	}
}

func newTestDriver(transport llm.Transport) *Driver {
	return NewDriver(DriverConfig{Transport: transport, Model: "test-model"})
}

func TestBeginWithPrompt(t *testing.T) {
	d := newTestDriver(&mockTransport{})
	tk := task.New("t", task.TypeReasoning, task.Payload{Prompt: "say hi"})

	ex, err := d.Begin(tk, nil)
	if err != nil {
		t.Fatal(err)
	}
	msgs := ex.Conversation()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleUser || msgs[0].Content != "say hi" {
		t.Errorf("unexpected initial message: %+v", msgs[0])
	}
}

func TestBeginWithMessages(t *testing.T) {
	d := newTestDriver(&mockTransport{})
	payload := task.Payload{Messages: []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: "be terse"},
		{Role: openai.ChatMessageRoleUser, Content: "hello"},
	}}
	tk := task.New("t", task.TypeReasoning, payload)

	ex, err := d.Begin(tk, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ex.Conversation()) != 2 {
		t.Fatalf("messages = %d, want 2", len(ex.Conversation()))
	}
}

func TestBeginWithToolCommand(t *testing.T) {
	d := newTestDriver(&mockTransport{})
	tk := task.New("t", task.TypeToolCall, task.Payload{
		ToolName:   "get_current_weather",
		Parameters: json.RawMessage(`{"location":"Boston"}`),
	})

	ex, err := d.Begin(tk, nil)
	if err != nil {
		t.Fatal(err)
	}
	content := ex.Conversation()[0].Content
	if !strings.Contains(content, "get_current_weather") {
		t.Errorf("tool-command turn should name the tool: %q", content)
	}
	if !strings.Contains(content, "Boston") {
		t.Errorf("tool-command turn should carry the parameters: %q", content)
	}
}

func TestBeginInvalidPayload(t *testing.T) {
	d := newTestDriver(&mockTransport{})
	tk := task.New("t", task.TypeReasoning, task.Payload{})

	if _, err := d.Begin(tk, nil); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestStepFinishesOnPlainReply(t *testing.T) {
	transport := &mockTransport{replies: []openai.ChatCompletionMessage{assistantText("hi")}}
	d := newTestDriver(transport)
	tk := task.New("t", task.TypeReasoning, task.Payload{Prompt: "say hi"})

	ex, err := d.Begin(tk, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := ex.Step(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Done || res.FinalText != "hi" {
		t.Errorf("res = %+v, want done with %q", res, "hi")
	}
	if len(transport.requests) != 1 {
		t.Errorf("model calls = %d, want 1", len(transport.requests))
	}
}

func TestStepSuspendsOnToolCalls(t *testing.T) {
	tc := toolCall("tc-1", "get_current_weather", `{"location":"Boston"}`)
	transport := &mockTransport{replies: []openai.ChatCompletionMessage{
		assistantToolCalls(tc),
		assistantText("30°C in Boston."),
	}}
	d := newTestDriver(transport)
	tk := task.New("t", task.TypeReasoning, task.Payload{Prompt: "weather in Boston?"})

	ex, err := d.Begin(tk, nil)
	if err != nil {
		t.Fatal(err)
	}

	res, err := ex.Step(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if res.Done {
		t.Fatal("step should suspend on tool calls")
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].ID != "tc-1" {
		t.Fatalf("tool calls = %+v", res.ToolCalls)
	}
	if len(ex.Pending()) != 1 {
		t.Fatal("execution should track the pending batch")
	}

	// Stepping while suspended is a protocol violation.
	if _, err := ex.Step(context.Background(), d); err == nil {
		t.Error("step while suspended should fail")
	}

	if err := ex.OnToolResults([]openai.ChatCompletionMessage{
		toolResult("tc-1", "get_current_weather", `{"temp":30,"unit":"C"}`),
	}); err != nil {
		t.Fatal(err)
	}

	res, err = ex.Step(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Done || res.FinalText != "30°C in Boston." {
		t.Errorf("res = %+v", res)
	}

	// The conversation must interleave strictly: user, assistant(tool_calls),
	// tool, assistant(final).
	msgs := ex.Conversation()
	wantRoles := []string{
		openai.ChatMessageRoleUser,
		openai.ChatMessageRoleAssistant,
		openai.ChatMessageRoleTool,
		openai.ChatMessageRoleAssistant,
	}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("conversation = %d messages, want %d", len(msgs), len(wantRoles))
	}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Errorf("message %d role = %q, want %q", i, msgs[i].Role, want)
		}
	}

	// The second request must include the assistant turn and the tool result.
	second := transport.requests[1]
	if len(second.Messages) != 3 {
		t.Fatalf("second request has %d messages, want 3", len(second.Messages))
	}
	if second.Messages[2].ToolCallID != "tc-1" {
		t.Errorf("tool result references %q, want tc-1", second.Messages[2].ToolCallID)
	}
}

func TestOnToolResultsOrderEnforced(t *testing.T) {
	transport := &mockTransport{replies: []openai.ChatCompletionMessage{
		assistantToolCalls(
			toolCall("tc-1", "a", `{}`),
			toolCall("tc-2", "b", `{}`),
		),
	}}
	d := newTestDriver(transport)
	tk := task.New("t", task.TypeReasoning, task.Payload{Prompt: "x"})

	ex, err := d.Begin(tk, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ex.Step(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	// Reversed order must be rejected.
	err = ex.OnToolResults([]openai.ChatCompletionMessage{
		toolResult("tc-2", "b", "r2"),
		toolResult("tc-1", "a", "r1"),
	})
	if !errors.Is(err, ErrResultMismatch) {
		t.Errorf("err = %v, want ErrResultMismatch", err)
	}

	// Wrong cardinality must be rejected.
	err = ex.OnToolResults([]openai.ChatCompletionMessage{
		toolResult("tc-1", "a", "r1"),
	})
	if !errors.Is(err, ErrResultMismatch) {
		t.Errorf("err = %v, want ErrResultMismatch", err)
	}

	// Correct order is accepted and clears the pending batch.
	err = ex.OnToolResults([]openai.ChatCompletionMessage{
		toolResult("tc-1", "a", "r1"),
		toolResult("tc-2", "b", "r2"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ex.Pending()) != 0 {
		t.Error("pending batch should be cleared")
	}
}

func TestStepPropagatesTransportError(t *testing.T) {
	transport := &mockTransport{errs: []error{fmt.Errorf("connection refused")}}
	d := newTestDriver(transport)
	tk := task.New("t", task.TypeReasoning, task.Payload{Prompt: "x"})

	ex, err := d.Begin(tk, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ex.Step(context.Background(), d); err == nil {
		t.Error("transport error should propagate")
	}
}
