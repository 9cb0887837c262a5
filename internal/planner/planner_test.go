package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sworddut/llm-agent-scheduler/internal/llm"
	"github.com/sworddut/llm-agent-scheduler/internal/task"
	"github.com/sworddut/llm-agent-scheduler/internal/tool"
)

const validPlan = `{
	"subtasks": [
		{
			"name": "get_weather",
			"task_type": "tool_call",
			"payload": {"tool_name": "get_current_weather", "parameters": {"location": "Guangzhou"}},
			"dependencies": []
		},
		{
			"name": "find_food",
			"task_type": "tool_call",
			"payload": {"tool_name": "find_places", "parameters": {"city": "Guangzhou", "keyword": "dim sum"}},
			"dependencies": []
		},
		{
			"name": "summarise",
			"task_type": "final_summary",
			"payload": {"prompt": ""},
			"dependencies": ["get_weather"]
		}
	]
}`

type mockTransport struct {
	mu       sync.Mutex
	content  string
	err      error
	requests []llm.Request
}

func (m *mockTransport) ChatCompletion(ctx context.Context, req llm.Request) (openai.ChatCompletionMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return openai.ChatCompletionMessage{}, m.err
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.content}, nil
}

func testRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	registry, err := tool.NewRegistry(tool.Builtins()...)
	if err != nil {
		t.Fatal(err)
	}
	return registry
}

func TestParsePlanValid(t *testing.T) {
	plan, err := ParsePlan([]byte(validPlan))
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Subtasks) != 3 {
		t.Fatalf("subtasks = %d, want 3", len(plan.Subtasks))
	}

	// find_food was omitted from the summary's dependencies; post-processing
	// must add it.
	summary := plan.Subtasks[2]
	if summary.TaskType != string(task.TypeFinalSummary) {
		t.Fatalf("subtask 2 = %q, want final_summary", summary.TaskType)
	}
	deps := map[string]bool{}
	for _, d := range summary.Dependencies {
		deps[d] = true
	}
	if !deps["get_weather"] || !deps["find_food"] {
		t.Errorf("summary dependencies = %v, want both tool calls", summary.Dependencies)
	}
	if len(summary.Dependencies) != 2 {
		t.Errorf("summary dependencies = %v, want exactly 2 (no duplicates)", summary.Dependencies)
	}
}

func TestParsePlanNotJSON(t *testing.T) {
	if _, err := ParsePlan([]byte("here is your plan!")); err == nil {
		t.Error("non-JSON plan should fail")
	}
}

func TestParsePlanSchemaViolation(t *testing.T) {
	// task_type outside the enum.
	raw := `{"subtasks":[{"name":"a","task_type":"planning","payload":{}}]}`
	if _, err := ParsePlan([]byte(raw)); err == nil {
		t.Error("schema violation should fail")
	}

	// subtasks missing entirely.
	if _, err := ParsePlan([]byte(`{}`)); err == nil {
		t.Error("missing subtasks should fail")
	}

	// empty name.
	raw = `{"subtasks":[{"name":"","task_type":"tool_call","payload":{}}]}`
	if _, err := ParsePlan([]byte(raw)); err == nil {
		t.Error("empty name should fail")
	}
}

func TestParsePlanMissingFinalSummary(t *testing.T) {
	raw := `{"subtasks":[{"name":"a","task_type":"tool_call","payload":{"tool_name":"x","parameters":{}}}]}`
	_, err := ParsePlan([]byte(raw))
	if !errors.Is(err, ErrMissingFinalSummary) {
		t.Errorf("err = %v, want ErrMissingFinalSummary", err)
	}
}

func TestParsePlanMultipleFinalSummaries(t *testing.T) {
	raw := `{"subtasks":[
		{"name":"s1","task_type":"final_summary","payload":{"prompt":""}},
		{"name":"s2","task_type":"final_summary","payload":{"prompt":""}}
	]}`
	_, err := ParsePlan([]byte(raw))
	if !errors.Is(err, ErrMultipleFinalSummaries) {
		t.Errorf("err = %v, want ErrMultipleFinalSummaries", err)
	}
}

func TestParsePlanDuplicateNames(t *testing.T) {
	raw := `{"subtasks":[
		{"name":"a","task_type":"tool_call","payload":{"tool_name":"x","parameters":{}}},
		{"name":"a","task_type":"final_summary","payload":{"prompt":""}}
	]}`
	if _, err := ParsePlan([]byte(raw)); err == nil {
		t.Error("duplicate names should fail")
	}
}

func TestDecompose(t *testing.T) {
	transport := &mockTransport{content: validPlan}
	p := New(Config{
		Transport: transport,
		Model:     "test-model",
		Registry:  testRegistry(t),
	})

	plan, err := p.Decompose(context.Background(), "Plan a 3-day Guangzhou trip")
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Subtasks) != 3 {
		t.Fatalf("subtasks = %d, want 3", len(plan.Subtasks))
	}

	if len(transport.requests) != 1 {
		t.Fatalf("model calls = %d, want exactly 1", len(transport.requests))
	}
	req := transport.requests[0]
	if !req.JSONObject {
		t.Error("planner must request JSON-object output")
	}
	if len(req.Tools) != 0 {
		t.Error("planner call must not offer tools")
	}
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want system+user", len(req.Messages))
	}
	system := req.Messages[0].Content
	if !strings.Contains(system, "get_current_weather") {
		t.Error("system prompt should embed the tool catalogue")
	}
	if !strings.Contains(system, "final_summary") {
		t.Error("system prompt should describe the final_summary contract")
	}
	if req.Messages[1].Content != "Plan a 3-day Guangzhou trip" {
		t.Errorf("user turn = %q", req.Messages[1].Content)
	}
}

func TestDecomposeEmptyGoal(t *testing.T) {
	p := New(Config{Transport: &mockTransport{}, Registry: testRegistry(t)})
	if _, err := p.Decompose(context.Background(), "  "); err == nil {
		t.Error("empty goal should fail")
	}
}

func TestDecomposeTransportError(t *testing.T) {
	transport := &mockTransport{err: fmt.Errorf("rate limited")}
	p := New(Config{Transport: transport, Model: "m", Registry: testRegistry(t)})

	if _, err := p.Decompose(context.Background(), "goal"); err == nil {
		t.Error("transport error should propagate")
	}
}

func TestDecomposeInvalidJSON(t *testing.T) {
	transport := &mockTransport{content: "I cannot produce a plan"}
	p := New(Config{Transport: transport, Model: "m", Registry: testRegistry(t)})

	if _, err := p.Decompose(context.Background(), "goal"); err == nil {
		t.Error("unparseable plan should fail")
	}
}
