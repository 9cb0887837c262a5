// Package planner decomposes a PLANNING task's goal into a plan of subtasks
// with dependency edges.
//
// The planner makes exactly one model call in JSON-object mode. It never
// emits tool calls itself; the tool catalogue only informs the prompt. A
// response that is not valid JSON, violates the plan schema, or does not
// contain exactly one final_summary subtask fails planning, and the
// originating PLANNING task fails with it.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sworddut/llm-agent-scheduler/internal/llm"
	"github.com/sworddut/llm-agent-scheduler/internal/task"
	"github.com/sworddut/llm-agent-scheduler/internal/tool"
)

// Planning failure modes surfaced to the scheduler.
var (
	// ErrMissingFinalSummary means the plan contains no final_summary entry.
	ErrMissingFinalSummary = errors.New("plan has no final_summary subtask")

	// ErrMultipleFinalSummaries means the plan contains more than one.
	ErrMultipleFinalSummaries = errors.New("plan has more than one final_summary subtask")
)

// Subtask is one entry of a decoded plan.
type Subtask struct {
	// Name is the unique sibling name dependency edges refer to.
	Name string `json:"name"`

	// TaskType is one of tool_call, final_summary, reasoning.
	TaskType string `json:"task_type"`

	// Payload carries tool_name+parameters or a prompt.
	Payload task.Payload `json:"payload"`

	// Dependencies names the siblings that must complete first.
	Dependencies []string `json:"dependencies"`
}

// Plan is the planner's output after validation and post-processing.
type Plan struct {
	Subtasks []Subtask `json:"subtasks"`
}

// Config configures the planner.
type Config struct {
	// Transport performs the decomposition call. Required.
	Transport llm.Transport

	// Model is the model used for planning.
	Model string

	// Registry supplies the tool catalogue for the prompt. Required.
	Registry *tool.Registry

	// Logger for planning events.
	Logger *slog.Logger
}

// Planner asks the model for a plan and validates it.
type Planner struct {
	transport llm.Transport
	model     string
	registry  *tool.Registry
	logger    *slog.Logger
}

// New creates a planner.
func New(cfg Config) *Planner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "planner")
	}
	return &Planner{
		transport: cfg.Transport,
		model:     cfg.Model,
		registry:  cfg.Registry,
		logger:    logger,
	}
}

// Decompose produces a validated plan for the given goal.
func (p *Planner) Decompose(ctx context.Context, goal string) (*Plan, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, errors.New("planning goal is empty")
	}

	systemPrompt, err := p.systemPrompt()
	if err != nil {
		return nil, err
	}

	reply, err := p.transport.ChatCompletion(ctx, llm.Request{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: goal},
		},
		JSONObject: true,
	})
	if err != nil {
		return nil, fmt.Errorf("planning call: %w", err)
	}

	plan, err := ParsePlan([]byte(reply.Content))
	if err != nil {
		return nil, err
	}

	p.logger.Info("plan produced",
		"subtasks", len(plan.Subtasks),
	)
	return plan, nil
}

// ParsePlan decodes, schema-validates, and post-processes raw plan JSON.
// Post-processing appends every tool_call subtask to the final_summary's
// dependencies, whether or not the model emitted those edges.
func ParsePlan(raw []byte) (*Plan, error) {
	schema, err := compiledPlanSchema()
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("plan is not valid JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("plan violates schema: %w", err)
	}

	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	summaryIdx := -1
	var toolCallNames []string
	seen := make(map[string]struct{}, len(plan.Subtasks))
	for i, sub := range plan.Subtasks {
		if _, dup := seen[sub.Name]; dup {
			return nil, fmt.Errorf("plan has duplicate subtask name %q", sub.Name)
		}
		seen[sub.Name] = struct{}{}

		switch task.Type(sub.TaskType) {
		case task.TypeFinalSummary:
			if summaryIdx >= 0 {
				return nil, ErrMultipleFinalSummaries
			}
			summaryIdx = i
		case task.TypeToolCall:
			toolCallNames = append(toolCallNames, sub.Name)
		}
	}
	if summaryIdx < 0 {
		return nil, ErrMissingFinalSummary
	}

	summary := &plan.Subtasks[summaryIdx]
	existing := make(map[string]struct{}, len(summary.Dependencies))
	for _, dep := range summary.Dependencies {
		existing[dep] = struct{}{}
	}
	for _, name := range toolCallNames {
		if _, ok := existing[name]; !ok {
			summary.Dependencies = append(summary.Dependencies, name)
		}
	}

	return &plan, nil
}

// systemPrompt renders the single-shot planning instructions with the
// current tool catalogue.
func (p *Planner) systemPrompt() (string, error) {
	catalogue, err := json.MarshalIndent(p.registry.Catalogue(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode tool catalogue: %w", err)
	}

	var b strings.Builder
	b.WriteString(`You are a master planner. Decompose the user's request into a structured plan of subtasks that a machine can execute. Respond with a single valid JSON object and nothing else.

The JSON object has one key, "subtasks": a list of subtask objects. Each subtask has:
- "name": a unique, descriptive identifier (e.g. "get_weather_guangzhou"); dependencies refer to these names.
- "task_type": one of:
  - "tool_call": executes one tool; its payload must contain "tool_name" (string) and "parameters" (object).
  - "reasoning": a free-form step; its payload must contain "prompt" (string).
  - "final_summary": synthesizes the final answer. There must be exactly ONE, it must depend on every tool_call subtask, and its payload "prompt" may be an empty string because it is populated from the other results at run time.
- "dependencies": a list of subtask names that must complete before this one starts.

Available tools:
`)
	b.Write(catalogue)
	b.WriteString(`

When generating parameters for search-style tools, prefer concise, localized, native-language keywords over long descriptive phrases.

Example of a valid response:
{
  "subtasks": [
    {
      "name": "get_guangzhou_weather",
      "task_type": "tool_call",
      "payload": {"tool_name": "get_current_weather", "parameters": {"location": "Guangzhou"}},
      "dependencies": []
    },
    {
      "name": "summarize_and_report",
      "task_type": "final_summary",
      "payload": {"prompt": ""},
      "dependencies": ["get_guangzhou_weather"]
    }
  ]
}`)
	return b.String(), nil
}
