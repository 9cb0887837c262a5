// Package agent drives a single task against the model as a pausable state
// machine.
//
// The original design is a coroutine that yields tool-call batches and is
// resumed with their results. Here that is an explicit Execution per task
// with two operations: Step issues one model call and either finishes the
// conversation or suspends on a tool-call batch; OnToolResults appends the
// ordered results and makes the execution steppable again. The scheduler
// owns one Execution per running task and is responsible for the task's
// status transitions.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sworddut/llm-agent-scheduler/internal/llm"
	"github.com/sworddut/llm-agent-scheduler/internal/task"
)

// ErrInvalidPayload is returned by Begin when a leaf payload carries none of
// messages, prompt, or tool_name.
var ErrInvalidPayload = errors.New("invalid payload: missing messages, prompt, or tool_name")

// ErrResultMismatch is returned by OnToolResults when the delivered batch
// does not line up with the pending tool calls.
var ErrResultMismatch = errors.New("tool results do not match pending tool calls")

// Driver creates executions and steps them against the model transport.
type Driver struct {
	transport llm.Transport
	model     string
	logger    *slog.Logger
}

// DriverConfig configures the agent driver.
type DriverConfig struct {
	// Transport performs the chat-completion calls. Required.
	Transport llm.Transport

	// Model is the default model driven for every task.
	Model string

	// Logger for driver events.
	Logger *slog.Logger
}

// NewDriver creates an agent driver.
func NewDriver(cfg DriverConfig) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "agent-driver")
	}
	return &Driver{
		transport: cfg.Transport,
		model:     cfg.Model,
		logger:    logger,
	}
}

// Execution is the per-task conversation state. It lives from admission to
// the task's terminal transition and survives suspension across tool calls.
type Execution struct {
	taskID   string
	taskName string
	messages []openai.ChatCompletionMessage
	pending  []openai.ToolCall
	tools    []openai.Tool
}

// StepResult is the outcome of one Step call.
type StepResult struct {
	// Done is true when the model produced a final assistant message.
	Done bool

	// FinalText is the assistant content when Done.
	FinalText string

	// ToolCalls is the batch the model requested when not Done. The
	// execution is suspended until OnToolResults delivers the results.
	ToolCalls []openai.ToolCall
}

// Begin builds the initial conversation for a task. The payload is used
// verbatim when it carries messages, wrapped as one user turn when it
// carries a prompt, and synthesized into a tool-command turn when it names a
// tool. Anything else is an invalid payload.
func (d *Driver) Begin(t *task.Task, tools []openai.Tool) (*Execution, error) {
	messages, err := initialMessages(t.Payload)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("execution started",
		"task_id", t.ID,
		"task_name", t.Name,
		"initial_messages", len(messages),
	)
	return &Execution{
		taskID:   t.ID,
		taskName: t.Name,
		messages: messages,
		tools:    tools,
	}, nil
}

func initialMessages(p task.Payload) ([]openai.ChatCompletionMessage, error) {
	switch {
	case len(p.Messages) > 0:
		messages := make([]openai.ChatCompletionMessage, len(p.Messages))
		copy(messages, p.Messages)
		return messages, nil

	case p.Prompt != "":
		return []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: p.Prompt,
		}}, nil

	case p.ToolName != "":
		params := p.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		var pretty json.RawMessage
		if indented, err := json.MarshalIndent(json.RawMessage(params), "", "  "); err == nil {
			pretty = indented
		} else {
			pretty = params
		}
		content := fmt.Sprintf(
			"Execute the following tool call precisely as specified:\n\nTool: `%s`\nParameters: %s",
			p.ToolName, pretty,
		)
		return []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: content,
		}}, nil

	default:
		return nil, ErrInvalidPayload
	}
}

// Step submits the conversation to the model. A reply with tool calls
// suspends the execution and returns the batch; a plain reply finishes it.
// A transport error is returned as-is: the scheduler fails the task with it,
// per the no-retry failure contract.
func (ex *Execution) Step(ctx context.Context, d *Driver) (StepResult, error) {
	if len(ex.pending) > 0 {
		return StepResult{}, fmt.Errorf("execution for task %s stepped while waiting on %d tool results", ex.taskID, len(ex.pending))
	}

	reply, err := d.transport.ChatCompletion(ctx, llm.Request{
		Model:    d.model,
		Messages: ex.messages,
		Tools:    ex.tools,
	})
	if err != nil {
		return StepResult{}, err
	}

	ex.messages = append(ex.messages, reply)

	if len(reply.ToolCalls) > 0 {
		ex.pending = reply.ToolCalls
		d.logger.Debug("execution suspended on tool calls",
			"task_id", ex.taskID,
			"tool_calls", len(reply.ToolCalls),
		)
		return StepResult{ToolCalls: reply.ToolCalls}, nil
	}

	d.logger.Debug("execution finished",
		"task_id", ex.taskID,
		"turns", len(ex.messages),
	)
	return StepResult{Done: true, FinalText: reply.Content}, nil
}

// OnToolResults resumes a suspended execution with the tool-result messages,
// which must arrive in the same order as the pending tool calls so every
// message carries the right tool_call_id.
func (ex *Execution) OnToolResults(results []openai.ChatCompletionMessage) error {
	if len(results) != len(ex.pending) {
		return fmt.Errorf("%w: got %d results for %d calls", ErrResultMismatch, len(results), len(ex.pending))
	}
	for i, res := range results {
		if res.ToolCallID != ex.pending[i].ID {
			return fmt.Errorf("%w: result %d has tool_call_id %q, want %q", ErrResultMismatch, i, res.ToolCallID, ex.pending[i].ID)
		}
	}
	ex.messages = append(ex.messages, results...)
	ex.pending = nil
	return nil
}

// Pending returns the tool calls the execution is suspended on.
func (ex *Execution) Pending() []openai.ToolCall {
	return ex.pending
}

// Conversation returns the accumulated message log.
func (ex *Execution) Conversation() []openai.ChatCompletionMessage {
	return ex.messages
}
