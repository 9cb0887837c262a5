// Package tool implements the tool catalogue and the dispatcher that turns
// model-emitted tool calls into actual invocations.
//
// The dispatcher's contract is strict: it never returns a Go error to the
// caller. Unknown tools, malformed arguments, tool failures, and panics all
// come back as a well-formed tool-result message whose content is an
// {"error": …} object, so the agent coroutine can always be resumed and the
// model decides how to react.
package tool

import (
	"context"
	"encoding/json"
)

// Tool is a single callable entry in the catalogue.
type Tool interface {
	// Name returns the tool name for model function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of what the tool
	// does. This helps the model decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters and returns the
	// tool output or an error.
	Execute(ctx context.Context, params json.RawMessage) (*Result, error)
}

// Result is the output of a tool execution.
type Result struct {
	// Content is the tool output, JSON-encoded when structured.
	Content string

	// IsError signals that Content describes a failure.
	IsError bool
}

// Func adapts a plain function into a Tool. Used by the builtin catalogue
// and by tests.
type Func struct {
	ToolName        string
	ToolDescription string
	ToolSchema      json.RawMessage
	Fn              func(ctx context.Context, params json.RawMessage) (*Result, error)
}

// Name implements Tool.
func (f *Func) Name() string { return f.ToolName }

// Description implements Tool.
func (f *Func) Description() string { return f.ToolDescription }

// Schema implements Tool.
func (f *Func) Schema() json.RawMessage { return f.ToolSchema }

// Execute implements Tool.
func (f *Func) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	return f.Fn(ctx, params)
}
