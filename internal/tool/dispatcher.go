package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sworddut/llm-agent-scheduler/internal/observability"
)

// Parameter limits guarding against resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool arguments JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// DispatchConfig configures tool dispatch behavior.
type DispatchConfig struct {
	// Concurrency is the maximum number of tool calls from one batch
	// executed at once. Default: 4.
	Concurrency int

	// PerToolTimeout bounds each individual invocation. Default: 30s.
	PerToolTimeout time.Duration

	// Logger for dispatch events.
	Logger *slog.Logger

	// Metrics records dispatch counters and latencies. Optional.
	Metrics *observability.Metrics
}

// Dispatcher translates model-emitted tool calls into invocations against
// the registry. It is stateless apart from the catalogue and safe for use
// from many work contexts at once.
type Dispatcher struct {
	registry *Registry
	config   DispatchConfig
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given catalogue.
func NewDispatcher(registry *Registry, config DispatchConfig) *Dispatcher {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "tool-dispatcher")
	}
	return &Dispatcher{
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// Invoke runs one tool call and returns the tool-result message. It never
// returns a Go error: every failure mode is encoded as {"error": …} content
// so the owning conversation stays resumable.
func (d *Dispatcher) Invoke(ctx context.Context, call openai.ToolCall) openai.ChatCompletionMessage {
	start := time.Now()
	content, isErr := d.invoke(ctx, call)

	if d.config.Metrics != nil {
		status := "success"
		if isErr {
			status = "error"
		}
		d.config.Metrics.ToolDispatchCounter.WithLabelValues(call.Function.Name, status).Inc()
		d.config.Metrics.ToolDispatchDuration.WithLabelValues(call.Function.Name).Observe(time.Since(start).Seconds())
	}

	if isErr {
		d.logger.Warn("tool dispatch failed",
			"tool", call.Function.Name,
			"tool_call_id", call.ID,
			"duration", time.Since(start),
		)
	} else {
		d.logger.Debug("tool dispatched",
			"tool", call.Function.Name,
			"tool_call_id", call.ID,
			"duration", time.Since(start),
		)
	}

	return openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		Name:       call.Function.Name,
		ToolCallID: call.ID,
		Content:    content,
	}
}

// invoke returns the result content and whether it represents an error.
func (d *Dispatcher) invoke(ctx context.Context, call openai.ToolCall) (content string, isErr bool) {
	name := call.Function.Name
	if len(name) > MaxToolNameLength {
		return errorContent(fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength)), true
	}
	if len(call.Function.Arguments) > MaxToolParamsSize {
		return errorContent(fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolParamsSize)), true
	}

	t, ok := d.registry.Get(name)
	if !ok {
		return errorContent("tool not found: " + name), true
	}

	args := json.RawMessage(call.Function.Arguments)
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if !json.Valid(args) {
		return errorContent("tool arguments are not valid JSON"), true
	}

	toolCtx, cancel := context.WithTimeout(ctx, d.config.PerToolTimeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	// Buffered so a tool finishing after the deadline does not leak its
	// goroutine; a late result is simply discarded.
	done := make(chan outcome, 1)
	go func() {
		result, err := executeSafely(toolCtx, t, args)
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case <-toolCtx.Done():
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
			return errorContent(fmt.Sprintf("tool execution timed out after %v", d.config.PerToolTimeout)), true
		}
		return errorContent("tool dispatch canceled"), true
	case out = <-done:
	}

	switch {
	case out.err != nil:
		return errorContent(out.err.Error()), true
	case out.result == nil:
		return errorContent("tool returned no result"), true
	case out.result.IsError:
		return errorContent(out.result.Content), true
	default:
		return out.result.Content, false
	}
}

// executeSafely runs a tool with panic recovery so a misbehaving tool cannot
// crash the process.
func executeSafely(ctx context.Context, t Tool, args json.RawMessage) (result *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("tool %q panic: %v", t.Name(), p)
		}
	}()
	return t.Execute(ctx, args)
}

// errorContent encodes a failure description into the in-band error shape.
func errorContent(description string) string {
	payload, err := json.Marshal(map[string]string{"error": description})
	if err != nil {
		return `{"error":"tool dispatch failed"}`
	}
	return string(payload)
}

// InvokeBatch dispatches a batch of tool calls concurrently and returns the
// tool-result messages in the same order as the requests, so each message
// lands next to the tool_call_id the model emitted.
func (d *Dispatcher) InvokeBatch(ctx context.Context, calls []openai.ToolCall) []openai.ChatCompletionMessage {
	if len(calls) == 1 {
		return []openai.ChatCompletionMessage{d.Invoke(ctx, calls[0])}
	}

	results := make([]openai.ChatCompletionMessage, len(calls))
	sem := make(chan struct{}, d.config.Concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc openai.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Name:       tc.Function.Name,
					ToolCallID: tc.ID,
					Content:    errorContent("tool dispatch canceled"),
				}
				return
			}

			results[idx] = d.Invoke(ctx, tc)
		}(i, call)
	}

	wg.Wait()
	return results
}
