// Package llm wraps the chat-completions transport the agent driver and the
// planner consume. The wire types are the OpenAI ones from
// github.com/sashabaranov/go-openai; this package only owns client
// construction, timeouts, and error classification.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Request describes a single chat-completion call.
type Request struct {
	// Model overrides the client's default model when non-empty.
	Model string

	// Messages is the full conversation so far.
	Messages []openai.ChatCompletionMessage

	// Tools are the OpenAI-style tool definitions offered to the model.
	Tools []openai.Tool

	// ToolChoice is passed through when non-nil (e.g. "auto").
	ToolChoice any

	// JSONObject requests response_format={"type":"json_object"}. The
	// planner relies on this; tool definitions are omitted when set.
	JSONObject bool
}

// Transport is the chat-completion contract. The returned assistant message
// carries either Content or ToolCalls.
type Transport interface {
	ChatCompletion(ctx context.Context, req Request) (openai.ChatCompletionMessage, error)
}

// ClientConfig configures the OpenAI-compatible client.
type ClientConfig struct {
	// APIKey authenticates against the endpoint. Required.
	APIKey string

	// BaseURL points at an OpenAI-compatible endpoint. Empty means the
	// default OpenAI API.
	BaseURL string

	// Model is the default model name.
	Model string

	// Timeout bounds each call. Defaults to 120 seconds.
	Timeout time.Duration

	// Logger for transport events.
	Logger *slog.Logger
}

// Client is the production Transport over an OpenAI-compatible endpoint.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a chat-completions client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm: default model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "llm")
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Model returns the client's default model name.
func (c *Client) Model() string {
	return c.model
}

// ChatCompletion performs one chat-completion call and returns the assistant
// message. There is no retry here: the driver's failure contract treats a
// transport error as terminal for the owning task.
func (c *Client) ChatCompletion(ctx context.Context, req Request) (openai.ChatCompletionMessage, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: req.Messages,
	}
	if req.JSONObject {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	} else if len(req.Tools) > 0 {
		chatReq.Tools = req.Tools
		if req.ToolChoice != nil {
			chatReq.ToolChoice = req.ToolChoice
		} else {
			chatReq.ToolChoice = "auto"
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(callCtx, chatReq)
	if err != nil {
		c.logger.Error("chat completion failed",
			"model", model,
			"messages", len(req.Messages),
			"retryable", IsRetryable(err),
			"error", err,
		)
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, errors.New("chat completion: response has no choices")
	}

	msg := resp.Choices[0].Message
	c.logger.Debug("chat completion",
		"model", model,
		"messages", len(req.Messages),
		"tool_calls", len(msg.ToolCalls),
		"duration", time.Since(start),
	)
	return msg, nil
}

// IsRetryable classifies transport errors that a future retry policy could
// act on. The current driver contract never retries; this feeds logging and
// metrics only.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return true
	}
	return false
}
