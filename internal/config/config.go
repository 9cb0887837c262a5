// Package config loads and validates the scheduler configuration from YAML
// or JSON5 files with environment-variable expansion.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	LLM       LLMConfig       `yaml:"llm" json:"llm"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Tracing   TracingConfig   `yaml:"tracing" json:"tracing"`
}

// ServerConfig configures the HTTP façade.
type ServerConfig struct {
	// Host to bind. Defaults to "0.0.0.0".
	Host string `yaml:"host" json:"host"`

	// HTTPPort to listen on. Defaults to 8000.
	HTTPPort int `yaml:"http_port" json:"http_port"`
}

// LLMConfig configures the model transport.
type LLMConfig struct {
	// APIKey for the endpoint. Falls back to OPENAI_API_KEY.
	APIKey string `yaml:"api_key" json:"api_key"`

	// BaseURL of an OpenAI-compatible endpoint. Falls back to
	// OPENAI_BASE_URL; empty means the default OpenAI API.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Model is the default model name. Defaults to "gpt-4o-mini".
	Model string `yaml:"model" json:"model"`

	// TimeoutSeconds bounds each model call. Defaults to 120.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// SchedulerConfig configures admission.
type SchedulerConfig struct {
	// MaxConcurrentTasks caps concurrent RUNNING tasks. Defaults to 5.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks" json:"max_concurrent_tasks"`

	// QueueCapacity bounds the ready and resumption queues. Defaults to 1024.
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`

	// ToolTimeoutSeconds bounds each tool invocation. Defaults to 30.
	ToolTimeoutSeconds int `yaml:"tool_timeout_seconds" json:"tool_timeout_seconds"`

	// ToolConcurrency caps concurrent tool calls within one batch.
	// Defaults to 4.
	ToolConcurrency int `yaml:"tool_concurrency" json:"tool_concurrency"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is debug, info, warn, or error. Defaults to info.
	Level string `yaml:"level" json:"level"`

	// Format is json or text. Defaults to json.
	Format string `yaml:"format" json:"format"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	// Endpoint is the OTLP/gRPC collector address. Empty disables export.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// SamplingRate is the recorded trace fraction, 0..1. Defaults to 1.
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `yaml:"insecure" json:"insecure"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			HTTPPort: 8000,
		},
		LLM: LLMConfig{
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 120,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentTasks: 5,
			QueueCapacity:      1024,
			ToolTimeoutSeconds: 30,
			ToolConcurrency:    4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
		},
	}
}

// applyDefaults fills zero values and environment fallbacks.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = def.Server.HTTPPort
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if c.LLM.Model == "" {
		c.LLM.Model = def.LLM.Model
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = def.LLM.TimeoutSeconds
	}
	if c.Scheduler.MaxConcurrentTasks == 0 {
		c.Scheduler.MaxConcurrentTasks = def.Scheduler.MaxConcurrentTasks
	}
	if c.Scheduler.QueueCapacity == 0 {
		c.Scheduler.QueueCapacity = def.Scheduler.QueueCapacity
	}
	if c.Scheduler.ToolTimeoutSeconds == 0 {
		c.Scheduler.ToolTimeoutSeconds = def.Scheduler.ToolTimeoutSeconds
	}
	if c.Scheduler.ToolConcurrency == 0 {
		c.Scheduler.ToolConcurrency = def.Scheduler.ToolConcurrency
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = def.Tracing.SamplingRate
	}
}

// Validate checks the configuration for the serve command.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (or set OPENAI_API_KEY)")
	}
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort)
	}
	if c.Scheduler.MaxConcurrentTasks < 1 {
		return fmt.Errorf("scheduler.max_concurrent_tasks must be at least 1")
	}
	return nil
}

// ModelTimeout returns the model-call timeout as a duration.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// ToolTimeout returns the tool-invocation timeout as a duration.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Scheduler.ToolTimeoutSeconds) * time.Second
}
