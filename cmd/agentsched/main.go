// Package main provides the CLI entry point for the LLM agent scheduler, an
// OS-inspired runtime that decomposes high-level goals into a dependency
// graph of subtasks and drives each subtask as a pausable agent against a
// chat-completions endpoint.
//
// # Basic Usage
//
// Start the server:
//
//	agentsched serve --config agentsched.yaml
//
// # Environment Variables
//
//   - AGENTSCHED_CONFIG: path to the configuration file
//   - OPENAI_API_KEY: API key for the model endpoint
//   - OPENAI_BASE_URL: OpenAI-compatible endpoint base URL
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sworddut/llm-agent-scheduler/internal/agent"
	"github.com/sworddut/llm-agent-scheduler/internal/config"
	"github.com/sworddut/llm-agent-scheduler/internal/httpapi"
	"github.com/sworddut/llm-agent-scheduler/internal/llm"
	"github.com/sworddut/llm-agent-scheduler/internal/observability"
	"github.com/sworddut/llm-agent-scheduler/internal/planner"
	"github.com/sworddut/llm-agent-scheduler/internal/sched"
	"github.com/sworddut/llm-agent-scheduler/internal/tool"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "agentsched",
		Short: "OS-inspired task scheduler for LLM agents",
	}

	var configPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	serve.Flags().StringVarP(&configPath, "config", "c", os.Getenv("AGENTSCHED_CONFIG"), "path to config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentsched %s (commit %s, built %s)\n", version, commit, date)
		},
	}

	root.AddCommand(serve, versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	tracer, shutdownTracer, err := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "agentsched",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	transport, err := llm.NewClient(llm.ClientConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.ModelTimeout(),
		Logger:  logger.With("component", "llm"),
	})
	if err != nil {
		return fmt.Errorf("init llm client: %w", err)
	}

	registry, err := tool.NewRegistry(tool.Builtins()...)
	if err != nil {
		return fmt.Errorf("build tool catalogue: %w", err)
	}

	dispatcher := tool.NewDispatcher(registry, tool.DispatchConfig{
		Concurrency:    cfg.Scheduler.ToolConcurrency,
		PerToolTimeout: cfg.ToolTimeout(),
		Logger:         logger.With("component", "tool-dispatcher"),
		Metrics:        metrics,
	})

	driver := agent.NewDriver(agent.DriverConfig{
		Transport: transport,
		Model:     cfg.LLM.Model,
		Logger:    logger.With("component", "agent-driver"),
	})

	pl := planner.New(planner.Config{
		Transport: transport,
		Model:     cfg.LLM.Model,
		Registry:  registry,
		Logger:    logger.With("component", "planner"),
	})

	scheduler := sched.New(driver, pl, dispatcher, registry, sched.Config{
		MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
		QueueCapacity:      cfg.Scheduler.QueueCapacity,
		Logger:             logger.With("component", "scheduler"),
		Metrics:            metrics,
		Tracer:             tracer,
	})

	server := httpapi.NewServer(scheduler, httpapi.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.HTTPPort,
		ServiceVersion: version,
		Logger:         logger.With("component", "httpapi"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	if err := server.Start(); err != nil {
		return err
	}

	logger.Info("agentsched running",
		"addr", server.Addr(),
		"model", cfg.LLM.Model,
		"tools", registry.Len(),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler shutdown error", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown error", "error", err)
	}
	return nil
}
