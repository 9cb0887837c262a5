// Package httpapi exposes the task-submission API over HTTP: task
// submission, task snapshots, scheduler statistics, health, and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sworddut/llm-agent-scheduler/internal/sched"
	"github.com/sworddut/llm-agent-scheduler/internal/task"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Host to bind.
	Host string

	// Port to listen on.
	Port int

	// ServiceVersion reported on the root endpoint.
	ServiceVersion string

	// Logger for request/lifecycle events.
	Logger *slog.Logger
}

// Server is the HTTP façade over the scheduler.
type Server struct {
	scheduler *sched.Scheduler
	config    ServerConfig
	logger    *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates the HTTP façade.
func NewServer(scheduler *sched.Scheduler, config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "httpapi")
	}
	return &Server{
		scheduler: scheduler,
		config:    config,
		logger:    logger,
	}
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /tasks", s.handleSubmitTask)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /stats", s.handleStats)
	return mux
}

// Start begins serving in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server started", "addr", addr)
	return nil
}

// Addr returns the bound address, useful when Port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.httpServer = nil
	s.listener = nil
	return nil
}

// submitTaskRequest is the POST /tasks body.
type submitTaskRequest struct {
	Name           string       `json:"name"`
	Payload        task.Payload `json:"payload"`
	TaskType       string       `json:"task_type"`
	Priority       int          `json:"priority"`
	IsDecomposable bool         `json:"is_decomposable"`
}

// submitTaskResponse is the POST /tasks reply.
type submitTaskResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	typ, ok := task.ParseType(req.TaskType)
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid task type %q", req.TaskType))
		return
	}
	// Decomposable submissions are planning tasks regardless of the label
	// the client used.
	if req.IsDecomposable {
		typ = task.TypePlanning
	}

	t := task.New(req.Name, typ, req.Payload)
	t.Priority = req.Priority

	if err := s.scheduler.Add(t); err != nil {
		if errors.Is(err, sched.ErrNotRunning) {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitTaskResponse{
		TaskID:  t.ID,
		Message: "task accepted",
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok := s.scheduler.Snapshot(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("task %q not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduler.Stats())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"service": "llm-agent-scheduler",
		"version": s.config.ServiceVersion,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}
