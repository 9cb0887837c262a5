// Package sched implements the OS-inspired scheduler that owns the task
// graph and drives every task to a terminal state.
//
// The control plane is single-threaded-cooperative: one main loop waits on
// the ready queue and the resumption queue, acquires a concurrency slot, and
// launches the work. The work plane is bounded-parallel: up to
// MaxConcurrentTasks planner/agent turns run at once, while tool dispatch
// runs outside the semaphore entirely. A task waiting on tool I/O or on its
// subtasks holds no slot; that suspension is the point of the design.
//
// One exclusive lock guards the graph, the per-task executions, and the
// counters. The lock is never held across a model call or a tool call.
package sched

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sworddut/llm-agent-scheduler/internal/agent"
	"github.com/sworddut/llm-agent-scheduler/internal/observability"
	"github.com/sworddut/llm-agent-scheduler/internal/planner"
	"github.com/sworddut/llm-agent-scheduler/internal/task"
	"github.com/sworddut/llm-agent-scheduler/internal/tool"
)

// ErrNotRunning is returned when a task is submitted to a stopped scheduler.
var ErrNotRunning = errors.New("scheduler is not running")

// ErrQueueFull is returned when the ready queue cannot accept another task.
var ErrQueueFull = errors.New("ready queue is full")

// Config configures the scheduler.
type Config struct {
	// MaxConcurrentTasks caps how many tasks hold a RUNNING slot at once.
	// Defaults to 5.
	MaxConcurrentTasks int

	// QueueCapacity bounds the ready and resumption queues. Defaults to 1024.
	QueueCapacity int

	// Logger for scheduler events.
	Logger *slog.Logger

	// Metrics records scheduler gauges and counters. Optional.
	Metrics *observability.Metrics

	// Tracer wraps task driving in spans. Optional.
	Tracer *observability.Tracer
}

// Scheduler owns the task graph and the admission machinery.
type Scheduler struct {
	driver     *agent.Driver
	planner    *planner.Planner
	dispatcher *tool.Dispatcher
	registry   *tool.Registry
	config     Config
	logger     *slog.Logger

	readyQ  chan *task.Task
	resumeQ chan resumption
	sem     chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc

	// mu guards everything below plus all task mutation.
	mu             sync.Mutex
	running        bool
	graph          *task.Graph
	executions     map[string]*agent.Execution
	completedTasks int
	failedTasks    int
}

// resumption carries a suspended task back to the main loop together with
// its ordered tool results.
type resumption struct {
	task    *task.Task
	results []openai.ChatCompletionMessage
}

// New creates a scheduler wired to the given driver, planner, dispatcher,
// and catalogue.
func New(driver *agent.Driver, pl *planner.Planner, dispatcher *tool.Dispatcher, registry *tool.Registry, config Config) *Scheduler {
	if config.MaxConcurrentTasks <= 0 {
		config.MaxConcurrentTasks = 5
	}
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = 1024
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "scheduler")
	}

	return &Scheduler{
		driver:     driver,
		planner:    pl,
		dispatcher: dispatcher,
		registry:   registry,
		config:     config,
		logger:     logger,
		readyQ:     make(chan *task.Task, config.QueueCapacity),
		resumeQ:    make(chan resumption, config.QueueCapacity),
		sem:        make(chan struct{}, config.MaxConcurrentTasks),
		graph:      task.NewGraph(),
		executions: make(map[string]*agent.Execution),
	}
}

// Start launches the main loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("scheduler already running")
		return
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info("scheduler started",
		"max_concurrent_tasks", s.config.MaxConcurrentTasks,
	)

	s.wg.Add(1)
	go s.mainLoop(ctx)
}

// Stop cancels the main loop and every in-flight driver, waits for them to
// drain (bounded by ctx), and sweeps all non-terminal tasks to PREEMPTED.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopping")
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	for _, t := range s.graph.NonTerminal() {
		t.Preempt()
	}
	s.executions = make(map[string]*agent.Execution)
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
	return nil
}

// Add registers a root task and enqueues it for admission.
func (s *Scheduler) Add(t *task.Task) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if err := s.graph.Add(t); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if s.config.Metrics != nil {
		s.config.Metrics.TasksSubmitted.WithLabelValues(string(t.Type)).Inc()
	}
	s.logger.Info("task added",
		"task_id", t.ID,
		"task_name", t.Name,
		"task_type", t.Type,
	)
	return s.enqueueReady(t)
}

// Snapshot returns the externally visible state of one task.
func (s *Scheduler) Snapshot(id string) (task.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.graph.Get(id)
	if !ok {
		return task.Snapshot{}, false
	}
	return t.Snapshot(), true
}

// Stats is the counter snapshot served on /stats.
type Stats struct {
	IsRunning           bool `json:"is_running"`
	RunningTasks        int  `json:"running_tasks"`
	PendingTasks        int  `json:"pending_tasks"`
	ResumptionQueueSize int  `json:"resumption_queue_size"`
	TotalKnownTasks     int  `json:"total_known_tasks"`
	CompletedTasks      int  `json:"completed_tasks"`
	FailedTasks         int  `json:"failed_tasks"`
	MaxConcurrentTasks  int  `json:"max_concurrent_tasks"`
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		IsRunning:           s.running,
		RunningTasks:        len(s.sem),
		PendingTasks:        len(s.readyQ),
		ResumptionQueueSize: len(s.resumeQ),
		TotalKnownTasks:     s.graph.Len(),
		CompletedTasks:      s.completedTasks,
		FailedTasks:         s.failedTasks,
		MaxConcurrentTasks:  s.config.MaxConcurrentTasks,
	}
}

// enqueueReady places a task on the ready queue without blocking the caller
// indefinitely: a full queue is a submission error, not a deadlock.
func (s *Scheduler) enqueueReady(t *task.Task) error {
	select {
	case s.readyQ <- t:
		s.observeQueues()
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Scheduler) observeQueues() {
	if s.config.Metrics == nil {
		return
	}
	s.config.Metrics.QueueDepth.WithLabelValues("ready").Set(float64(len(s.readyQ)))
	s.config.Metrics.QueueDepth.WithLabelValues("resumption").Set(float64(len(s.resumeQ)))
	s.config.Metrics.RunningTasks.Set(float64(len(s.sem)))
}

// mainLoop is the cooperative control plane: wait for either queue, acquire
// a slot, launch the work concurrently.
func (s *Scheduler) mainLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case t := <-s.readyQ:
			if !s.acquireSlot(ctx) {
				return
			}
			s.wg.Add(1)
			go s.runAdmitted(ctx, t)

		case r := <-s.resumeQ:
			if !s.acquireSlot(ctx) {
				return
			}
			s.wg.Add(1)
			go s.runResumed(ctx, r)
		}
		s.observeQueues()
	}
}

func (s *Scheduler) acquireSlot(ctx context.Context) bool {
	select {
	case s.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) releaseSlot() {
	<-s.sem
	s.observeQueues()
}

// runAdmitted drives a freshly admitted task: decomposition for PLANNING
// tasks, one driver step for leaves.
func (s *Scheduler) runAdmitted(ctx context.Context, t *task.Task) {
	defer s.wg.Done()
	defer s.releaseSlot()

	s.mu.Lock()
	if t.Status != task.StatusQueued {
		// Failed by dependency propagation (or otherwise closed) after it
		// was enqueued; nothing to drive.
		s.mu.Unlock()
		return
	}

	if t.Type == task.TypePlanning {
		t.Start()
		s.mu.Unlock()
		s.decompose(ctx, t)
		return
	}

	if t.Type == task.TypeFinalSummary {
		s.synthesizeSummaryPrompt(t)
	}

	ex, err := s.driver.Begin(t, s.registry.Definitions())
	if err != nil {
		t.Fail(err.Error())
		s.mu.Unlock()
		s.finish(t)
		return
	}
	t.Start()
	s.executions[t.ID] = ex
	s.mu.Unlock()

	s.observeQueues()
	s.step(ctx, t, ex)
}

// runResumed re-enters the driver for a task whose tool results arrived.
func (s *Scheduler) runResumed(ctx context.Context, r resumption) {
	defer s.wg.Done()
	defer s.releaseSlot()

	t := r.task

	s.mu.Lock()
	ex, ok := s.executions[t.ID]
	if !ok || t.Status != task.StatusWaitingForTool {
		s.mu.Unlock()
		return
	}
	if err := ex.OnToolResults(r.results); err != nil {
		t.Fail(err.Error())
		delete(s.executions, t.ID)
		s.mu.Unlock()
		s.finish(t)
		return
	}
	t.Start()
	s.mu.Unlock()

	s.observeQueues()
	s.step(ctx, t, ex)
}

// step issues one model call for the task. The caller holds the concurrency
// slot; when the model asks for tools the task suspends, the slot is
// released on return, and dispatch proceeds outside the semaphore.
func (s *Scheduler) step(ctx context.Context, t *task.Task, ex *agent.Execution) {
	stepCtx, span := s.config.Tracer.Start(ctx, "task.step")
	defer span.End()

	start := time.Now()
	res, err := ex.Step(stepCtx, s.driver)
	s.observeModelCall(start, err)

	if err != nil {
		if ctx.Err() != nil {
			s.mu.Lock()
			t.Preempt()
			delete(s.executions, t.ID)
			s.mu.Unlock()
			return
		}
		observability.RecordError(span, err)
		s.mu.Lock()
		t.Fail(fmt.Sprintf("model call failed: %v", err))
		delete(s.executions, t.ID)
		s.mu.Unlock()
		s.finish(t)
		return
	}

	if res.Done {
		s.mu.Lock()
		t.Complete(res.FinalText)
		delete(s.executions, t.ID)
		s.mu.Unlock()
		s.finish(t)
		return
	}

	s.mu.Lock()
	t.Status = task.StatusWaitingForTool
	s.mu.Unlock()

	s.logger.Debug("task waiting for tools",
		"task_id", t.ID,
		"task_name", t.Name,
		"tool_calls", len(res.ToolCalls),
	)

	s.wg.Add(1)
	go s.dispatchAndResume(ctx, t, res.ToolCalls)
}

func (s *Scheduler) observeModelCall(start time.Time, err error) {
	if s.config.Metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.config.Metrics.ModelRequestDuration.WithLabelValues("default", status).Observe(time.Since(start).Seconds())
}

// dispatchAndResume runs the tool batch outside the semaphore and hands the
// task back through the resumption queue.
func (s *Scheduler) dispatchAndResume(ctx context.Context, t *task.Task, calls []openai.ToolCall) {
	defer s.wg.Done()

	dispatchCtx, span := s.config.Tracer.Start(ctx, "task.dispatch_tools")
	defer span.End()

	results := s.dispatcher.InvokeBatch(dispatchCtx, calls)

	select {
	case s.resumeQ <- resumption{task: t, results: results}:
		s.observeQueues()
	case <-ctx.Done():
		// Shutdown sweep marks the task preempted.
	}
}

// decompose runs the planner for a PLANNING task and expands the plan into
// linked subtasks.
func (s *Scheduler) decompose(ctx context.Context, t *task.Task) {
	planCtx, span := s.config.Tracer.Start(ctx, "task.decompose")
	defer span.End()

	goal := t.Payload.Goal
	if goal == "" {
		goal = t.Payload.Prompt
	}

	plan, err := s.planner.Decompose(planCtx, goal)
	if s.config.Metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.config.Metrics.PlansProduced.WithLabelValues(status).Inc()
	}
	if err != nil {
		if ctx.Err() != nil {
			s.mu.Lock()
			t.Preempt()
			s.mu.Unlock()
			return
		}
		observability.RecordError(span, err)
		s.mu.Lock()
		t.Fail(fmt.Sprintf("decomposition failed: %v", err))
		s.mu.Unlock()
		s.finish(t)
		return
	}

	subtasks := make([]*task.Task, 0, len(plan.Subtasks))
	deps := make(map[string][]string, len(plan.Subtasks))
	invalidType := ""
	for _, sub := range plan.Subtasks {
		typ, ok := task.ParseType(sub.TaskType)
		if !ok || typ == task.TypePlanning {
			invalidType = sub.TaskType
			break
		}
		subtasks = append(subtasks, task.New(sub.Name, typ, sub.Payload))
		deps[sub.Name] = sub.Dependencies
	}

	s.mu.Lock()
	if invalidType != "" {
		t.Fail(fmt.Sprintf("decomposition failed: plan has invalid task type %q", invalidType))
		s.mu.Unlock()
		s.finish(t)
		return
	}
	if err := s.graph.Link(t, subtasks, deps); err != nil {
		t.Fail(fmt.Sprintf("decomposition failed: %v", err))
		s.mu.Unlock()
		s.finish(t)
		return
	}
	t.Status = task.StatusWaitingForSubtasks
	var ready []*task.Task
	for _, sub := range subtasks {
		if sub.Ready() {
			ready = append(ready, sub)
		}
	}
	s.mu.Unlock()

	s.logger.Info("task decomposed",
		"task_id", t.ID,
		"task_name", t.Name,
		"subtasks", len(subtasks),
	)

	for _, sub := range ready {
		if err := s.enqueueReady(sub); err != nil {
			s.logger.Error("failed to enqueue subtask",
				"task_id", sub.ID,
				"error", err,
			)
		}
	}
}

// synthesizeSummaryPrompt overwrites a FINAL_SUMMARY task's prompt with the
// root goal followed by every completed dependency's result, JSON-encoded.
// Called under the scheduler lock at admission time, when all dependencies
// are terminal and their results stable.
func (s *Scheduler) synthesizeSummaryPrompt(t *task.Task) {
	var b strings.Builder

	goal := ""
	if t.Parent != nil {
		goal = t.Parent.Payload.Goal
		if goal == "" {
			goal = t.Parent.Payload.Prompt
		}
	}
	if goal != "" {
		b.WriteString("Original goal: ")
		b.WriteString(goal)
		b.WriteString("\n\n")
	}
	b.WriteString("Synthesize a final answer from the results below.\n")
	for _, dep := range t.Dependencies {
		if dep.Status != task.StatusCompleted {
			continue
		}
		encoded, err := json.Marshal(dep.Result)
		if err != nil {
			encoded = []byte(`""`)
		}
		fmt.Fprintf(&b, "- Result from %s: %s\n", dep.Name, encoded)
	}

	t.Payload = task.Payload{Prompt: b.String()}
}

// finish resolves the consequences of a terminal transition: freeing
// dependent siblings, propagating failures, and closing parents whose last
// subtask just finished. The worklist keeps the resolution iterative so a
// deep plan cannot grow the stack, and newly ready tasks are enqueued only
// after the lock is released.
func (s *Scheduler) finish(t *task.Task) {
	var toEnqueue []*task.Task

	s.mu.Lock()
	worklist := []*task.Task{t}
	processed := make(map[*task.Task]struct{})

	for len(worklist) > 0 {
		cur := worklist[0]
		worklist = worklist[1:]
		if _, done := processed[cur]; done {
			continue
		}
		processed[cur] = struct{}{}

		switch cur.Status {
		case task.StatusCompleted:
			s.completedTasks++
		case task.StatusFailed:
			s.failedTasks++
		default:
			continue
		}
		if s.config.Metrics != nil {
			s.config.Metrics.TasksFinished.WithLabelValues(string(cur.Type), string(cur.Status)).Inc()
		}
		delete(s.executions, cur.ID)

		s.logger.Info("task finished",
			"task_id", cur.ID,
			"task_name", cur.Name,
			"status", cur.Status,
			"wait_time", cur.WaitTime(),
			"execution_time", cur.ExecutionTime(),
		)

		if cur.Status == task.StatusFailed {
			// A failed dependency fails every waiting dependent outright;
			// they are never admitted.
			for _, dep := range s.graph.Dependents(cur) {
				if dep.Status == task.StatusQueued {
					dep.Fail(fmt.Sprintf("dependency %q failed: %s", cur.Name, cur.Result))
					worklist = append(worklist, dep)
				}
			}
		} else {
			for _, sibling := range s.graph.ResolveDependency(cur) {
				if sibling.Status == task.StatusQueued {
					toEnqueue = append(toEnqueue, sibling)
				}
			}
		}

		parent, allDone := s.graph.MarkParentProgress(cur)
		if allDone && parent != nil && parent.Status == task.StatusWaitingForSubtasks {
			s.closeParent(parent)
			worklist = append(worklist, parent)
		}
	}
	s.mu.Unlock()

	for _, ready := range toEnqueue {
		if err := s.enqueueReady(ready); err != nil {
			s.logger.Error("failed to enqueue ready task",
				"task_id", ready.ID,
				"error", err,
			)
		}
	}
}

// closeParent finishes a parent whose subtasks are all terminal. Called
// under the scheduler lock.
func (s *Scheduler) closeParent(parent *task.Task) {
	anyFailed := false
	var summary *task.Task
	for _, sub := range parent.Subtasks {
		if sub.Status == task.StatusFailed {
			anyFailed = true
		}
		if sub.Type == task.TypeFinalSummary {
			summary = sub
		}
	}

	if anyFailed {
		parent.Fail("one or more subtasks failed")
		return
	}
	if summary != nil {
		parent.Complete(summary.Result)
		return
	}

	// No designated summary subtask: aggregate the leaf results.
	var b strings.Builder
	for i, sub := range parent.Subtasks {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", sub.Name, sub.Result)
	}
	parent.Complete(b.String())
}
