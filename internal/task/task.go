// Package task defines the in-memory execution graph for agent tasks.
//
// A Task is a node of work with a type, a payload, and a terminal result.
// Tasks form a DAG: a parent PLANNING task owns the subtasks it spawned, and
// subtasks may depend on siblings. The Graph tracks every known task and
// answers the two questions the scheduler asks on every terminal transition:
// which siblings just became ready, and is the parent done.
//
// Nothing in this package is self-synchronizing. All mutation happens under
// the scheduler's exclusive lock; see the sched package.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	// StatusQueued indicates the task is waiting for admission.
	StatusQueued Status = "queued"

	// StatusRunning indicates the task holds a concurrency slot and is
	// being driven against the model (or the planner).
	StatusRunning Status = "running"

	// StatusWaitingForTool indicates the task yielded a tool-call batch and
	// released its slot while the dispatcher runs the tools.
	StatusWaitingForTool Status = "waiting_for_tool"

	// StatusWaitingForSubtasks indicates a PLANNING task whose plan has been
	// expanded and which is waiting for every subtask to reach a terminal
	// state.
	StatusWaitingForSubtasks Status = "waiting_for_subtasks"

	// StatusCompleted is terminal: the task produced a result.
	StatusCompleted Status = "completed"

	// StatusFailed is terminal: the task produced an error.
	StatusFailed Status = "failed"

	// StatusPreempted indicates the scheduler shut down while the task was
	// in flight. Not terminal; a future revision may resume preempted tasks.
	StatusPreempted Status = "preempted"
)

// IsTerminal reports whether the status is COMPLETED or FAILED.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Type categorizes what driving a task means.
type Type string

const (
	// TypePlanning tasks are decomposed into subtasks before anything runs.
	TypePlanning Type = "planning"

	// TypeToolCall leaves drive the model with a payload naming one tool
	// and its arguments.
	TypeToolCall Type = "tool_call"

	// TypeFinalSummary leaves synthesize the answer from sibling results.
	// Their prompt is assembled by the scheduler at admission time.
	TypeFinalSummary Type = "final_summary"

	// TypeReasoning leaves drive the model with a free-form prompt and may
	// or may not call tools along the way.
	TypeReasoning Type = "reasoning"
)

// ParseType converts a wire string into a Type.
func ParseType(s string) (Type, bool) {
	switch Type(s) {
	case TypePlanning, TypeToolCall, TypeFinalSummary, TypeReasoning:
		return Type(s), true
	default:
		return "", false
	}
}

// Payload is the structured input of a task. Exactly one of the three shapes
// is expected for a leaf: messages, prompt, or tool_name+parameters. PLANNING
// tasks carry the goal instead.
type Payload struct {
	// Messages is a verbatim conversation to continue.
	Messages []openai.ChatCompletionMessage `json:"messages,omitempty"`

	// Prompt is wrapped as a single user turn.
	Prompt string `json:"prompt,omitempty"`

	// Goal is the high-level objective of a PLANNING task.
	Goal string `json:"goal,omitempty"`

	// ToolName names the single tool a TOOL_CALL leaf must invoke.
	ToolName string `json:"tool_name,omitempty"`

	// Parameters holds the arguments for ToolName.
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// IsZero reports whether the payload carries none of the recognized shapes.
func (p Payload) IsZero() bool {
	return len(p.Messages) == 0 && p.Prompt == "" && p.Goal == "" && p.ToolName == ""
}

// Task is a node in the execution graph.
//
// Task fields are mutated only by the scheduler under its lock. Once a task
// reaches a terminal status, neither Status nor Result changes again; the
// transition helpers below enforce that.
type Task struct {
	// ID is an opaque unique identifier assigned at construction.
	ID string

	// Name is the caller-supplied name. Among siblings of one parent it must
	// be unique, because the planner expresses dependency edges by name.
	Name string

	// Type determines how the scheduler drives the task.
	Type Type

	// Payload is the structured input.
	Payload Payload

	// Priority is accepted on submission and recorded, but admission is
	// strictly FIFO; see DESIGN.md.
	Priority int

	// Status is the lifecycle state; see the transition table in sched.
	Status Status

	// Result is the terminal output: the model's final text, tool output,
	// a synthesized summary, or an error description on failure. Written
	// exactly once, on the terminal transition.
	Result string

	// Parent is the task that spawned this one, nil for roots.
	Parent *Task

	// Dependencies are the sibling tasks whose completion must precede this
	// task becoming ready. Resolved to direct references by Graph.Link.
	Dependencies []*Task

	// Subtasks are the tasks this task spawned via decomposition.
	Subtasks []*Task

	// waitingDeps is the not-yet-terminal subset of Dependencies.
	waitingDeps map[*Task]struct{}

	// waitingSubtasks is the not-yet-terminal subset of Subtasks.
	waitingSubtasks map[*Task]struct{}

	// CreatedAt is when the task was constructed.
	CreatedAt time.Time

	// StartedAt is when the task was first admitted (zero until then).
	StartedAt time.Time

	// CompletedAt is when the task reached a terminal status.
	CompletedAt time.Time
}

// New constructs a queued task with a fresh ID.
func New(name string, typ Type, payload Payload) *Task {
	return &Task{
		ID:              uuid.NewString(),
		Name:            name,
		Type:            typ,
		Payload:         payload,
		Status:          StatusQueued,
		waitingDeps:     make(map[*Task]struct{}),
		waitingSubtasks: make(map[*Task]struct{}),
		CreatedAt:       time.Now(),
	}
}

// Ready reports whether the task is queued with no outstanding dependencies.
func (t *Task) Ready() bool {
	return t.Status == StatusQueued && len(t.waitingDeps) == 0
}

// Start records admission. It is a no-op after the first call so resumption
// does not clobber StartedAt.
func (t *Task) Start() {
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	t.Status = StatusRunning
}

// Complete transitions the task to COMPLETED with the given result. It is a
// no-op if the task is already terminal.
func (t *Task) Complete(result string) {
	if t.Status.IsTerminal() {
		return
	}
	t.Status = StatusCompleted
	t.Result = result
	t.CompletedAt = time.Now()
}

// Fail transitions the task to FAILED with a human-readable error. It is a
// no-op if the task is already terminal.
func (t *Task) Fail(errMsg string) {
	if t.Status.IsTerminal() {
		return
	}
	t.Status = StatusFailed
	t.Result = errMsg
	t.CompletedAt = time.Now()
}

// Preempt marks the task as preempted by shutdown. Terminal tasks are left
// alone.
func (t *Task) Preempt() {
	if t.Status.IsTerminal() {
		return
	}
	t.Status = StatusPreempted
}

// WaitTime is how long the task sat between creation and admission. Zero
// until the task has started.
func (t *Task) WaitTime() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	return t.StartedAt.Sub(t.CreatedAt)
}

// ExecutionTime is how long the task spent between admission and its terminal
// transition. Zero until the task is terminal.
func (t *Task) ExecutionTime() time.Duration {
	if t.StartedAt.IsZero() || t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// Snapshot is a read-only copy of a task's externally visible state, taken
// under the scheduler lock and safe to serialize after the lock is released.
type Snapshot struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Type          Type      `json:"task_type"`
	Status        Status    `json:"status"`
	Payload       Payload   `json:"payload"`
	Result        string    `json:"result,omitempty"`
	Priority      int       `json:"priority"`
	ParentID      string    `json:"parent_id,omitempty"`
	DependencyIDs []string  `json:"dependency_ids,omitempty"`
	SubtaskIDs    []string  `json:"subtask_ids,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	CompletedAt   time.Time `json:"completed_at,omitzero"`
	WaitSeconds   float64   `json:"wait_time_seconds"`
	ExecSeconds   float64   `json:"execution_time_seconds"`
}

// Snapshot captures the task's current state.
func (t *Task) Snapshot() Snapshot {
	snap := Snapshot{
		ID:          t.ID,
		Name:        t.Name,
		Type:        t.Type,
		Status:      t.Status,
		Payload:     t.Payload,
		Result:      t.Result,
		Priority:    t.Priority,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		WaitSeconds: t.WaitTime().Seconds(),
		ExecSeconds: t.ExecutionTime().Seconds(),
	}
	if t.Parent != nil {
		snap.ParentID = t.Parent.ID
	}
	for _, dep := range t.Dependencies {
		snap.DependencyIDs = append(snap.DependencyIDs, dep.ID)
	}
	for _, sub := range t.Subtasks {
		snap.SubtaskIDs = append(snap.SubtaskIDs, sub.ID)
	}
	return snap
}
