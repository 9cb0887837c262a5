package task

import (
	"testing"
	"time"
)

func TestParseType(t *testing.T) {
	valid := []string{"planning", "tool_call", "final_summary", "reasoning"}
	for _, s := range valid {
		typ, ok := ParseType(s)
		if !ok {
			t.Errorf("ParseType(%q) not ok", s)
		}
		if string(typ) != s {
			t.Errorf("ParseType(%q) = %q", s, typ)
		}
	}

	if _, ok := ParseType("function_call"); ok {
		t.Error("ParseType should reject unknown types")
	}
	if _, ok := ParseType(""); ok {
		t.Error("ParseType should reject empty string")
	}
}

func TestNewTask(t *testing.T) {
	tk := New("fetch_weather", TypeToolCall, Payload{ToolName: "get_current_weather"})

	if tk.ID == "" {
		t.Error("ID should be assigned at construction")
	}
	if tk.Status != StatusQueued {
		t.Errorf("Status = %q, want %q", tk.Status, StatusQueued)
	}
	if tk.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if !tk.Ready() {
		t.Error("task with no dependencies should be ready")
	}

	other := New("fetch_weather", TypeToolCall, Payload{ToolName: "get_current_weather"})
	if other.ID == tk.ID {
		t.Error("IDs should be unique")
	}
}

func TestStatusTerminality(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%q should be terminal", s)
		}
	}
	nonTerminal := []Status{StatusQueued, StatusRunning, StatusWaitingForTool, StatusWaitingForSubtasks, StatusPreempted}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%q should not be terminal", s)
		}
	}
}

func TestCompleteIsWriteOnce(t *testing.T) {
	tk := New("t", TypeReasoning, Payload{Prompt: "hi"})
	tk.Start()
	tk.Complete("first")

	tk.Complete("second")
	tk.Fail("boom")

	if tk.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", tk.Status, StatusCompleted)
	}
	if tk.Result != "first" {
		t.Errorf("Result = %q, want %q", tk.Result, "first")
	}
}

func TestFailIsWriteOnce(t *testing.T) {
	tk := New("t", TypeReasoning, Payload{Prompt: "hi"})
	tk.Start()
	tk.Fail("boom")

	tk.Complete("late result")

	if tk.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", tk.Status, StatusFailed)
	}
	if tk.Result != "boom" {
		t.Errorf("Result = %q, want %q", tk.Result, "boom")
	}
}

func TestPreemptLeavesTerminalAlone(t *testing.T) {
	tk := New("t", TypeReasoning, Payload{Prompt: "hi"})
	tk.Start()
	tk.Complete("done")
	tk.Preempt()
	if tk.Status != StatusCompleted {
		t.Errorf("Preempt overwrote terminal status: %q", tk.Status)
	}

	running := New("t2", TypeReasoning, Payload{Prompt: "hi"})
	running.Start()
	running.Preempt()
	if running.Status != StatusPreempted {
		t.Errorf("Status = %q, want %q", running.Status, StatusPreempted)
	}
}

func TestStartIsIdempotentForStartedAt(t *testing.T) {
	tk := New("t", TypeReasoning, Payload{Prompt: "hi"})
	tk.Start()
	first := tk.StartedAt

	time.Sleep(5 * time.Millisecond)
	tk.Start()

	if !tk.StartedAt.Equal(first) {
		t.Error("Start should not clobber StartedAt on resumption")
	}
}

func TestTimings(t *testing.T) {
	tk := New("t", TypeReasoning, Payload{Prompt: "hi"})
	if tk.WaitTime() != 0 {
		t.Error("WaitTime should be zero before start")
	}
	if tk.ExecutionTime() != 0 {
		t.Error("ExecutionTime should be zero before completion")
	}

	time.Sleep(5 * time.Millisecond)
	tk.Start()
	if tk.WaitTime() <= 0 {
		t.Error("WaitTime should be positive after start")
	}

	time.Sleep(5 * time.Millisecond)
	tk.Complete("done")
	if tk.ExecutionTime() <= 0 {
		t.Error("ExecutionTime should be positive after completion")
	}
}

func TestPayloadIsZero(t *testing.T) {
	if !(Payload{}).IsZero() {
		t.Error("empty payload should be zero")
	}
	if (Payload{Prompt: "x"}).IsZero() {
		t.Error("prompt payload should not be zero")
	}
	if (Payload{ToolName: "x"}).IsZero() {
		t.Error("tool payload should not be zero")
	}
	if (Payload{Goal: "x"}).IsZero() {
		t.Error("goal payload should not be zero")
	}
}

func TestSnapshot(t *testing.T) {
	parent := New("root", TypePlanning, Payload{Goal: "plan"})
	a := New("a", TypeToolCall, Payload{ToolName: "x"})
	b := New("b", TypeFinalSummary, Payload{})

	g := NewGraph()
	if err := g.Add(parent); err != nil {
		t.Fatal(err)
	}
	if err := g.Link(parent, []*Task{a, b}, map[string][]string{"b": {"a"}}); err != nil {
		t.Fatal(err)
	}

	snap := b.Snapshot()
	if snap.ParentID != parent.ID {
		t.Errorf("ParentID = %q, want %q", snap.ParentID, parent.ID)
	}
	if len(snap.DependencyIDs) != 1 || snap.DependencyIDs[0] != a.ID {
		t.Errorf("DependencyIDs = %v, want [%s]", snap.DependencyIDs, a.ID)
	}

	rootSnap := parent.Snapshot()
	if len(rootSnap.SubtaskIDs) != 2 {
		t.Errorf("SubtaskIDs = %v, want 2 entries", rootSnap.SubtaskIDs)
	}
}
