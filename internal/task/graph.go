package task

import (
	"fmt"
)

// Graph is the registry of every task the scheduler knows about.
//
// Graph methods mutate shared task state and must be called under the
// scheduler's exclusive lock.
type Graph struct {
	tasks map[string]*Task
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{tasks: make(map[string]*Task)}
}

// Add registers a task, rejecting duplicate IDs.
func (g *Graph) Add(t *Task) error {
	if _, exists := g.tasks[t.ID]; exists {
		return fmt.Errorf("duplicate task id %s", t.ID)
	}
	g.tasks[t.ID] = t
	return nil
}

// Get returns a task by ID.
func (g *Graph) Get(id string) (*Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Len returns the number of known tasks.
func (g *Graph) Len() int {
	return len(g.tasks)
}

// Link atomically attaches subtasks to a parent, resolving name-based
// dependency references into direct references and verifying that the new
// sibling set forms a DAG. deps maps each subtask name to the names of the
// siblings it depends on.
//
// On error nothing is registered: the parent keeps no subtasks and the graph
// is unchanged.
func (g *Graph) Link(parent *Task, subtasks []*Task, deps map[string][]string) error {
	byName := make(map[string]*Task, len(subtasks))
	for _, sub := range subtasks {
		if _, dup := byName[sub.Name]; dup {
			return fmt.Errorf("duplicate subtask name %q", sub.Name)
		}
		byName[sub.Name] = sub
	}

	// Resolve names to direct references before touching any shared state.
	resolved := make(map[*Task][]*Task, len(subtasks))
	for _, sub := range subtasks {
		for _, depName := range deps[sub.Name] {
			dep, ok := byName[depName]
			if !ok {
				return fmt.Errorf("subtask %q depends on unknown sibling %q", sub.Name, depName)
			}
			if dep == sub {
				return fmt.Errorf("subtask %q depends on itself", sub.Name)
			}
			resolved[sub] = append(resolved[sub], dep)
		}
	}

	if err := verifyAcyclic(subtasks, resolved); err != nil {
		return err
	}

	for _, sub := range subtasks {
		if err := g.Add(sub); err != nil {
			return err
		}
	}
	for _, sub := range subtasks {
		sub.Parent = parent
		sub.Dependencies = resolved[sub]
		for _, dep := range resolved[sub] {
			sub.waitingDeps[dep] = struct{}{}
		}
		parent.Subtasks = append(parent.Subtasks, sub)
		parent.waitingSubtasks[sub] = struct{}{}
	}
	return nil
}

// verifyAcyclic runs Kahn's algorithm over the sibling dependency edges.
func verifyAcyclic(subtasks []*Task, deps map[*Task][]*Task) error {
	indegree := make(map[*Task]int, len(subtasks))
	dependents := make(map[*Task][]*Task, len(subtasks))
	for _, sub := range subtasks {
		indegree[sub] = len(deps[sub])
		for _, dep := range deps[sub] {
			dependents[dep] = append(dependents[dep], sub)
		}
	}

	var frontier []*Task
	for _, sub := range subtasks {
		if indegree[sub] == 0 {
			frontier = append(frontier, sub)
		}
	}

	visited := 0
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		visited++
		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				frontier = append(frontier, dependent)
			}
		}
	}

	if visited != len(subtasks) {
		return fmt.Errorf("dependency cycle among %d subtasks", len(subtasks)-visited)
	}
	return nil
}

// ResolveDependency removes a finished task from each dependent sibling's
// waiting set and returns the siblings whose waiting set became empty.
// The caller decides whether they are enqueued as ready or failed by
// propagation, based on the finished task's terminal status.
func (g *Graph) ResolveDependency(finished *Task) []*Task {
	if finished.Parent == nil {
		return nil
	}
	var freed []*Task
	for _, sibling := range finished.Parent.Subtasks {
		if _, waiting := sibling.waitingDeps[finished]; !waiting {
			continue
		}
		delete(sibling.waitingDeps, finished)
		if len(sibling.waitingDeps) == 0 {
			freed = append(freed, sibling)
		}
	}
	return freed
}

// Dependents returns the siblings that directly depend on the given task and
// are still waiting on it.
func (g *Graph) Dependents(t *Task) []*Task {
	if t.Parent == nil {
		return nil
	}
	var out []*Task
	for _, sibling := range t.Parent.Subtasks {
		if _, waiting := sibling.waitingDeps[t]; waiting {
			out = append(out, sibling)
		}
	}
	return out
}

// MarkParentProgress removes a finished subtask from its parent's waiting set.
// It returns the parent and true iff the waiting set is now empty, meaning
// the parent is ready to close.
func (g *Graph) MarkParentProgress(finished *Task) (*Task, bool) {
	parent := finished.Parent
	if parent == nil {
		return nil, false
	}
	delete(parent.waitingSubtasks, finished)
	return parent, len(parent.waitingSubtasks) == 0
}

// NonTerminal returns every task whose status is not terminal. Used by the
// shutdown sweep to mark in-flight work preempted.
func (g *Graph) NonTerminal() []*Task {
	var out []*Task
	for _, t := range g.tasks {
		if !t.Status.IsTerminal() {
			out = append(out, t)
		}
	}
	return out
}
