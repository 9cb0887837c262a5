package tool

import (
	"encoding/json"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

// Registry is the fixed tool catalogue for one scheduler instance. It is
// built once at construction and never mutated afterwards, which is what
// makes it safe to read from any number of concurrent dispatches.
type Registry struct {
	tools map[string]Tool
	names []string
}

// NewRegistry builds a catalogue from the given tools. Duplicate names are
// rejected: the planner addresses tools by name and a collision would make
// plans ambiguous.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Name()
		if name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", name)
		}
		r.tools[name] = t
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the catalogue's tool names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the catalogue size.
func (r *Registry) Len() int {
	return len(r.tools)
}

// Definitions returns the catalogue as OpenAI-style tool definitions, in
// sorted name order so the model sees a stable catalogue across turns.
func (r *Registry) Definitions() []openai.Tool {
	defs := make([]openai.Tool, 0, len(r.names))
	for _, name := range r.names {
		t := r.tools[name]
		var params map[string]any
		if err := json.Unmarshal(t.Schema(), &params); err != nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: t.Description(),
				Parameters:  params,
			},
		})
	}
	return defs
}

// CatalogueEntry is the planner-facing description of one tool.
type CatalogueEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Catalogue returns the planner-facing view of the registry.
func (r *Registry) Catalogue() []CatalogueEntry {
	entries := make([]CatalogueEntry, 0, len(r.names))
	for _, name := range r.names {
		t := r.tools[name]
		entries = append(entries, CatalogueEntry{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return entries
}
