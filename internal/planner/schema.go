package planner

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// planSchema is the wire contract for planner output. Shape checks live
// here; the semantic rules (exactly one final_summary, acyclic dependencies)
// are enforced after decoding.
const planSchema = `{
	"type": "object",
	"required": ["subtasks"],
	"properties": {
		"subtasks": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name", "task_type", "payload"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"task_type": {"enum": ["tool_call", "final_summary", "reasoning"]},
					"payload": {
						"type": "object",
						"properties": {
							"tool_name": {"type": "string"},
							"parameters": {"type": "object"},
							"prompt": {"type": "string"}
						}
					},
					"dependencies": {
						"type": "array",
						"items": {"type": "string"}
					}
				}
			}
		}
	}
}`

var (
	compileSchemaOnce sync.Once
	compiledSchema    *jsonschema.Schema
	compileSchemaErr  error
)

// compiledPlanSchema compiles the plan schema once per process.
func compiledPlanSchema() (*jsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		compiledSchema, compileSchemaErr = jsonschema.CompileString("plan.schema.json", planSchema)
	})
	if compileSchemaErr != nil {
		return nil, fmt.Errorf("compile plan schema: %w", compileSchemaErr)
	}
	return compiledSchema, nil
}
