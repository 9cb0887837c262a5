package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Builtins returns the demo catalogue: a weather lookup, a web search, and a
// point-of-interest search. Real deployments replace these with backends for
// their own services; the shapes here mirror the map/search tools the
// planner prompt is written against.
func Builtins() []Tool {
	return []Tool{
		currentWeatherTool(),
		webSearchTool(),
		findPlacesTool(),
	}
}

type weatherArgs struct {
	Location string `json:"location"`
	Unit     string `json:"unit"`
}

func currentWeatherTool() Tool {
	return &Func{
		ToolName:        "get_current_weather",
		ToolDescription: "Get the current weather for a city.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"location": {"type": "string", "description": "City name, e.g. Guangzhou"},
				"unit": {"type": "string", "enum": ["celsius", "fahrenheit"]}
			},
			"required": ["location"]
		}`),
		Fn: func(_ context.Context, params json.RawMessage) (*Result, error) {
			var args weatherArgs
			if err := json.Unmarshal(params, &args); err != nil {
				return &Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
			}
			if strings.TrimSpace(args.Location) == "" {
				return &Result{Content: "location is required", IsError: true}, nil
			}
			unit := args.Unit
			if unit == "" {
				unit = "celsius"
			}
			payload, err := json.Marshal(map[string]any{
				"location":  args.Location,
				"temp":      30,
				"unit":      unit,
				"condition": "partly cloudy",
			})
			if err != nil {
				return nil, err
			}
			return &Result{Content: string(payload)}, nil
		},
	}
}

type searchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

func webSearchTool() Tool {
	return &Func{
		ToolName:        "web_search",
		ToolDescription: "Search the web and return result snippets. Use concise, localized keywords.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search keywords"},
				"max_results": {"type": "integer", "minimum": 1, "maximum": 10}
			},
			"required": ["query"]
		}`),
		Fn: func(_ context.Context, params json.RawMessage) (*Result, error) {
			var args searchArgs
			if err := json.Unmarshal(params, &args); err != nil {
				return &Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
			}
			if strings.TrimSpace(args.Query) == "" {
				return &Result{Content: "query is required", IsError: true}, nil
			}
			n := args.MaxResults
			if n <= 0 || n > 10 {
				n = 3
			}
			results := make([]map[string]string, 0, n)
			for i := 1; i <= n; i++ {
				results = append(results, map[string]string{
					"title":   fmt.Sprintf("Result %d for %s", i, args.Query),
					"snippet": fmt.Sprintf("Summary %d of search results for %q.", i, args.Query),
				})
			}
			payload, err := json.Marshal(map[string]any{"query": args.Query, "results": results})
			if err != nil {
				return nil, err
			}
			return &Result{Content: string(payload)}, nil
		},
	}
}

type placesArgs struct {
	City    string `json:"city"`
	Keyword string `json:"keyword"`
}

func findPlacesTool() Tool {
	return &Func{
		ToolName:        "find_places",
		ToolDescription: "Find points of interest (restaurants, sights) in a city by keyword.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"city": {"type": "string", "description": "City name"},
				"keyword": {"type": "string", "description": "What to look for, e.g. dim sum"}
			},
			"required": ["city", "keyword"]
		}`),
		Fn: func(_ context.Context, params json.RawMessage) (*Result, error) {
			var args placesArgs
			if err := json.Unmarshal(params, &args); err != nil {
				return &Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
			}
			if strings.TrimSpace(args.City) == "" || strings.TrimSpace(args.Keyword) == "" {
				return &Result{Content: "city and keyword are required", IsError: true}, nil
			}
			payload, err := json.Marshal(map[string]any{
				"city": args.City,
				"places": []map[string]string{
					{"name": fmt.Sprintf("%s spot near the center", args.Keyword), "rating": "4.6"},
					{"name": fmt.Sprintf("Old town %s house", args.Keyword), "rating": "4.4"},
				},
			})
			if err != nil {
				return nil, err
			}
			return &Result{Content: string(payload)}, nil
		},
	}
}
