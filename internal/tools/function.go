package tools

import "encoding/json"

// FunctionTool is the function-calling form of a definition accepted by
// OpenAI-compatible chat APIs (including Ollama).
type FunctionTool struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec describes one callable function.
type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// AsFunctionTools converts definitions into function-calling form.
func AsFunctionTools(defs []ToolDefinition) []FunctionTool {
	out := make([]FunctionTool, 0, len(defs))
	for _, def := range defs {
		params := def.InputSchema
		if len(params) == 0 {
			params = ObjectSchema(nil).Raw()
		}
		out = append(out, FunctionTool{
			Type: "function",
			Function: FunctionSpec{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
