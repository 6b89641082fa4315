// Package tools defines the shared tool vocabulary: definitions advertised by
// tool servers, in-process tool implementations, the error taxonomy surfaced
// to the model, and argument validation against a definition's input schema.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// ToolSchema is the object schema for a tool's arguments.
type ToolSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ObjectSchema builds a ToolSchema of type object.
func ObjectSchema(props map[string]Property, required ...string) ToolSchema {
	if props == nil {
		props = map[string]Property{}
	}
	return ToolSchema{Type: "object", Properties: props, Required: required}
}

// Raw renders the schema as JSON.
func (s ToolSchema) Raw() json.RawMessage {
	if s.Type == "" {
		s.Type = "object"
	}
	if s.Properties == nil {
		s.Properties = map[string]Property{}
	}
	data, _ := json.Marshal(s)
	return data
}

// ToolDefinition is what a server advertises for one tool. Definitions are
// treated as immutable once discovered.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Parameter is a flattened view of one named argument.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Parameters flattens the top-level properties of the input schema,
// required parameters first, each group sorted by name.
func (d ToolDefinition) Parameters() []Parameter {
	if len(d.InputSchema) == 0 {
		return nil
	}
	var schema struct {
		Properties map[string]struct {
			Type        any    `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
		return nil
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	params := make([]Parameter, 0, len(schema.Properties))
	for name, prop := range schema.Properties {
		params = append(params, Parameter{
			Name:        name,
			Type:        typeName(prop.Type),
			Description: prop.Description,
			Required:    required[name],
		})
	}
	sort.Slice(params, func(i, j int) bool {
		if params[i].Required != params[j].Required {
			return params[i].Required
		}
		return params[i].Name < params[j].Name
	})
	return params
}

func typeName(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "|")
	default:
		return "any"
	}
}

// ExecuteFunc is the signature for tool execution.
// Returns the result string and any error.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is an in-process tool implementation.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does.
	Description string

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Definition returns the advertised form of the tool.
func (t *Tool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.Schema.Raw(),
	}
}

// Execution wraps the result of tool execution with metadata.
type Execution struct {
	ToolName string
	Output   string
	Err      error
	Duration time.Duration
}

// Success returns true if the tool executed without error.
func (e *Execution) Success() bool {
	return e.Err == nil
}
