package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"toolbridge/internal/tools"
)

// callingConvention tells the model how to request a tool in plain text.
const callingConvention = `When you need to use a tool, respond with a JSON object in this format inside a code block:

` + "```json" + `
{
  "action": "tool_name",
  "params": {
    "param1": "value1"
  }
}
` + "```" + `

Always wrap the JSON in a code block with ` + "```json" + ` and ` + "```" + ` markers.
Use tools directly when they are appropriate for the task.
Wait for tool results before continuing.`

// ToolRenderer renders server tool sets into model-readable markdown.
type ToolRenderer struct {
	includeSchemas bool
	maxSchemaLen   int
}

// NewToolRenderer creates a new tool renderer.
func NewToolRenderer() *ToolRenderer {
	return &ToolRenderer{
		includeSchemas: false,
		maxSchemaLen:   500,
	}
}

// SetIncludeSchemas sets whether raw JSON schemas follow the parameter list.
func (r *ToolRenderer) SetIncludeSchemas(include bool) {
	r.includeSchemas = include
}

// SetMaxSchemaLen sets the maximum length for JSON schemas.
func (r *ToolRenderer) SetMaxSchemaLen(maxLen int) {
	r.maxSchemaLen = maxLen
}

// RenderServer describes one server's tools, with domain guidance for
// filesystem servers.
func (r *ToolRenderer) RenderServer(server ServerConfig, defs []tools.ToolDefinition) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## Tools from %s (server id: %s)\n\n", server.DisplayName(), server.ID)
	if server.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", server.Description)
	}
	if len(defs) == 0 {
		sb.WriteString("No tools available.\n\n")
	}
	for _, def := range defs {
		r.renderTool(&sb, def)
	}

	if dirs := server.AllowedDirectories(); server.Type == "filesystem" || len(dirs) > 0 {
		sb.WriteString("### Filesystem access\n\n")
		if len(dirs) == 0 {
			sb.WriteString("No directories are configured; every path will be rejected.\n")
		} else {
			sb.WriteString("Only these directories (and everything below them) are accessible:\n")
			for _, d := range dirs {
				fmt.Fprintf(&sb, "- %s\n", d)
			}
		}
		fmt.Fprintf(&sb, "\nUse absolute paths with %q as the separator. Paths outside the directories above are rejected with an access denied error.\n\n",
			string(os.PathSeparator))
	}
	return sb.String()
}

func (r *ToolRenderer) renderTool(sb *strings.Builder, def tools.ToolDefinition) {
	fmt.Fprintf(sb, "### %s\n", def.Name)
	if def.Description != "" {
		fmt.Fprintf(sb, "%s\n", def.Description)
	}

	if params := def.Parameters(); len(params) > 0 {
		sb.WriteString("\nParameters:\n")
		for _, p := range params {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(sb, "- `%s` (%s, %s)", p.Name, p.Type, req)
			if p.Description != "" {
				fmt.Fprintf(sb, ": %s", p.Description)
			}
			sb.WriteString("\n")
		}
	}

	if r.includeSchemas && len(def.InputSchema) > 0 {
		if schema := r.formatSchema(def.InputSchema); schema != "" {
			fmt.Fprintf(sb, "\nSchema:\n```json\n%s\n```\n", schema)
		}
	}
	sb.WriteString("\n")
}

// formatSchema pretty-prints a JSON schema, truncating long ones.
func (r *ToolRenderer) formatSchema(raw json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	result := string(formatted)
	if r.maxSchemaLen > 0 && len(result) > r.maxSchemaLen {
		result = result[:r.maxSchemaLen] + "\n  ...(truncated)"
	}
	return result
}

// RenderToolIndex lists every tool as "- name: description" followed by
// the text calling convention.
func (r *ToolRenderer) RenderToolIndex(defs []tools.ToolDefinition) string {
	if len(defs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("You have access to the following tools:\n\n")
	for _, def := range defs {
		fmt.Fprintf(&sb, "- %s: %s\n", def.Name, def.Description)
	}
	sb.WriteString("\n")
	sb.WriteString(callingConvention)
	return sb.String()
}
