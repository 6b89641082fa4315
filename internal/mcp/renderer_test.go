package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"toolbridge/internal/tools"
)

func TestRenderServerListsParameters(t *testing.T) {
	r := NewToolRenderer()
	out := r.RenderServer(ServerConfig{ID: "s", Name: "Search", Description: "Web search."}, sampleDefs("lookup"))

	assert.Contains(t, out, "## Tools from Search (server id: s)")
	assert.Contains(t, out, "Web search.")
	assert.Contains(t, out, "### lookup\nlookup tool\n")
	assert.Contains(t, out, "- `q` (string, required): query")
	assert.NotContains(t, out, "Schema:")
	assert.NotContains(t, out, "Filesystem access")
}

func TestRenderServerFilesystemGuidance(t *testing.T) {
	r := NewToolRenderer()
	server := ServerConfig{ID: "fs", Type: "filesystem", Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-filesystem", "/srv/data"}}
	out := r.RenderServer(server, tools.FilesystemTools())

	assert.Contains(t, out, "### Filesystem access")
	assert.Contains(t, out, "- /srv/data\n")
	assert.Contains(t, out, `as the separator`)

	empty := r.RenderServer(ServerConfig{ID: "fs", Type: "filesystem"}, nil)
	assert.Contains(t, empty, "No tools available.")
	assert.Contains(t, empty, "every path will be rejected")
}

func TestRenderServerSchemas(t *testing.T) {
	r := NewToolRenderer()
	r.SetIncludeSchemas(true)
	r.SetMaxSchemaLen(20)
	out := r.RenderServer(ServerConfig{ID: "s"}, sampleDefs("lookup"))

	assert.Contains(t, out, "Schema:\n```json\n")
	assert.Contains(t, out, "...(truncated)")
}

func TestRenderToolIndex(t *testing.T) {
	r := NewToolRenderer()
	assert.Empty(t, r.RenderToolIndex(nil))

	out := r.RenderToolIndex(sampleDefs("a", "b"))
	assert.True(t, strings.HasPrefix(out, "You have access to the following tools:\n\n- a: a tool\n- b: b tool\n"))
	assert.Contains(t, out, `"action": "tool_name"`)
	assert.True(t, strings.HasSuffix(out, "Wait for tool results before continuing."))
}
