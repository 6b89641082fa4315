package config

import (
	"fmt"
	"sort"

	"toolbridge/internal/mcp"
)

// Template describes a well-known tool server.
type Template struct {
	Name        string
	Description string
	Type        string
	Command     string
	Args        []string
	// Fields are the values FromTemplate needs. Env fields become
	// environment variables; the others are appended to the arguments.
	Fields []TemplateField
}

// TemplateField is one value a template needs.
type TemplateField struct {
	Name        string
	Description string
	Required    bool
	Env         bool
}

var templates = map[string]Template{
	"filesystem": {
		Name:        "Filesystem",
		Description: "Access and manipulate files in a directory",
		Type:        "filesystem",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-filesystem@latest"},
		Fields:      []TemplateField{{Name: "path", Description: "Path to the directory to expose", Required: true}},
	},
	"brave-search": {
		Name:        "Brave Search",
		Description: "Search the web using Brave Search API",
		Type:        "brave-search",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-brave-search@latest"},
		Fields:      []TemplateField{{Name: "BRAVE_API_KEY", Description: "Brave Search API Key", Required: true, Env: true}},
	},
	"github": {
		Name:        "GitHub",
		Description: "Access and manage GitHub repositories",
		Type:        "github",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-github@latest"},
		Fields:      []TemplateField{{Name: "GITHUB_PERSONAL_ACCESS_TOKEN", Description: "GitHub Personal Access Token", Required: true, Env: true}},
	},
	"memory": {
		Name:        "Memory",
		Description: "Knowledge graph-based persistent memory",
		Type:        "memory",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-memory@latest"},
	},
}

// Templates returns the known template ids, sorted.
func Templates() []string {
	ids := make([]string, 0, len(templates))
	for id := range templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LookupTemplate returns the template with id.
func LookupTemplate(id string) (Template, bool) {
	t, ok := templates[id]
	return t, ok
}

// FromTemplate builds a server record named id from a template. Missing
// required values are an error; values the template does not know are
// ignored.
func FromTemplate(templateID, id string, values map[string]string) (mcp.ServerConfig, error) {
	t, ok := templates[templateID]
	if !ok {
		return mcp.ServerConfig{}, fmt.Errorf("unknown template: %s (known: %v)", templateID, Templates())
	}
	if id == "" {
		id = templateID
	}

	cfg := mcp.ServerConfig{
		ID:          id,
		Name:        t.Name,
		Type:        t.Type,
		Command:     t.Command,
		Args:        append([]string(nil), t.Args...),
		Description: t.Description,
	}
	for _, f := range t.Fields {
		v, ok := values[f.Name]
		if !ok || v == "" {
			if f.Required {
				return mcp.ServerConfig{}, fmt.Errorf("template %s requires %s (%s)", templateID, f.Name, f.Description)
			}
			continue
		}
		if f.Env {
			if cfg.Env == nil {
				cfg.Env = make(map[string]string)
			}
			cfg.Env[f.Name] = v
		} else {
			cfg.Args = append(cfg.Args, v)
		}
	}
	return cfg, nil
}
