// Package mcp talks to tool servers: the line-delimited JSON-RPC wire
// format, stdio and HTTP clients, a server that exposes an in-process
// registry over the same wire, the per-server tool catalog, and the
// SQLite store that persists discovered tools and usage statistics.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"toolbridge/internal/tools"
)

// ServerStatus is the lifecycle state of a tool server process.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusRunning  ServerStatus = "running"
	StatusStopped  ServerStatus = "stopped"
	StatusFailed   ServerStatus = "failed"
)

// Transport selects how a server is reached.
type Transport string

const (
	TransportStdio   Transport = "stdio"
	TransportHTTP    Transport = "http"
	TransportBuiltin Transport = "builtin" // in-process filesystem service
)

// DefaultPort is used for HTTP servers that do not name a port.
const DefaultPort = 3500

// ServerConfig describes one tool server. The record is immutable once
// loaded; a changed record is a different server.
type ServerConfig struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name,omitempty" json:"name,omitempty"`
	Type        string            `yaml:"type,omitempty" json:"type,omitempty"`
	Transport   Transport         `yaml:"transport,omitempty" json:"transport,omitempty"`
	Command     string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	URL         string            `yaml:"url,omitempty" json:"url,omitempty"`
	APIKey      string            `yaml:"api_key,omitempty" json:"-"`
	WorkDir     string            `yaml:"work_dir,omitempty" json:"work_dir,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Disabled    bool              `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// DisplayName returns Name, falling back to ID.
func (c ServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// TransportKind returns the effective transport. A config with a URL and
// no explicit transport is HTTP; everything else defaults to stdio.
func (c ServerConfig) TransportKind() Transport {
	if c.Transport != "" {
		return c.Transport
	}
	if c.URL != "" {
		return TransportHTTP
	}
	return TransportStdio
}

// Port returns the value of a --port argument, if any.
func (c ServerConfig) Port() (int, bool) {
	for i, arg := range c.Args {
		var raw string
		switch {
		case arg == "--port" && i+1 < len(c.Args):
			raw = c.Args[i+1]
		case strings.HasPrefix(arg, "--port="):
			raw = strings.TrimPrefix(arg, "--port=")
		default:
			continue
		}
		if port, err := strconv.Atoi(raw); err == nil {
			return port, true
		}
	}
	return 0, false
}

// Endpoint returns the RPC URL for HTTP servers: URL if set, otherwise
// localhost on the --port argument or DefaultPort.
func (c ServerConfig) Endpoint() string {
	if c.URL != "" {
		return strings.TrimRight(c.URL, "/")
	}
	port, ok := c.Port()
	if !ok {
		port = DefaultPort
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

// AllowedDirectories returns the directories a filesystem server is
// confined to. For builtin servers every argument is a directory; for
// spawned servers the absolute-path positional arguments are.
func (c ServerConfig) AllowedDirectories() []string {
	if c.TransportKind() == TransportBuiltin {
		return slices.Clone(c.Args)
	}
	if c.Type != "filesystem" {
		return nil
	}
	var dirs []string
	skip := false
	for _, arg := range c.Args {
		if skip {
			skip = false
			continue
		}
		if arg == "--port" {
			skip = true
			continue
		}
		if filepath.IsAbs(arg) || strings.HasPrefix(arg, "~") {
			dirs = append(dirs, arg)
		}
	}
	return dirs
}

// Validate checks the record is usable.
func (c ServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("server id is required")
	}
	switch c.TransportKind() {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("server %s: command is required for stdio transport", c.ID)
		}
	case TransportHTTP:
		if c.Command == "" && c.URL == "" {
			return fmt.Errorf("server %s: command or url is required for http transport", c.ID)
		}
	case TransportBuiltin:
		if len(c.Args) == 0 {
			return fmt.Errorf("server %s: builtin filesystem server needs at least one directory", c.ID)
		}
	default:
		return fmt.Errorf("server %s: unknown transport %q", c.ID, c.Transport)
	}
	return nil
}

// Equal reports whether two records describe the same server.
func (c ServerConfig) Equal(o ServerConfig) bool {
	return c.ID == o.ID &&
		c.Name == o.Name &&
		c.Type == o.Type &&
		c.TransportKind() == o.TransportKind() &&
		c.Command == o.Command &&
		slices.Equal(c.Args, o.Args) &&
		maps.Equal(c.Env, o.Env) &&
		c.URL == o.URL &&
		c.APIKey == o.APIKey &&
		c.WorkDir == o.WorkDir &&
		c.Description == o.Description &&
		c.Disabled == o.Disabled
}

// Client is a connection to one tool server.
type Client interface {
	// ListTools returns the definitions the server advertises.
	ListTools(ctx context.Context) ([]tools.ToolDefinition, error)

	// CallTool invokes a tool by name.
	CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error)

	// Close releases the connection; in-flight calls fail with ErrServerStopped.
	Close() error
}

// ContentBlock is one piece of a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallResult is the decoded result of a callTool request.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
	Latency time.Duration  `json:"-"`
}

// TextResult builds a single-block result.
func TextResult(text string, isError bool) *CallResult {
	return &CallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: isError}
}

// Text joins the text blocks of the result.
func (r *CallResult) Text() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Content))
	for _, b := range r.Content {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// decodeCallResult accepts the content-block shape, a bare string, or any
// other JSON value, which is kept verbatim as text.
func decodeCallResult(raw json.RawMessage) (*CallResult, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return TextResult("", false), nil
	}
	switch raw[0] {
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", tools.ErrMalformedResponse, err)
		}
		if _, ok := fields["content"]; ok {
			var res CallResult
			if err := json.Unmarshal(raw, &res); err == nil {
				return &res, nil
			}
		}
		return TextResult(string(raw), false), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", tools.ErrMalformedResponse, err)
		}
		return TextResult(s, false), nil
	default:
		return TextResult(string(raw), false), nil
	}
}
