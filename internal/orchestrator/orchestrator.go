// Package orchestrator drives a conversation turn: it streams the model,
// forwards text as it arrives, picks tool calls out of the response, runs
// them against the configured servers and feeds the results back until
// the model answers without calling a tool.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"toolbridge/internal/conversation"
	"toolbridge/internal/logging"
	"toolbridge/internal/mcp"
	"toolbridge/internal/model"
	"toolbridge/internal/supervisor"
	"toolbridge/internal/tools"
)

// DefaultMaxRounds bounds the tool rounds of one Run.
const DefaultMaxRounds = 10

// Model streams a response to a conversation, offering defs as tools.
type Model interface {
	Stream(ctx context.Context, messages []conversation.Message, defs []tools.ToolDefinition) (model.Stream, error)
}

// Config wires an orchestrator to its collaborators.
type Config struct {
	Servers    []mcp.ServerConfig
	Supervisor *supervisor.Supervisor
	Catalog    *mcp.Catalog
	// Store records server status and tool usage. Optional.
	Store *mcp.ToolStore

	MaxRounds   int
	CallTimeout time.Duration
	// InterruptOnToolCall stops reading the model as soon as a tool call
	// is complete in the text instead of waiting for the response to end.
	InterruptOnToolCall bool
	// MaxPendingBytes caps an unfinished JSON object in streamed text
	// before it is shown as text. Zero holds objects until they close.
	MaxPendingBytes int
}

// Orchestrator owns the server processes of one conversation surface.
type Orchestrator struct {
	model    Model
	servers  []mcp.ServerConfig
	byID     map[string]mcp.ServerConfig
	sup      *supervisor.Supervisor
	catalog  *mcp.Catalog
	store    *mcp.ToolStore
	renderer *mcp.ToolRenderer

	maxRounds   int
	callTimeout time.Duration
	interrupt   bool
	maxPending  int
}

// New creates an orchestrator. Disabled servers are ignored.
func New(m Model, cfg Config) (*Orchestrator, error) {
	if cfg.Supervisor == nil {
		cfg.Supervisor = supervisor.New(supervisor.DefaultOptions())
	}
	if cfg.Catalog == nil {
		cfg.Catalog = mcp.NewCatalog(cfg.Store, 10*time.Second)
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = supervisor.DefaultOptions().CallTimeout
	}

	o := &Orchestrator{
		model:       m,
		byID:        make(map[string]mcp.ServerConfig),
		sup:         cfg.Supervisor,
		catalog:     cfg.Catalog,
		store:       cfg.Store,
		renderer:    mcp.NewToolRenderer(),
		maxRounds:   cfg.MaxRounds,
		callTimeout: cfg.CallTimeout,
		interrupt:   cfg.InterruptOnToolCall,
		maxPending:  cfg.MaxPendingBytes,
	}
	for _, s := range cfg.Servers {
		if s.Disabled {
			continue
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := o.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate server id %q", s.ID)
		}
		o.servers = append(o.servers, s)
		o.byID[s.ID] = s
	}

	o.sup.OnStatus(o.statusChanged)
	return o, nil
}

// statusChanged drops cached tools of a server that is (re)starting or
// gone, and records the transition.
func (o *Orchestrator) statusChanged(info supervisor.Info) {
	if info.Status != mcp.StatusRunning {
		o.catalog.Invalidate(info.ID)
	}
	if o.store == nil {
		return
	}
	err := o.store.SaveServerStatus(context.Background(), mcp.ServerRecord{
		ServerID:  info.ID,
		Name:      info.Name,
		Transport: info.Transport,
		Status:    info.Status,
		Pid:       info.Pid,
	})
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("Recording status of %s failed: %v", info.ID, err)
	}
}

// Servers returns the enabled server records.
func (o *Orchestrator) Servers() []mcp.ServerConfig {
	return append([]mcp.ServerConfig(nil), o.servers...)
}

// Supervisor returns the process supervisor.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor { return o.sup }

// Close stops every server.
func (o *Orchestrator) Close(ctx context.Context) error {
	return o.sup.Shutdown(ctx)
}

// client starts the server if needed and returns its connection. A server
// that recently failed to start reports that failure without a relaunch.
func (o *Orchestrator) client(ctx context.Context, server mcp.ServerConfig) (mcp.Client, error) {
	return o.sup.Ensure(ctx, server)
}

// tools returns the definitions of one server. A server that cannot be
// started falls back to stored or static definitions.
func (o *Orchestrator) tools(ctx context.Context, server mcp.ServerConfig) []tools.ToolDefinition {
	if defs, ok := o.catalog.Definitions(server.ID); ok {
		return defs
	}
	c, err := o.client(ctx, server)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("Server %s unavailable: %v", server.ID, err)
		return o.catalog.Discover(ctx, server, nil)
	}
	return o.catalog.Discover(ctx, server, c)
}

// Definitions returns the tools of every enabled server. When two servers
// offer the same name the first server wins.
func (o *Orchestrator) Definitions(ctx context.Context) []tools.ToolDefinition {
	seen := make(map[string]bool)
	var out []tools.ToolDefinition
	for _, server := range o.servers {
		for _, def := range o.tools(ctx, server) {
			if seen[def.Name] {
				continue
			}
			seen[def.Name] = true
			out = append(out, def)
		}
	}
	return out
}

// EnhanceSystemPrompt appends tool instructions for every enabled server
// to system.
func (o *Orchestrator) EnhanceSystemPrompt(ctx context.Context, system string) string {
	if len(o.servers) == 0 {
		return system
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(system, "\n"))
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	var all []tools.ToolDefinition
	for _, server := range o.servers {
		defs := o.tools(ctx, server)
		all = append(all, defs...)
		sb.WriteString(o.renderer.RenderServer(server, defs))
	}
	sb.WriteString(o.renderer.RenderToolIndex(all))
	return sb.String()
}

// Execute runs one tool on one server. Failures come back as error
// results, never as Go errors.
func (o *Orchestrator) Execute(ctx context.Context, serverID, name string, args map[string]any) conversation.ToolResult {
	call := conversation.ToolCall{
		ID:        conversation.NewCallID(),
		ServerID:  serverID,
		Name:      name,
		Arguments: args,
	}
	return o.executeCall(ctx, call)
}

func (o *Orchestrator) executeCall(ctx context.Context, call conversation.ToolCall) conversation.ToolResult {
	log := logging.Get(logging.CategoryOrchestrator)
	start := time.Now()

	content, known, err := o.invoke(ctx, &call)
	if err != nil && call.DecodeErr != nil {
		err = fmt.Errorf("%w; %v", call.DecodeErr, err)
	}

	var res conversation.ToolResult
	if err != nil {
		log.Warn("Tool %s on %s failed: %v", call.Name, call.ServerID, err)
		res = conversation.Failure(call, err)
	} else {
		log.Info("Tool %s on %s succeeded in %s", call.Name, call.ServerID, time.Since(start))
		res = conversation.Success(call, content)
	}
	res.Duration = time.Since(start)

	if known && o.store != nil {
		if err := o.store.RecordToolUsage(context.WithoutCancel(ctx), call.ServerID, call.Name, !res.IsError, res.Duration); err != nil {
			log.Warn("Recording usage of %s failed: %v", call.Name, err)
		}
	}
	return res
}

// invoke routes, validates and performs call. known reports whether the
// call reached a tool the server advertises.
func (o *Orchestrator) invoke(ctx context.Context, call *conversation.ToolCall) (string, bool, error) {
	server, err := o.route(ctx, call)
	if err != nil {
		return "", false, err
	}
	c, err := o.client(ctx, server)
	if err != nil {
		return "", false, err
	}
	o.catalog.Discover(ctx, server, c)
	def, err := o.catalog.Lookup(server.ID, call.Name)
	if err != nil {
		return "", false, err
	}
	if call.Arguments == nil {
		call.Arguments = map[string]any{}
	}
	if err := tools.ValidateArgs(def, call.Arguments); err != nil {
		return "", true, err
	}

	cctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	res, err := c.CallTool(cctx, call.Name, call.Arguments)
	if err != nil {
		return "", true, err
	}
	if res.IsError {
		return "", true, errors.New(res.Text())
	}
	return res.Text(), true, nil
}

// route decides which server handles call, in order: an explicit server
// id, a "server/tool" name, then the first server advertising the tool.
func (o *Orchestrator) route(ctx context.Context, call *conversation.ToolCall) (mcp.ServerConfig, error) {
	if call.ServerID != "" {
		server, ok := o.byID[call.ServerID]
		if !ok {
			return mcp.ServerConfig{}, fmt.Errorf("%w: %s", tools.ErrServerNotFound, call.ServerID)
		}
		return server, nil
	}
	if id, name, ok := strings.Cut(call.Name, "/"); ok {
		if server, known := o.byID[id]; known {
			call.ServerID, call.Name = id, name
			return server, nil
		}
	}

	ids := make([]string, 0, len(o.servers))
	for _, s := range o.servers {
		ids = append(ids, s.ID)
	}
	if id, ok := o.catalog.FindServer(call.Name, ids); ok {
		call.ServerID = id
		return o.byID[id], nil
	}
	for _, server := range o.servers {
		if _, cached := o.catalog.Definitions(server.ID); cached {
			continue
		}
		o.tools(ctx, server)
		if id, ok := o.catalog.FindServer(call.Name, []string{server.ID}); ok {
			call.ServerID = id
			return server, nil
		}
	}
	return mcp.ServerConfig{}, fmt.Errorf("%w: %s", tools.ErrToolNotFound, call.Name)
}
