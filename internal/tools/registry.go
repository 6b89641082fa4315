package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"toolbridge/internal/logging"
)

// Registry is the set of tools an in-process server advertises. Tools are
// listed in the order they were registered.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Tool
	ordered []*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Tool)}
}

// Register adds tool. Names are unique within a registry.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[tool.Name]; dup {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.byName[tool.Name] = tool
	r.ordered = append(r.ordered, tool)

	logging.Get(logging.CategoryRegistry).Debug("Registered tool: %s", tool.Name)
	return nil
}

// Lookup returns the tool called name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Len reports how many tools are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

// Definitions returns what the registry advertises over tools/list.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, len(r.ordered))
	for i, t := range r.ordered {
		defs[i] = t.Definition()
	}
	return defs
}

// Execute checks args against the tool's schema and runs it. The returned
// Execution is non-nil whenever the tool exists, including on failure.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*Execution, error) {
	tool, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	log := logging.Get(logging.CategoryRegistry)
	exec := &Execution{ToolName: name}
	start := time.Now()

	exec.Err = checkArgs(tool, args)
	if exec.Err == nil {
		exec.Output, exec.Err = tool.Execute(ctx, args)
	}
	exec.Duration = time.Since(start)

	if exec.Err != nil {
		log.Debug("%s failed after %v: %v", name, exec.Duration, exec.Err)
	} else {
		log.Debug("%s completed in %v", name, exec.Duration)
	}
	return exec, exec.Err
}

// checkArgs reports missing required keys by name before falling back to
// full schema validation.
func checkArgs(tool *Tool, args map[string]any) error {
	for _, key := range tool.Schema.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("%w: %w: %s", ErrInvalidArguments, ErrMissingRequiredArg, key)
		}
	}
	return ValidateArgs(tool.Definition(), args)
}
