package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

var (
	resolvedMu    sync.Mutex
	resolvedCache = make(map[string]*jsonschema.Resolved)
)

// compileSchema resolves a raw input schema, caching by schema text.
func compileSchema(raw json.RawMessage) (*jsonschema.Resolved, error) {
	key := string(raw)

	resolvedMu.Lock()
	defer resolvedMu.Unlock()

	if r, ok := resolvedCache[key]; ok {
		return r, nil
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, err
	}
	resolvedCache[key] = resolved
	return resolved, nil
}

// ValidateArgs checks args against the definition's input schema. Definitions
// without a schema, or with one that does not compile, accept any arguments.
func ValidateArgs(def ToolDefinition, args map[string]any) error {
	if len(def.InputSchema) == 0 {
		return nil
	}
	resolved, err := compileSchema(def.InputSchema)
	if err != nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	// Round-trip through JSON so typed Go values validate like wire values.
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	var instance map[string]any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w for %s: %v", ErrInvalidArguments, def.Name, err)
	}
	return nil
}
