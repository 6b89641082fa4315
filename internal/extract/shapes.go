package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"toolbridge/internal/conversation"
	"toolbridge/internal/tools"
)

// Shape names an accepted free-text tool call layout.
type Shape int

const (
	ShapeNone Shape = iota
	// ShapeAction is {"action": name, "params"|"parameters": {...}}.
	ShapeAction
	// ShapeTool is {"tool": name, "tool_input": {...}}.
	ShapeTool
	// ShapeFunction is {"name": name, "arguments": {...} or "<json>"}.
	ShapeFunction
)

func (s Shape) String() string {
	switch s {
	case ShapeAction:
		return "action"
	case ShapeTool:
		return "tool"
	case ShapeFunction:
		return "function"
	default:
		return "none"
	}
}

// envelope holds every field of every accepted shape. A key that is
// present decodes to a non-nil RawMessage, even when its value is null.
type envelope struct {
	Action     *string         `json:"action"`
	Params     json.RawMessage `json:"params"`
	Parameters json.RawMessage `json:"parameters"`

	Tool      *string         `json:"tool"`
	ToolInput json.RawMessage `json:"tool_input"`

	Name      *string         `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// match picks the shape of env. Each shape needs a non-empty name and its
// argument key; shapes are tried in the order action, tool, function.
func (env envelope) match() (Shape, string, json.RawMessage) {
	switch {
	case nonEmpty(env.Action) && env.Params != nil:
		return ShapeAction, *env.Action, env.Params
	case nonEmpty(env.Action) && env.Parameters != nil:
		return ShapeAction, *env.Action, env.Parameters
	case nonEmpty(env.Tool) && env.ToolInput != nil:
		return ShapeTool, *env.Tool, env.ToolInput
	case nonEmpty(env.Name) && env.Arguments != nil:
		return ShapeFunction, *env.Name, env.Arguments
	}
	return ShapeNone, "", nil
}

func nonEmpty(s *string) bool { return s != nil && *s != "" }

// parseCall reads one balanced JSON object. valid is false when the text
// is not JSON at all; ok is false when it is JSON but not a tool call.
func parseCall(obj string) (call conversation.ToolCall, shape Shape, valid, ok bool) {
	if !json.Valid([]byte(obj)) {
		return call, ShapeNone, false, false
	}
	var env envelope
	if err := json.Unmarshal([]byte(obj), &env); err != nil {
		return call, ShapeNone, true, false
	}
	shape, name, raw := env.match()
	if shape == ShapeNone {
		return call, ShapeNone, true, false
	}
	args, isObject, decodeErr := decodeArguments(raw)
	if !isObject {
		return call, ShapeNone, true, false
	}
	call = conversation.ToolCall{ID: conversation.NewCallID(), Name: name, Arguments: args}
	if decodeErr != nil {
		call.DecodeErr = fmt.Errorf("%w: %s: %v", tools.ErrArgumentDecode, name, decodeErr)
	}
	return call, shape, true, true
}

// decodeArguments accepts an object, null, or a string holding JSON
// object text. The bool is false for any other JSON type. A string that
// does not decode yields an empty set and the decode error.
func decodeArguments(raw json.RawMessage) (map[string]any, bool, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{}, true, err
	}
	switch t := v.(type) {
	case nil:
		return map[string]any{}, true, nil
	case map[string]any:
		return t, true, nil
	case string:
		args, err := DecodeArguments(t)
		return args, true, err
	default:
		return nil, false, nil
	}
}

// DecodeArguments decodes JSON-encoded tool arguments. Empty text and
// null decode to an empty set; on error the empty set is returned with it.
func DecodeArguments(s string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(s) == "" {
		return args, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return args, err
	}
	if decoded == nil {
		return args, nil
	}
	return decoded, nil
}
