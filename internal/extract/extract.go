// Package extract finds tool calls in model output: structured call lists
// from the model API, and JSON objects embedded in free text, including
// text that arrives in chunks.
package extract

import (
	"fmt"

	"toolbridge/internal/conversation"
	"toolbridge/internal/logging"
	"toolbridge/internal/tools"
)

// RawToolCall is a tool call as the model API delivers it, with the
// arguments still JSON-encoded.
type RawToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Structured converts API tool calls. Arguments that fail to decode are
// replaced by an empty set and the failure is kept in DecodeErr; one bad
// call never drops the others. Calls without a name are skipped.
func Structured(raw []RawToolCall) []conversation.ToolCall {
	log := logging.Get(logging.CategoryExtractor)
	calls := make([]conversation.ToolCall, 0, len(raw))
	for _, rc := range raw {
		if rc.Name == "" {
			log.Warn("Skipping structured tool call %q without a name", rc.ID)
			continue
		}
		call := conversation.ToolCall{ID: rc.ID, Name: rc.Name}
		if call.ID == "" {
			call.ID = conversation.NewCallID()
		}
		args, err := DecodeArguments(rc.Arguments)
		if err != nil {
			log.Warn("Arguments of %s did not decode, using none: %v", rc.Name, err)
			call.DecodeErr = fmt.Errorf("%w: %s: %v", tools.ErrArgumentDecode, rc.Name, err)
		}
		call.Arguments = args
		calls = append(calls, call)
	}
	return calls
}

// FromText returns the tool calls embedded in a complete response, in
// order of appearance.
func FromText(text string) []conversation.ToolCall {
	s := NewScanner()
	_, calls := s.Feed(text)
	_, rest := s.Flush()
	return append(calls, rest...)
}

// Split separates a complete response into its prose, with the tool call
// objects removed, and the calls.
func Split(text string) (string, []conversation.ToolCall) {
	s := NewScanner()
	head, calls := s.Feed(text)
	tail, rest := s.Flush()
	return head + tail, append(calls, rest...)
}
