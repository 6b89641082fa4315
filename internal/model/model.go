// Package model streams chat completions from an OpenAI-compatible API
// (OpenAI, OpenRouter, Ollama, vLLM and similar).
package model

import (
	"toolbridge/internal/extract"
)

// Delta is one step of a streamed response. ToolCalls are complete: the
// stream assembles argument fragments before handing calls out.
type Delta struct {
	Content   string
	ToolCalls []extract.RawToolCall
}

// Stream yields deltas until Recv returns io.EOF.
type Stream interface {
	Recv() (Delta, error)
	Close() error
}
