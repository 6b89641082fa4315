package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"toolbridge/internal/conversation"
	"toolbridge/internal/tools"
)

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

type chatRequest struct {
	Model       string               `json:"model"`
	Messages    []chatMessage        `json:"messages"`
	Tools       []tools.FunctionTool `json:"tools,omitempty"`
	Stream      bool                 `json:"stream"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// toWireMessages converts the log for the API. Without native tools,
// assistant tool calls stay in the assistant text and results are sent
// back as user messages.
func toWireMessages(msgs []conversation.Message, native bool) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := chatMessage{Role: string(m.Role), Content: m.Content}
		switch {
		case m.Role == conversation.RoleAssistant && native:
			for _, call := range m.ToolCalls {
				args, err := json.Marshal(call.Arguments)
				if err != nil || call.Arguments == nil {
					args = []byte("{}")
				}
				wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
					ID:       call.ID,
					Type:     "function",
					Function: wireFunction{Name: call.Name, Arguments: string(args)},
				})
			}
		case m.Role == conversation.RoleTool && native:
			wm.ToolCallID = m.ToolCallID
			wm.Name = m.Name
		case m.Role == conversation.RoleTool:
			wm.Role = string(conversation.RoleUser)
			wm.Content = fmt.Sprintf("Tool result for %s:\n%s", m.Name, strings.TrimSpace(m.Content))
		}
		out = append(out, wm)
	}
	return out
}
