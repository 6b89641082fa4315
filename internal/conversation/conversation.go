// Package conversation holds the message log exchanged with the model:
// user and assistant turns, the tool calls an assistant turn requested,
// and the tool results spliced back in.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"toolbridge/internal/tools"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	MessageID string         `json:"message_id,omitempty"`
	ServerID  string         `json:"server_id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`

	// DecodeErr is set when the arguments could not be decoded and an empty
	// set was substituted.
	DecodeErr error `json:"-"`
}

// NewCallID returns a fresh tool call identifier.
func NewCallID() string {
	return "call-" + uuid.NewString()
}

// ToolResult is the outcome of one ToolCall. Failed results carry the
// rendered error text in Content.
type ToolResult struct {
	CallID   string        `json:"call_id"`
	ServerID string        `json:"server_id,omitempty"`
	Name     string        `json:"name"`
	Content  string        `json:"content"`
	IsError  bool          `json:"is_error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Success builds a successful result for call.
func Success(call ToolCall, content string) ToolResult {
	return ToolResult{CallID: call.ID, ServerID: call.ServerID, Name: call.Name, Content: content}
}

// Failure builds a failed result for call, rendering err as "Error: <reason>".
func Failure(call ToolCall, err error) ToolResult {
	return ToolResult{
		CallID:   call.ID,
		ServerID: call.ServerID,
		Name:     call.Name,
		Content:  tools.FormatError(err),
		IsError:  true,
	}
}

// Message is one entry in the conversation. Assistant messages carry the
// calls they requested; tool messages carry the results of those calls.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	ToolCallID  string       `json:"tool_call_id,omitempty"`
	Name        string       `json:"name,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Failed reports whether any tool result on the message is an error.
func (m Message) Failed() bool {
	for _, r := range m.ToolResults {
		if r.IsError {
			return true
		}
	}
	return false
}

// NewMessage builds a message with a fresh ID.
func NewMessage(role Role, content string) Message {
	return Message{ID: uuid.NewString(), Role: role, Content: content, CreatedAt: time.Now()}
}

// NewToolResultMessage wraps a result as a tool-role message linked to
// the originating call.
func NewToolResultMessage(res ToolResult) Message {
	m := NewMessage(RoleTool, res.Content)
	m.ToolCallID = res.CallID
	m.Name = res.Name
	m.ToolResults = []ToolResult{res}
	return m
}

// Log is an append-only, goroutine-safe message sequence.
type Log struct {
	mu   sync.RWMutex
	msgs []Message
}

// NewLog creates a log seeded with history.
func NewLog(history ...Message) *Log {
	l := &Log{}
	for _, m := range history {
		l.Append(m)
	}
	return l
}

// Append adds m, assigning an ID and timestamp if missing, and links each
// tool call to the message. It returns the stored message.
func (l *Log) Append(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if len(m.ToolCalls) > 0 {
		calls := make([]ToolCall, len(m.ToolCalls))
		copy(calls, m.ToolCalls)
		for i := range calls {
			calls[i].MessageID = m.ID
			if calls[i].ID == "" {
				calls[i].ID = NewCallID()
			}
		}
		m.ToolCalls = calls
	}
	if len(m.ToolResults) > 0 {
		m.ToolResults = append([]ToolResult(nil), m.ToolResults...)
	}

	l.mu.Lock()
	l.msgs = append(l.msgs, m)
	l.mu.Unlock()
	return m
}

// Messages returns a snapshot of the log.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}
