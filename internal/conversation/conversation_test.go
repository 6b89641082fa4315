package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolbridge/internal/tools"
)

func TestAppendLinksToolCalls(t *testing.T) {
	log := NewLog(NewMessage(RoleUser, "list files"))

	stored := log.Append(Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{Name: "list_directory", Arguments: map[string]any{"path": "/data"}}},
	})

	require.Len(t, stored.ToolCalls, 1)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, stored.ID, stored.ToolCalls[0].MessageID)
	assert.True(t, strings.HasPrefix(stored.ToolCalls[0].ID, "call-"))
	assert.Equal(t, 2, log.Len())
}

func TestMessagesIsSnapshot(t *testing.T) {
	log := NewLog()
	log.Append(NewMessage(RoleUser, "hi"))

	snap := log.Messages()
	snap[0].Content = "mutated"
	log.Append(NewMessage(RoleAssistant, "hello"))

	msgs := log.Messages()
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Len(t, snap, 1)
}

func TestToolResultMessage(t *testing.T) {
	call := ToolCall{ID: "call-1", Name: "read_file"}

	ok := NewToolResultMessage(Success(call, "contents"))
	assert.Equal(t, RoleTool, ok.Role)
	assert.Equal(t, "call-1", ok.ToolCallID)
	assert.Equal(t, "contents", ok.Content)
	require.Len(t, ok.ToolResults, 1)
	assert.False(t, ok.Failed())

	failed := Failure(call, tools.ErrNotFound)
	assert.True(t, failed.IsError)
	assert.Equal(t, "Error: no such file or directory", failed.Content)

	msg := NewLog().Append(NewToolResultMessage(failed))
	assert.True(t, msg.Failed())
	assert.Equal(t, []ToolResult{failed}, msg.ToolResults)
}
