package tools

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findDef(t *testing.T, defs []ToolDefinition, name string) ToolDefinition {
	t.Helper()
	for _, d := range defs {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("definition %s not found", name)
	return ToolDefinition{}
}

func TestValidateArgs(t *testing.T) {
	move := findDef(t, FilesystemTools(), ToolMoveFile)

	assert.NoError(t, ValidateArgs(move, map[string]any{"source": "/a", "destination": "/b"}))

	err := ValidateArgs(move, map[string]any{"source": "/a"})
	assert.True(t, errors.Is(err, ErrInvalidArguments), "got %v", err)

	err = ValidateArgs(move, map[string]any{"source": 1, "destination": "/b"})
	assert.True(t, errors.Is(err, ErrInvalidArguments), "got %v", err)
}

func TestValidateArgsWithoutSchema(t *testing.T) {
	assert.NoError(t, ValidateArgs(ToolDefinition{Name: "free"}, map[string]any{"anything": true}))
	assert.NoError(t, ValidateArgs(ToolDefinition{Name: "broken", InputSchema: json.RawMessage(`not json`)}, nil))
}

func TestValidateArgsArray(t *testing.T) {
	multi := findDef(t, FilesystemTools(), ToolReadMultipleFiles)
	assert.NoError(t, ValidateArgs(multi, map[string]any{"paths": []string{"/a", "/b"}}))
	assert.Error(t, ValidateArgs(multi, map[string]any{"paths": "/a"}))
}

func TestDefaultDefinitions(t *testing.T) {
	assert.Len(t, DefaultDefinitions("filesystem"), 9)
	assert.NotEmpty(t, DefaultDefinitions("memory"))
	assert.NotEmpty(t, DefaultDefinitions("brave-search"))
	assert.NotEmpty(t, DefaultDefinitions("github"))
	assert.Nil(t, DefaultDefinitions("custom"))
}

func TestAsFunctionTools(t *testing.T) {
	fns := AsFunctionTools([]ToolDefinition{{Name: "ping", Description: "Ping"}})
	require.Len(t, fns, 1)
	assert.Equal(t, "function", fns[0].Type)
	assert.Equal(t, "ping", fns[0].Function.Name)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(fns[0].Function.Parameters))
}

func TestFormatError(t *testing.T) {
	assert.Equal(t, "Error: tool not found", FormatError(ErrToolNotFound))
	assert.Equal(t, "Error: already", FormatError(errors.New("Error: already")))
	assert.Equal(t, "", FormatError(nil))
}

func TestStringSliceArg(t *testing.T) {
	got, err := StringSliceArg(map[string]any{"paths": []any{"a", "b"}}, "paths")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	_, err = StringSliceArg(map[string]any{"paths": []any{"a", 2}}, "paths")
	assert.ErrorIs(t, err, ErrInvalidArgType)
}
