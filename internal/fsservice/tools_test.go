package fsservice

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolbridge/internal/tools"
)

func TestToolsCoverSurface(t *testing.T) {
	t.Parallel()

	svc := newService(t, t.TempDir())
	reg := tools.NewRegistry()
	require.NoError(t, svc.Register(reg))

	for _, def := range tools.FilesystemTools() {
		_, ok := reg.Lookup(def.Name)
		assert.True(t, ok, "missing %s", def.Name)
	}
	assert.Equal(t, len(tools.FilesystemTools()), reg.Len())
}

func TestToolExecution(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	svc := newService(t, dir)
	reg := tools.NewRegistry()
	require.NoError(t, svc.Register(reg))
	ctx := context.Background()
	path := filepath.Join(dir, "out.txt")

	exec, err := reg.Execute(ctx, tools.ToolWriteFile, map[string]any{"path": path, "content": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "Successfully wrote 3 bytes to "+path, exec.Output)

	exec, err = reg.Execute(ctx, tools.ToolReadFile, map[string]any{"path": path})
	require.NoError(t, err)
	assert.Equal(t, "abc", exec.Output)

	exec, err = reg.Execute(ctx, tools.ToolReadMultipleFiles, map[string]any{"paths": []any{path, filepath.Join(dir, "nope")}})
	require.NoError(t, err)
	assert.Contains(t, exec.Output, path+":\nabc")
	assert.Contains(t, exec.Output, "nope: Error - no such file or directory")

	exec, err = reg.Execute(ctx, tools.ToolListAllowedDirectories, nil)
	require.NoError(t, err)
	assert.Contains(t, exec.Output, "1. "+dir)

	_, err = reg.Execute(ctx, tools.ToolReadFile, map[string]any{"path": "/etc/hostname"})
	assert.ErrorIs(t, err, tools.ErrAccessDenied)
	assert.Equal(t, "Error: access denied - path outside allowed directories: /etc/hostname", tools.FormatError(err))

	_, err = reg.Execute(ctx, tools.ToolMoveFile, map[string]any{"source": path})
	assert.ErrorIs(t, err, tools.ErrMissingRequiredArg)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
