package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toolbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("orchestrator:\n  max_rounds: 2\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	reloads := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, path, 20*time.Millisecond, func(c *Config) { reloads <- c })
	}()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// An invalid file is skipped.
	require.NoError(t, os.WriteFile(path, []byte("orchestrator:\n  max_rounds: -1\n"), 0644))
	select {
	case c := <-reloads:
		t.Fatalf("invalid config delivered: %+v", c.Orchestrator)
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte("orchestrator:\n  max_rounds: 7\n"), 0644))
	select {
	case c := <-reloads:
		assert.Equal(t, 7, c.Orchestrator.MaxRounds)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644))
	select {
	case c := <-reloads:
		t.Fatalf("unexpected reload: %+v", c.Orchestrator)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "gone", "toolbridge.yaml"), func(*Config) {})
	require.Error(t, err)
}
