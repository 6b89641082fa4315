package main

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolbridge/internal/mcp"
	"toolbridge/internal/tools"
)

func TestServeStdio(t *testing.T) {
	logger = zap.NewNop()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi"), 0644))

	srv, err := newServer([]string{root})
	require.NoError(t, err)

	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- serveStdio(context.Background(), srv, serverIn, serverOut)
		serverOut.Close()
	}()

	client := mcp.NewStdioClient("fs", clientOut, clientIn, mcp.WithCallTimeout(5*time.Second))
	ctx := context.Background()

	defs, err := client.ListTools(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, len(tools.FilesystemTools()))

	res, err := client.CallTool(ctx, tools.ToolReadFile, map[string]any{"path": filepath.Join(root, "hello.txt")})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Text())

	require.NoError(t, client.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after stdin closed")
	}
}

func TestServeHTTPReleasesListener(t *testing.T) {
	logger = zap.NewNop()
	srv, err := newServer([]string{t.TempDir()})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveHTTP(ctx, srv, ln) }()

	client := mcp.NewHTTPClient("fs", "http://"+addr, "", 5*time.Second)
	require.Eventually(t, func() bool {
		return client.Health(context.Background()) == nil
	}, 5*time.Second, 20*time.Millisecond)

	res, err := client.CallTool(context.Background(), tools.ToolListAllowedDirectories, nil)
	require.NoError(t, err)
	assert.False(t, res.IsError, res.Text())
	require.NoError(t, client.Close())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}

	// The port is free again.
	ln2, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	ln2.Close()
}

func TestNewServerDefaultsToWorkingDirectory(t *testing.T) {
	logger = zap.NewNop()
	dir := t.TempDir()
	t.Chdir(dir)

	srv, err := newServer(nil)
	require.NoError(t, err)

	resp := srv.Handle(context.Background(), mcp.Request{
		JSONRPC: "2.0",
		ID:      []byte("1"),
		Method:  mcp.MethodCallTool,
		Params:  []byte(`{"name":"list_allowed_directories","arguments":{}}`),
	})
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), filepath.Base(dir))
}
