package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantKey string
		wantOK  bool
	}{
		{"numeric id", `{"jsonrpc":"2.0","id":3,"result":{}}`, "3", true},
		{"string id", `{"id":"3","result":"ok"}`, "3", true},
		{"error member", `{"id":9,"error":{"code":-32601,"message":"nope"}}`, "9", true},
		{"null result counts", `{"id":1,"result":null}`, "1", true},
		{"log noise", `Starting filesystem server on stdio`, "", false},
		{"json without id", `{"method":"notifications/progress"}`, "", false},
		{"request echo", `{"id":1,"method":"listTools"}`, "", false},
		{"null id", `{"id":null,"error":{"code":-32700,"message":"parse"}}`, "", false},
		{"array", `[1,2]`, "", false},
		{"truncated", `{"id":1,"result":`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, key, ok := parseResponse([]byte(tt.line))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestDecodeCallResult(t *testing.T) {
	res, err := decodeCallResult(json.RawMessage(`{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}],"isError":true}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "a\nb", res.Text())

	res, err = decodeCallResult(json.RawMessage(`"plain"`))
	require.NoError(t, err)
	assert.Equal(t, "plain", res.Text())

	res, err = decodeCallResult(json.RawMessage(`{"sum":8}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sum":8}`, res.Text())

	res, err = decodeCallResult(nil)
	require.NoError(t, err)
	assert.Equal(t, "", res.Text())
}

func TestDecodeListResult(t *testing.T) {
	defs, err := decodeListResult(json.RawMessage(`{"tools":[{"name":"a","description":"A"}]}`))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "a", defs[0].Name)

	_, err = decodeListResult(json.RawMessage(`{"items":[]}`))
	assert.Error(t, err)
}

func TestServerConfigHelpers(t *testing.T) {
	cfg := ServerConfig{
		ID:      "fs",
		Type:    "filesystem",
		Command: "fsserver",
		Args:    []string{"--port", "3600", "/data", "~/notes", "relative"},
	}
	port, ok := cfg.Port()
	assert.True(t, ok)
	assert.Equal(t, 3600, port)
	assert.Equal(t, "http://localhost:3600", cfg.Endpoint())
	assert.Equal(t, []string{"/data", "~/notes"}, cfg.AllowedDirectories())
	assert.Equal(t, TransportStdio, cfg.TransportKind())
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost:3500", ServerConfig{ID: "x"}.Endpoint())
	assert.Equal(t, "http://h:1", ServerConfig{URL: "http://h:1/"}.Endpoint())
	assert.Equal(t, TransportHTTP, ServerConfig{URL: "http://h:1"}.TransportKind())

	builtin := ServerConfig{ID: "local", Transport: TransportBuiltin, Args: []string{"/srv"}}
	assert.Equal(t, []string{"/srv"}, builtin.AllowedDirectories())

	assert.Error(t, ServerConfig{}.Validate())
	assert.Error(t, ServerConfig{ID: "x"}.Validate())
	assert.Error(t, ServerConfig{ID: "x", Transport: TransportBuiltin}.Validate())
	assert.Error(t, ServerConfig{ID: "x", Transport: "carrier-pigeon"}.Validate())
}

func TestServerConfigEqual(t *testing.T) {
	a := ServerConfig{ID: "m", Command: "npx", Args: []string{"-y", "server-memory"}, Env: map[string]string{"K": "v"}}
	b := a
	b.Args = []string{"-y", "server-memory"}
	b.Env = map[string]string{"K": "v"}
	assert.True(t, a.Equal(b))

	b.Env = map[string]string{"K": "w"}
	assert.False(t, a.Equal(b))

	c := a
	c.Transport = TransportStdio
	assert.True(t, a.Equal(c), "explicit default transport is the same server")
}
