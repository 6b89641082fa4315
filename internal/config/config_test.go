package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolbridge/internal/mcp"
)

// clearEnv blanks every variable applyEnvOverrides reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TOOLBRIDGE_LOGS_DIR", "TOOLBRIDGE_DB", "TOOLBRIDGE_MAX_ROUNDS",
		"TOOLBRIDGE_MODEL_URL", "TOOLBRIDGE_MODEL", "TOOLBRIDGE_API_KEY", "OPENAI_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Orchestrator.MaxRounds)
	assert.Equal(t, 500*time.Millisecond, cfg.Supervisor.ReadyInterval)
	assert.False(t, cfg.Logging.DebugMode)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "toolbridge.yaml")
	data := `
servers:
  - id: files
    type: filesystem
    transport: builtin
    args: [/srv/data]
  - id: search
    command: npx
    args: ["-y", "@modelcontextprotocol/server-brave-search@latest"]
    env:
      BRAVE_API_KEY: secret
supervisor:
  ready_interval: 250ms
  restart_backoff: 5m
rpc:
  call_timeout: 1m
orchestrator:
  max_rounds: 4
  max_pending_bytes: 1048576
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, mcp.TransportBuiltin, cfg.Servers[0].TransportKind())
	assert.Equal(t, []string{"/srv/data"}, cfg.Servers[0].Args)
	assert.Equal(t, "secret", cfg.Servers[1].Env["BRAVE_API_KEY"])
	assert.Equal(t, mcp.TransportStdio, cfg.Servers[1].TransportKind())

	assert.Equal(t, 250*time.Millisecond, cfg.Supervisor.ReadyInterval)
	assert.Equal(t, DefaultConfig().Supervisor.ReadyRetries, cfg.Supervisor.ReadyRetries)
	assert.Equal(t, time.Minute, cfg.RPC.CallTimeout)
	assert.Equal(t, 4, cfg.Orchestrator.MaxRounds)
	assert.Equal(t, 1<<20, cfg.Orchestrator.MaxPendingBytes)
	assert.Equal(t, DefaultConfig().Model.BaseURL, cfg.Model.BaseURL)

	opts := cfg.SupervisorOptions()
	assert.Equal(t, time.Minute, opts.CallTimeout)
	assert.Equal(t, 250*time.Millisecond, opts.ReadyInterval)
	assert.Equal(t, 5*time.Minute, opts.RestartBackoff)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers: [\n"), 0644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "toolbridge.yaml")
	cfg := DefaultConfig()
	cfg.Servers = []mcp.ServerConfig{{ID: "files", Transport: mcp.TransportBuiltin, Args: []string{"/tmp"}}}
	cfg.RPC.CallTimeout = 45 * time.Second
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, loaded, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"duplicate ids", func(c *Config) {
			s := mcp.ServerConfig{ID: "a", Command: "x"}
			c.Servers = []mcp.ServerConfig{s, s}
		}, false},
		{"stdio without command", func(c *Config) {
			c.Servers = []mcp.ServerConfig{{ID: "a"}}
		}, false},
		{"zero rounds", func(c *Config) { c.Orchestrator.MaxRounds = 0 }, false},
		{"zero retries", func(c *Config) { c.Supervisor.ReadyRetries = 0 }, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, false},
		{"zero call timeout", func(c *Config) { c.RPC.CallTimeout = 0 }, false},
		{"negative restart backoff", func(c *Config) { c.Supervisor.RestartBackoff = -time.Second }, false},
		{"negative pending limit", func(c *Config) { c.Orchestrator.MaxPendingBytes = -1 }, false},
		{"unlimited pending", func(c *Config) { c.Orchestrator.MaxPendingBytes = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestServerConfigsInjectsProxy(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "http://proxy.internal:3128")
	t.Setenv("NO_PROXY", "")

	own := map[string]string{"HTTPS_PROXY": "http://other:8080", "TOKEN": "x"}
	cfg := DefaultConfig()
	cfg.Servers = []mcp.ServerConfig{
		{ID: "plain", Command: "npx"},
		{ID: "own", Command: "npx", Env: own},
	}

	servers := cfg.ServerConfigs()
	require.Len(t, servers, 2)
	assert.Equal(t, "http://proxy.internal:3128", servers[0].Env["HTTPS_PROXY"])
	assert.NotContains(t, servers[0].Env, "NO_PROXY")
	assert.Equal(t, "http://other:8080", servers[1].Env["HTTPS_PROXY"])

	// Records are replaced, not mutated.
	assert.Nil(t, cfg.Servers[0].Env)
	assert.Len(t, own, 2)
}

func TestFromTemplate(t *testing.T) {
	cfg, err := FromTemplate("filesystem", "docs", map[string]string{"path": "/srv/docs", "unknown": "x"})
	require.NoError(t, err)
	want := mcp.ServerConfig{
		ID:          "docs",
		Name:        "Filesystem",
		Type:        "filesystem",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-filesystem@latest", "/srv/docs"},
		Description: "Access and manipulate files in a directory",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("server mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"/srv/docs"}, cfg.AllowedDirectories())

	cfg, err = FromTemplate("github", "", map[string]string{"GITHUB_PERSONAL_ACCESS_TOKEN": "ghp"})
	require.NoError(t, err)
	assert.Equal(t, "github", cfg.ID)
	assert.Equal(t, "ghp", cfg.Env["GITHUB_PERSONAL_ACCESS_TOKEN"])

	cfg, err = FromTemplate("memory", "mem", nil)
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())

	_, err = FromTemplate("brave-search", "", nil)
	assert.ErrorContains(t, err, "BRAVE_API_KEY")

	_, err = FromTemplate("nope", "", nil)
	assert.Error(t, err)

	assert.Equal(t, []string{"brave-search", "filesystem", "github", "memory"}, Templates())
}
