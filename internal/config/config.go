package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"toolbridge/internal/logging"
	"toolbridge/internal/mcp"
	"toolbridge/internal/model"
	"toolbridge/internal/orchestrator"
	"toolbridge/internal/supervisor"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "toolbridge.yaml"

// Config holds all toolbridge configuration.
type Config struct {
	// Tool servers, in priority order for tool name routing.
	Servers []mcp.ServerConfig `yaml:"servers"`

	Supervisor   SupervisorConfig   `yaml:"supervisor"`
	RPC          RPCConfig          `yaml:"rpc"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Model        model.Config       `yaml:"model"`
	Store        StoreConfig        `yaml:"store"`
	Logging      logging.Config     `yaml:"logging"`
}

// SupervisorConfig configures server process lifecycle.
type SupervisorConfig struct {
	ReadyInterval  time.Duration `yaml:"ready_interval"`
	ReadyRetries   int           `yaml:"ready_retries"`
	StopGrace      time.Duration `yaml:"stop_grace"`
	LogLines       int           `yaml:"log_lines"`
	RestartBackoff time.Duration `yaml:"restart_backoff"`
}

// RPCConfig configures calls to tool servers.
type RPCConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
	ListTimeout time.Duration `yaml:"list_timeout"`
}

// OrchestratorConfig configures conversation turns.
type OrchestratorConfig struct {
	MaxRounds           int    `yaml:"max_rounds"`
	InterruptOnToolCall bool   `yaml:"interrupt_on_tool_call"`
	MaxPendingBytes     int    `yaml:"max_pending_bytes"`
	SystemPrompt        string `yaml:"system_prompt,omitempty"`
}

// StoreConfig configures the SQLite tool store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	sup := supervisor.DefaultOptions()
	return &Config{
		Supervisor: SupervisorConfig{
			ReadyInterval:  sup.ReadyInterval,
			ReadyRetries:   sup.ReadyRetries,
			StopGrace:      sup.StopGrace,
			LogLines:       sup.LogLines,
			RestartBackoff: sup.RestartBackoff,
		},
		RPC: RPCConfig{
			CallTimeout: sup.CallTimeout,
			ListTimeout: 10 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			MaxRounds: orchestrator.DefaultMaxRounds,
		},
		Model: model.DefaultConfig(),
		Store: StoreConfig{
			Path: filepath.Join(".toolbridge", "tools.db"),
		},
		Logging: logging.Config{
			Level:   "info",
			LogsDir: filepath.Join(".toolbridge", "logs"),
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("TOOLBRIDGE_LOGS_DIR"); dir != "" {
		c.Logging.LogsDir = dir
	}
	if path := os.Getenv("TOOLBRIDGE_DB"); path != "" {
		c.Store.Path = path
	}
	if v := os.Getenv("TOOLBRIDGE_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Orchestrator.MaxRounds = n
		}
	}

	if url := os.Getenv("TOOLBRIDGE_MODEL_URL"); url != "" {
		c.Model.BaseURL = url
	}
	if name := os.Getenv("TOOLBRIDGE_MODEL"); name != "" {
		c.Model.Model = name
	}
	// A generic OpenAI key only fills a gap; TOOLBRIDGE_API_KEY always wins.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Model.APIKey == "" {
		c.Model.APIKey = key
	}
	if key := os.Getenv("TOOLBRIDGE_API_KEY"); key != "" {
		c.Model.APIKey = key
	}
}

var validLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}

// Validate validates the configuration.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate server id: %s", s.ID)
		}
		seen[s.ID] = true
	}

	if c.Supervisor.ReadyInterval <= 0 || c.Supervisor.ReadyRetries <= 0 {
		return fmt.Errorf("supervisor readiness polling needs a positive interval and retry count")
	}
	if c.Supervisor.StopGrace < 0 {
		return fmt.Errorf("supervisor stop grace cannot be negative")
	}
	if c.Supervisor.RestartBackoff < 0 {
		return fmt.Errorf("supervisor restart backoff cannot be negative")
	}
	if c.RPC.CallTimeout <= 0 {
		return fmt.Errorf("rpc call timeout must be positive")
	}
	if c.Orchestrator.MaxRounds <= 0 {
		return fmt.Errorf("orchestrator max rounds must be positive, got %d", c.Orchestrator.MaxRounds)
	}
	if c.Orchestrator.MaxPendingBytes < 0 {
		return fmt.Errorf("orchestrator max pending bytes cannot be negative")
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	return nil
}

// SupervisorOptions returns the supervisor settings.
func (c *Config) SupervisorOptions() supervisor.Options {
	return supervisor.Options{
		ReadyInterval:  c.Supervisor.ReadyInterval,
		ReadyRetries:   c.Supervisor.ReadyRetries,
		StopGrace:      c.Supervisor.StopGrace,
		CallTimeout:    c.RPC.CallTimeout,
		LogLines:       c.Supervisor.LogLines,
		RestartBackoff: c.Supervisor.RestartBackoff,
	}
}

// Server returns the server record with id.
func (c *Config) Server(id string) (mcp.ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return mcp.ServerConfig{}, false
}

// ServerConfigs returns the server records ready to launch: the parent's
// proxy settings are added to each environment unless the record sets
// them itself.
func (c *Config) ServerConfigs() []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		out = append(out, withProxyEnv(s))
	}
	return out
}

var proxyVars = []string{"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "no_proxy"}

func withProxyEnv(s mcp.ServerConfig) mcp.ServerConfig {
	var env map[string]string
	for _, key := range proxyVars {
		val, ok := os.LookupEnv(key)
		if !ok || val == "" {
			continue
		}
		if _, set := s.Env[key]; set {
			continue
		}
		if env == nil {
			env = make(map[string]string, len(s.Env)+len(proxyVars))
			for k, v := range s.Env {
				env[k] = v
			}
		}
		env[key] = val
	}
	if env != nil {
		s.Env = env
	}
	return s
}
