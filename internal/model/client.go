package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/siderolabs/go-retry/retry"

	"toolbridge/internal/conversation"
	"toolbridge/internal/extract"
	"toolbridge/internal/logging"
	"toolbridge/internal/tools"
)

// Config selects the endpoint and model.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	// NativeTools sends tool definitions in the request and expects
	// structured tool calls back. Off, tools are described in the prompt
	// and calls are read from the text.
	NativeTools bool     `yaml:"native_tools"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	// RetryWindow bounds retries of rate-limited or failed requests
	// before streaming starts.
	RetryWindow time.Duration `yaml:"retry_window"`
}

// DefaultConfig targets a local Ollama server.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:11434/v1",
		Model:       "llama3.1",
		Timeout:     10 * time.Minute,
		NativeTools: true,
		RetryWindow: 30 * time.Second,
	}
}

// Client streams chat completions.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a client. Requests honour the proxy environment.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		},
	}
}

// Model returns the model name.
func (c *Client) Model() string { return c.cfg.Model }

// NativeTools reports whether tool definitions are sent in requests.
func (c *Client) NativeTools() bool { return c.cfg.NativeTools }

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() { c.httpClient.CloseIdleConnections() }

// Stream starts a completion for messages, offering defs as callable tools.
func (c *Client) Stream(ctx context.Context, messages []conversation.Message, defs []tools.ToolDefinition) (Stream, error) {
	log := logging.Get(logging.CategoryModel)

	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    toWireMessages(messages, c.cfg.NativeTools),
		Stream:      true,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if c.cfg.NativeTools && len(defs) > 0 {
		body.Tools = tools.AsFunctionTools(defs)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// The stream outlives this call, so its deadline is owned by the stream.
	sctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)

	var resp *http.Response
	attempt := func(context.Context) error {
		req, err := http.NewRequestWithContext(sctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			if sctx.Err() != nil {
				return sctx.Err()
			}
			return retry.ExpectedError(fmt.Errorf("request failed: %w", err))
		}
		if r.StatusCode == http.StatusOK {
			resp = r
			return nil
		}
		msg, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
		r.Body.Close()
		err = fmt.Errorf("API request failed with status %d: %s", r.StatusCode, strings.TrimSpace(string(msg)))
		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
			log.Warn("Model request failed, retrying: %v", err)
			return retry.ExpectedError(err)
		}
		return err
	}

	window := c.cfg.RetryWindow
	if window <= 0 {
		window = time.Second
	}
	if err := retry.Constant(window, retry.WithUnits(time.Second)).RetryWithContext(sctx, attempt); err != nil {
		cancel()
		return nil, err
	}

	log.Debug("Streaming %s with %d messages and %d tools", c.cfg.Model, len(messages), len(body.Tools))
	return newSSEStream(resp.Body, cancel), nil
}

// sseStream reads "data:" events of a chat completion stream.
type sseStream struct {
	body    io.ReadCloser
	cancel  context.CancelFunc
	scanner *bufio.Scanner

	calls    map[int]*extract.RawToolCall
	finished bool
}

func newSSEStream(body io.ReadCloser, cancel context.CancelFunc) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{
		body:    body,
		cancel:  cancel,
		scanner: scanner,
		calls:   make(map[int]*extract.RawToolCall),
	}
}

// Recv returns the next content delta. Assembled tool calls arrive in a
// final delta once the model finishes.
func (s *sseStream) Recv() (Delta, error) {
	if s.finished {
		return Delta{}, io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return s.finish()
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return Delta{}, fmt.Errorf("API error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		for i, tc := range choice.Delta.ToolCalls {
			s.mergeCall(i, tc)
		}
		if choice.Delta.Content != "" {
			return Delta{Content: choice.Delta.Content}, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Delta{}, fmt.Errorf("stream error: %w", err)
	}
	return s.finish()
}

// mergeCall folds one tool call fragment into the call at its index.
func (s *sseStream) mergeCall(pos int, tc wireToolCall) {
	idx := pos
	if tc.Index != nil {
		idx = *tc.Index
	}
	call, ok := s.calls[idx]
	if !ok {
		call = &extract.RawToolCall{}
		s.calls[idx] = call
	}
	if tc.ID != "" {
		call.ID = tc.ID
	}
	if call.Name == "" {
		call.Name = tc.Function.Name
	}
	call.Arguments += tc.Function.Arguments
}

func (s *sseStream) finish() (Delta, error) {
	s.finished = true
	if len(s.calls) == 0 {
		return Delta{}, io.EOF
	}
	idx := make([]int, 0, len(s.calls))
	for i := range s.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]extract.RawToolCall, 0, len(idx))
	for _, i := range idx {
		out = append(out, *s.calls[i])
	}
	return Delta{ToolCalls: out}, nil
}

// Close ends the stream and releases the connection.
func (s *sseStream) Close() error {
	s.cancel()
	return s.body.Close()
}
