package mcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"toolbridge/internal/logging"
	"toolbridge/internal/tools"
)

// HTTPClient speaks JSON-RPC to a server by POSTing one request per call
// to its endpoint.
type HTTPClient struct {
	serverID string
	endpoint string
	apiKey   string
	client   *http.Client

	nextID atomic.Int64

	mu       sync.Mutex
	closed   bool
	inflight map[int64]context.CancelFunc
}

// NewHTTPClient creates a client for endpoint. Requests honour the
// standard proxy environment variables.
func NewHTTPClient(serverID, endpoint, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		serverID: serverID,
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		},
		inflight: make(map[int64]context.CancelFunc),
	}
}

// Close cancels in-flight calls; they and later calls fail with ErrServerStopped.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	c.closed = true
	for id, cancel := range c.inflight {
		cancel()
		delete(c.inflight, id)
	}
	c.mu.Unlock()
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) stopped() error {
	return fmt.Errorf("%w: %s", tools.ErrServerStopped, c.serverID)
}

func (c *HTTPClient) call(ctx context.Context, method string, params any) (*Response, error) {
	id := c.nextID.Add(1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.stopped()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.inflight[id] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
		cancel()
	}()

	body, err := newRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	logging.Get(logging.CategoryRPC).Debug("[%s] POST %s id=%d", c.serverID, method, id)
	httpResp, err := c.client.Do(req)
	if err != nil {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil, c.stopped()
		}
		return nil, fmt.Errorf("request to %s failed: %w", c.serverID, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxLineBytes))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", c.serverID, err)
	}
	if httpResp.StatusCode >= 400 {
		return nil, fmt.Errorf("server %s returned status %d: %s", c.serverID, httpResp.StatusCode, bytes.TrimSpace(data))
	}

	resp, _, ok := parseResponse(data)
	if !ok {
		return nil, fmt.Errorf("%w: %s: %s", tools.ErrMalformedResponse, c.serverID, truncate(string(data), 200))
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}

// ListTools retrieves available tools from the server.
func (c *HTTPClient) ListTools(ctx context.Context) ([]tools.ToolDefinition, error) {
	resp, err := c.call(ctx, MethodListTools, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return decodeListResult(resp.Result)
}

// CallTool invokes a tool on the server.
func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	start := time.Now()
	resp, err := c.call(ctx, MethodCallTool, CallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	res, err := decodeCallResult(resp.Result)
	if err != nil {
		return nil, err
	}
	res.Latency = time.Since(start)
	return res, nil
}

// CheckHealth issues GET <endpoint>/health and succeeds on any 2xx.
func CheckHealth(ctx context.Context, client *http.Client, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Client = (*HTTPClient)(nil)

// Health checks the server's health endpoint.
func (c *HTTPClient) Health(ctx context.Context) error {
	return CheckHealth(ctx, c.client, c.endpoint)
}
