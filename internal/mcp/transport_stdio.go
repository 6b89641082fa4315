package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"toolbridge/internal/logging"
	"toolbridge/internal/tools"
)

const maxLineBytes = 16 << 20

// StdioClient speaks line-delimited JSON-RPC over a pair of streams,
// usually a child process's stdin and stdout. Any number of calls may be
// in flight; responses are matched to callers by id.
type StdioClient struct {
	serverID    string
	callTimeout time.Duration
	onNoise     func(line string)

	writeMu sync.Mutex
	w       io.WriteCloser

	mu      sync.Mutex
	pending map[string]chan reply
	nextID  int64
	failErr error

	done chan struct{}
}

type reply struct {
	resp *Response
	err  error
}

// StdioOption configures a StdioClient.
type StdioOption func(*StdioClient)

// WithCallTimeout bounds every call that has no earlier context deadline.
func WithCallTimeout(d time.Duration) StdioOption {
	return func(c *StdioClient) { c.callTimeout = d }
}

// WithNoiseHandler receives every output line that is not a response.
func WithNoiseHandler(fn func(line string)) StdioOption {
	return func(c *StdioClient) { c.onNoise = fn }
}

// NewStdioClient starts reading responses from r and writes requests to w.
func NewStdioClient(serverID string, w io.WriteCloser, r io.Reader, opts ...StdioOption) *StdioClient {
	c := &StdioClient{
		serverID: serverID,
		w:        w,
		pending:  make(map[string]chan reply),
		nextID:   1,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop(r)
	return c
}

// Done is closed once the output stream has ended.
func (c *StdioClient) Done() <-chan struct{} {
	return c.done
}

func (c *StdioClient) readLoop(r io.Reader) {
	defer close(c.done)
	log := logging.Get(logging.CategoryRPC)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp, key, ok := parseResponse(line)
		if !ok {
			log.Debug("[%s] skipping non-response output: %s", c.serverID, line)
			if c.onNoise != nil {
				c.onNoise(string(line))
			}
			continue
		}

		c.mu.Lock()
		ch, exists := c.pending[key]
		delete(c.pending, key)
		c.mu.Unlock()

		if !exists {
			log.Warn("[%s] response for unknown id %s", c.serverID, key)
			continue
		}
		ch <- reply{resp: resp}
	}

	err := fmt.Errorf("%w: %s output closed", tools.ErrProcessCrashed, c.serverID)
	if scanErr := scanner.Err(); scanErr != nil {
		err = fmt.Errorf("%w: reading %s: %v", tools.ErrProcessCrashed, c.serverID, scanErr)
	}
	c.Fail(err)
}

// Fail rejects every in-flight and future call with err. The first
// failure wins.
func (c *StdioClient) Fail(err error) {
	c.mu.Lock()
	if c.failErr == nil {
		c.failErr = err
	}
	pending := c.pending
	c.pending = make(map[string]chan reply)
	reason := c.failErr
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- reply{err: reason}
	}
}

// Close fails in-flight calls with ErrServerStopped and closes the request stream.
func (c *StdioClient) Close() error {
	c.Fail(fmt.Errorf("%w: %s", tools.ErrServerStopped, c.serverID))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.w.Close()
}

func (c *StdioClient) call(ctx context.Context, method string, params any) (*Response, error) {
	if c.callTimeout > 0 {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
		}
	}

	c.mu.Lock()
	if c.failErr != nil {
		err := c.failErr
		c.mu.Unlock()
		return nil, err
	}
	id := c.nextID
	c.nextID++
	key := fmt.Sprintf("%d", id)
	ch := make(chan reply, 1)
	c.pending[key] = ch
	c.mu.Unlock()

	data, err := newRequest(id, method, params)
	if err != nil {
		c.forget(key)
		return nil, err
	}

	c.writeMu.Lock()
	_, err = c.w.Write(append(data, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		c.forget(key)
		return nil, fmt.Errorf("failed to write request to %s: %w", c.serverID, err)
	}
	logging.Get(logging.CategoryRPC).Debug("[%s] -> %s id=%d", c.serverID, method, id)

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.resp.Error != nil {
			return nil, r.resp.Error
		}
		return r.resp, nil
	case <-ctx.Done():
		c.forget(key)
		return nil, fmt.Errorf("%s %s: %w", c.serverID, method, ctx.Err())
	}
}

func (c *StdioClient) forget(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

// ListTools retrieves available tools from the server.
func (c *StdioClient) ListTools(ctx context.Context) ([]tools.ToolDefinition, error) {
	resp, err := c.call(ctx, MethodListTools, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return decodeListResult(resp.Result)
}

// CallTool invokes a tool on the server.
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
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

var _ Client = (*StdioClient)(nil)
