package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolbridge/internal/tools"
)

func echoRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.Tool{
		Name:        "echo",
		Description: "Echo the message back",
		Schema:      tools.ObjectSchema(map[string]tools.Property{"message": {Type: "string"}}, "message"),
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			msg, err := tools.StringArg(args, "message")
			if err != nil {
				return "", err
			}
			return msg, nil
		},
	}))
	return reg
}

// servePipes connects a StdioClient to Server.ServeStdio through pipes.
func servePipes(t *testing.T, srv *Server, opts ...StdioOption) *StdioClient {
	t.Helper()
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.ServeStdio(context.Background(), serverIn, serverOut)
		serverOut.Close()
	}()

	client := NewStdioClient("test", clientOut, clientIn, opts...)
	t.Cleanup(func() {
		client.Close()
		<-done
		<-client.Done()
	})
	return client
}

// fakeServer runs handle for every request line read from the client.
func fakeServer(t *testing.T, handle func(req Request, w io.Writer), opts ...StdioOption) *StdioClient {
	t.Helper()
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer serverOut.Close()
		scanner := bufio.NewScanner(serverIn)
		for scanner.Scan() {
			var req Request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			handle(req, serverOut)
		}
	}()

	client := NewStdioClient("fake", clientOut, clientIn, opts...)
	t.Cleanup(func() {
		client.Close()
		<-done
		<-client.Done()
	})
	return client
}

func TestStdioListAndCall(t *testing.T) {
	client := servePipes(t, NewServer("echo", echoRegistry(t)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	defs, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "echo", defs[0].Name)

	res, err := client.CallTool(ctx, "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "hi", res.Text())

	res, err = client.CallTool(ctx, "echo", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text(), "Error: invalid tool arguments")

	_, err = client.CallTool(ctx, "missing", nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeMethodNotFound, rpcErr.Code)
}

func TestStdioConcurrentCalls(t *testing.T) {
	client := servePipes(t, NewServer("echo", echoRegistry(t)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			want := fmt.Sprintf("msg-%d", n)
			res, err := client.CallTool(ctx, "echo", map[string]any{"message": want})
			if err != nil {
				errs <- err
				return
			}
			if res.Text() != want {
				errs <- fmt.Errorf("got %q, want %q", res.Text(), want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestStdioSkipsNoiseAndStringIDs(t *testing.T) {
	var noise []string
	var mu sync.Mutex

	client := fakeServer(t, func(req Request, w io.Writer) {
		var id any
		_ = json.Unmarshal(req.ID, &id)
		fmt.Fprintln(w, "Secure MCP Filesystem Server running on stdio")
		fmt.Fprintln(w, `{"note":"not a response"}`)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":"%v","result":{"tools":[{"name":"noisy"}]}}`+"\n", id)
	}, WithNoiseHandler(func(line string) {
		mu.Lock()
		noise = append(noise, line)
		mu.Unlock()
	}))

	defs, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "noisy", defs[0].Name)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, noise, 2)
}

func TestStdioOutOfOrderResponses(t *testing.T) {
	var mu sync.Mutex
	var held []Request

	client := fakeServer(t, func(req Request, w io.Writer) {
		mu.Lock()
		defer mu.Unlock()
		held = append(held, req)
		if len(held) < 2 {
			return
		}
		for i := len(held) - 1; i >= 0; i-- {
			var p CallParams
			_ = json.Unmarshal(held[i].Params, &p)
			resp, _ := json.Marshal(Response{JSONRPC: "2.0", ID: held[i].ID,
				Result: json.RawMessage(fmt.Sprintf(`%q`, p.Name))})
			fmt.Fprintln(w, string(resp))
		}
		held = nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := make(chan string, 2)
	for _, name := range []string{"first", "second"} {
		go func(n string) {
			res, err := client.CallTool(ctx, n, nil)
			if err != nil {
				results <- "error: " + err.Error()
				return
			}
			results <- n + "=" + res.Text()
		}(name)
	}
	got := []string{<-results, <-results}
	assert.ElementsMatch(t, []string{"first=first", "second=second"}, got)
}

func TestStdioCallTimeout(t *testing.T) {
	client := fakeServer(t, func(Request, io.Writer) {}, WithCallTimeout(50*time.Millisecond))

	_, err := client.CallTool(context.Background(), "slow", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStdioCloseFailsInFlight(t *testing.T) {
	client := fakeServer(t, func(Request, io.Writer) {})

	errCh := make(chan error, 1)
	go func() {
		_, err := client.CallTool(context.Background(), "never", nil)
		errCh <- err
	}()

	assert.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.pending) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, tools.ErrServerStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight call was not released")
	}

	_, err := client.ListTools(context.Background())
	assert.ErrorIs(t, err, tools.ErrServerStopped)
}

func TestStdioOutputClosedIsCrash(t *testing.T) {
	clientIn, serverOut := io.Pipe()
	_, clientOut := io.Pipe()
	client := NewStdioClient("dying", clientOut, clientIn)

	serverOut.Close()
	<-client.Done()

	_, err := client.ListTools(context.Background())
	assert.ErrorIs(t, err, tools.ErrProcessCrashed)
	client.Close()
}
