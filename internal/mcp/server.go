package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"toolbridge/internal/logging"
	"toolbridge/internal/tools"
)

// Server exposes an in-process tool registry over the wire format, either
// on a pair of streams or as an HTTP handler.
type Server struct {
	name     string
	registry *tools.Registry
}

// NewServer creates a server for registry.
func NewServer(name string, registry *tools.Registry) *Server {
	return &Server{name: name, registry: registry}
}

// Handle executes one request. Tool failures become error results, not
// RPC errors, so the caller can show them to the model.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}
	log := logging.Get(logging.CategoryRPC)

	switch req.Method {
	case MethodListTools, methodListToolsAlias:
		raw, err := json.Marshal(ListResult{Tools: s.registry.Definitions()})
		if err != nil {
			resp.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
			return resp
		}
		resp.Result = raw

	case MethodCallTool, methodCallToolAlias:
		var params CallParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				resp.Error = &RPCError{Code: CodeInvalidParams, Message: err.Error()}
				return resp
			}
		}
		if params.Name == "" {
			resp.Error = &RPCError{Code: CodeInvalidParams, Message: "params.name is required"}
			return resp
		}

		var result *CallResult
		exec, err := s.registry.Execute(ctx, params.Name, params.Arguments)
		switch {
		case errors.Is(err, tools.ErrToolNotFound):
			resp.Error = &RPCError{Code: CodeMethodNotFound, Message: err.Error()}
			return resp
		case err != nil:
			log.Debug("[%s] %s failed: %v", s.name, params.Name, err)
			result = TextResult(tools.FormatError(err), true)
		default:
			result = TextResult(exec.Output, false)
		}
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
			return resp
		}
		resp.Result = raw

	default:
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
	return resp
}

// ServeStdio reads requests from r, one per line, and writes responses to
// w until r ends or ctx is done. Requests are handled concurrently.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	defer wg.Wait()

	write := func(resp Response) {
		data, err := json.Marshal(resp)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_, _ = w.Write(append(data, '\n'))
	}

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				write(Response{JSONRPC: "2.0", ID: json.RawMessage("null"),
					Error: &RPCError{Code: CodeParseError, Message: err.Error()}})
				continue
			}
			if len(req.ID) == 0 {
				// Notification: no reply.
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				write(s.Handle(ctx, req))
			}()
		}
	}
}

// Handler serves POST / for requests and GET /health for liveness.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "server": s.name})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req Request
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewDecoder(io.LimitReader(r.Body, maxLineBytes)).Decode(&req); err != nil {
			_ = json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", ID: json.RawMessage("null"),
				Error: &RPCError{Code: CodeParseError, Message: err.Error()}})
			return
		}
		_ = json.NewEncoder(w).Encode(s.Handle(r.Context(), req))
	})
	return mux
}
