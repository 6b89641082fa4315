package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"toolbridge/internal/tools"
)

// Wire methods.
const (
	MethodListTools = "listTools"
	MethodCallTool  = "callTool"

	// Slash-style aliases accepted by Server.
	methodListToolsAlias = "tools/list"
	methodCallToolAlias  = "tools/call"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is one line-delimited JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one line-delimited JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// CallParams are the params of a callTool request.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ListResult is the result of a listTools request.
type ListResult struct {
	Tools []tools.ToolDefinition `json:"tools"`
}

func newRequest(id int64, method string, params any) ([]byte, error) {
	req := Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = raw
	}
	return json.Marshal(req)
}

// idKey normalizes a request id so 7 and "7" correlate.
func idKey(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch id := v.(type) {
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case string:
		return id, true
	default:
		return "", false
	}
}

// parseResponse decodes line as a response. Lines that are not JSON
// objects carrying an id plus a result or error are not responses.
func parseResponse(line []byte) (*Response, string, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil, "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, "", false
	}
	key, ok := idKey(fields["id"])
	if !ok {
		return nil, "", false
	}
	_, hasResult := fields["result"]
	_, hasError := fields["error"]
	if !hasResult && !hasError {
		return nil, "", false
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, "", false
	}
	return &resp, key, true
}

// decodeListResult extracts tool definitions from a listTools result.
func decodeListResult(raw json.RawMessage) ([]tools.ToolDefinition, error) {
	var result ListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: listTools: %v", tools.ErrMalformedResponse, err)
	}
	if result.Tools == nil {
		return nil, fmt.Errorf("%w: listTools result has no tools member", tools.ErrMalformedResponse)
	}
	return result.Tools, nil
}
