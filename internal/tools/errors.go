package tools

import (
	"errors"
	"strings"
)

// Error taxonomy. Every failure that reaches the model is rendered with
// FormatError; callers match kinds with errors.Is.
var (
	ErrAccessDenied        = errors.New("access denied - path outside allowed directories")
	ErrNotFound            = errors.New("no such file or directory")
	ErrNotAFile            = errors.New("not a file")
	ErrNotADirectory       = errors.New("not a directory")
	ErrAlreadyExists       = errors.New("destination already exists")
	ErrProcessStartTimeout = errors.New("server did not become ready in time")
	ErrProcessCrashed      = errors.New("server process exited unexpectedly")
	ErrMalformedResponse   = errors.New("malformed response from server")
	ErrToolNotFound        = errors.New("tool not found")
	ErrArgumentDecode      = errors.New("could not decode tool arguments")
	ErrServerStopped       = errors.New("server stopped")
	ErrServerNotFound      = errors.New("server not configured")
	ErrToolLoopLimit       = errors.New("tool loop limit reached")
	ErrInvalidArguments    = errors.New("invalid tool arguments")

	// Registry errors.
	ErrToolNameEmpty         = errors.New("tool name cannot be empty")
	ErrToolExecuteNil        = errors.New("tool execute function cannot be nil")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	ErrMissingRequiredArg    = errors.New("missing required argument")
	ErrInvalidArgType        = errors.New("invalid argument type")
)

// FormatError renders err as the text of a failed tool result.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "Error: ") {
		return msg
	}
	return "Error: " + msg
}
