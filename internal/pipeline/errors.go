package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies pipeline failures.
type Kind string

const (
	KindInvalidRequest       Kind = "invalid_request"
	KindPayloadTooLarge      Kind = "payload_too_large"
	KindToolNotFound         Kind = "tool_not_found"
	KindProcessFailed        Kind = "process_failed"
	KindUnsupportedOperation Kind = "unsupported_operation"
	KindUnsupportedParameter Kind = "unsupported_parameter"
	KindInputRejected        Kind = "input_rejected"
)

// Error is a pipeline failure with a short, user-visible message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// InvalidRequest reports malformed input or a missing field.
func InvalidRequest(format string, args ...any) *Error {
	return newError(KindInvalidRequest, nil, format, args...)
}

// PayloadTooLarge reports an upload above the configured ceiling.
func PayloadTooLarge(limit int64) *Error {
	return newError(KindPayloadTooLarge, nil, "file too large (max %d MB)", limit>>20)
}

// UnsupportedOperation reports a target outside the enumerated table.
func UnsupportedOperation(format string, args ...any) *Error {
	return newError(KindUnsupportedOperation, nil, format, args...)
}

// UnsupportedParameter reports an enumerable parameter outside its allowed set.
func UnsupportedParameter(name, value string) *Error {
	return newError(KindUnsupportedParameter, nil, "unsupported %s: %q", name, value)
}

// InputRejected reports input a tool recognizably cannot handle, such as an
// encrypted or corrupt document.
func InputRejected(err error, format string, args ...any) *Error {
	return newError(KindInputRejected, err, format, args...)
}

// ToolNotFound reports that no candidate for a tool could be resolved. The message
// names the tools and the override variable an operator can set.
func ToolNotFound(tools []string, env string) *Error {
	names := strings.Join(tools, ", ")
	if env == "" {
		return newError(KindToolNotFound, nil, "%s not found: install it and make sure it is on PATH", names)
	}
	return newError(KindToolNotFound, nil, "%s not found: install it or set %s to its absolute path", names, env)
}

// ProcessFailed wraps a subprocess failure.
func ProcessFailed(pe *ProcessError) *Error {
	return newError(KindProcessFailed, pe, "%s failed", pe.Tool)
}

// ProcessError is a subprocess that exited non-zero or could not be started.
type ProcessError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
}

// IsKind reports whether err is a pipeline error of the given kind.
func IsKind(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// StatusCode maps an error to the HTTP status the handler should answer with.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	}

	var pe *Error
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError
	}
	switch pe.Kind {
	case KindInvalidRequest, KindUnsupportedOperation, KindUnsupportedParameter, KindInputRejected:
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text safe to show a caller.
func Message(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	}
	return err.Error()
}
