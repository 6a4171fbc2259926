package mcpserver

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/codescope/codescope/internal/errors"
)

// JSON-RPC error codes drawn from spec.md §7's taxonomy, standard codes
// reserved below -32000.
const (
	CodeInvalidParams       = -32602
	CodeMethodNotFound      = -32601
	CodeInternalError       = -32603
	CodeNotFound            = -32001
	CodeTimeout             = -32002
	CodeSchemaIncompatible  = -32003
	CodeSemanticUnavailable = -32004
)

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message) }

// MapError maps an internal *errors.Error (or context cancellation) to the
// JSON-RPC error code its Kind corresponds to. Any other error is treated
// as an internal error rather than leaking its text verbatim.
func MapError(err error) *RPCError {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return &RPCError{Code: CodeTimeout, Message: "request deadline exceeded"}
	}
	if stderrors.Is(err, context.Canceled) {
		return &RPCError{Code: CodeTimeout, Message: "request canceled"}
	}

	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return &RPCError{Code: CodeNotFound, Message: err.Error()}
	case errors.KindTimeout:
		return &RPCError{Code: CodeTimeout, Message: err.Error()}
	case errors.KindSchemaIncompatible:
		return &RPCError{Code: CodeSchemaIncompatible, Message: err.Error()}
	case errors.KindSemanticUnavailable:
		return &RPCError{Code: CodeSemanticUnavailable, Message: err.Error()}
	case errors.KindConfigurationError:
		return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	default:
		return &RPCError{Code: CodeInternalError, Message: "internal error"}
	}
}

// InvalidParams builds a CodeInvalidParams error with msg verbatim, since
// it originates from this package's own input validation rather than a
// wrapped internal failure.
func InvalidParams(msg string) *RPCError {
	return &RPCError{Code: CodeInvalidParams, Message: msg}
}

// MethodNotFound builds a CodeMethodNotFound error for an unregistered
// tool name.
func MethodNotFound(name string) *RPCError {
	return &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("tool %q not found", name)}
}
