// Package errors defines domain-level errors used throughout the application.
// These errors describe failures in the supervision and workflow layers and
// are wrapped with context at each call site via fmt.Errorf and %w.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection indicates that an MCP server subprocess is absent or unreachable.
	// This is fatal for the current call and may trigger the restart policy.
	ErrConnection = errors.New("server connection failed")

	// ErrTimeout indicates that a call to an MCP server did not complete in time.
	// Calls that hit this error are retried up to the configured retry count before it is surfaced.
	ErrTimeout = errors.New("call timed out")

	// ErrProtocol indicates malformed JSON-RPC traffic from an MCP server.
	// This is never retried.
	ErrProtocol = errors.New("protocol error")

	// ErrClientNotReady indicates that an operation requiring an initialized client
	// was attempted against a client in another lifecycle state.
	ErrClientNotReady = errors.New("client not ready")

	// ErrServerNotFound indicates that the requested MCP server does not exist or is not registered.
	ErrServerNotFound = errors.New("server not found")

	// ErrToolCallFailed indicates that calling a tool on an MCP server failed.
	ErrToolCallFailed = errors.New("tool call failed")

	// ErrToolListFailed indicates that listing tools from an MCP server failed.
	ErrToolListFailed = errors.New("tool list failed")

	// ErrInvalidArguments indicates that tool arguments did not satisfy the tool's input schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrHealthNotTracked indicates that health monitoring is not enabled for the specified server.
	ErrHealthNotTracked = errors.New("server health is not being tracked")

	// ErrWorkflowValidation indicates a structurally invalid workflow definition.
	// Raised before any execution starts.
	ErrWorkflowValidation = errors.New("workflow validation failed")

	// ErrWorkflowExecution indicates an execution-scoped failure after validation passed.
	ErrWorkflowExecution = errors.New("workflow execution failed")

	// ErrWorkflowNotFound indicates that the requested workflow does not exist.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates that the requested workflow execution does not exist.
	ErrExecutionNotFound = errors.New("execution not found")
)

// ToolError carries an RPC-level error response returned by an MCP server.
// It is not retryable: the server answered, the answer was an error.
type ToolError struct {
	Server  string
	Tool    string
	Code    int
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %q on server %q failed: %s (code %d)", e.Tool, e.Server, e.Message, e.Code)
}

func (e *ToolError) Unwrap() error {
	return ErrToolCallFailed
}

// StepError carries a step-scoped workflow failure, including the id of the
// step that failed.
type StepError struct {
	StepID string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.StepID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
