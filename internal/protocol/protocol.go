// Package protocol implements the line-delimited JSON-RPC 2.0 codec used to
// talk to MCP server subprocesses over stdio, including id-keyed correlation
// of concurrent in-flight requests.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Version is the only JSON-RPC version accepted on the wire.
const Version = "2.0"

// ProtocolVersion is the MCP protocol revision sent during the handshake.
const ProtocolVersion = "2024-11-05"

// Method names used against MCP servers.
const (
	MethodInitialize        = "initialize"
	MethodPing              = "ping"
	MethodToolsList         = "tools/list"
	MethodToolsCall         = "tools/call"
	NotificationInitialized = "notifications/initialized"
	NotificationCancelled   = "notifications/cancelled"
)

// Request is a single outbound JSON-RPC request or notification.
// A nil ID marks a notification: no response will ever arrive for it.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is a single inbound JSON-RPC response line.
// Exactly one of Result and Error is set on a valid response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object of a JSON-RPC error response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// InitializeParams are the typed parameters of the initialize handshake.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      mcp.Implementation `json:"clientInfo"`
}

// ClientCapabilities declares what this client supports. The daemon consumes
// tools only, so the object is intentionally empty.
type ClientCapabilities struct{}

// InitializeResult is the server's answer to the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    json.RawMessage    `json:"capabilities,omitempty"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
}

// ListToolsResult is the server's answer to tools/list.
type ListToolsResult struct {
	Tools []mcp.Tool `json:"tools"`
}

// CallToolParams are the typed parameters of tools/call.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallToolResult is the server's answer to tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content is one item of a tool result.
type Content struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Text returns the concatenated text content of a tool result.
func (r *CallToolResult) Text() string {
	var out string
	for _, c := range r.Content {
		out += c.Text
	}
	return out
}

// CancelledParams are the parameters of the notifications/cancelled
// notification sent during shutdown.
type CancelledParams struct {
	Reason string `json:"reason,omitempty"`
}
