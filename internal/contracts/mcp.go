// Package contracts defines the interfaces between the supervision core's
// components, so each side can be exercised in isolation.
package contracts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpflow/mcpflow/internal/config"
	"github.com/mcpflow/mcpflow/internal/domain"
	"github.com/mcpflow/mcpflow/internal/protocol"
)

// ServerClient owns exactly one MCP server subprocess end-to-end: spawn,
// handshake, tool invocation, liveness ping, termination.
type ServerClient interface {
	// Name returns the unique server name the client was configured with.
	Name() string

	// Config returns the immutable configuration the client was built from.
	Config() config.ServerConfig

	// Initialize spawns the subprocess and performs the capability handshake.
	// Re-invoking on a ready client with a live process is a no-op success.
	Initialize(ctx context.Context) error

	// CallTool invokes a named tool, retrying timeouts up to the configured
	// retry count with exponential backoff.
	CallTool(ctx context.Context, tool string, args map[string]any) (*protocol.CallToolResult, error)

	// ListTools returns the cached tool list, refreshing it first if the
	// client was never initialized.
	ListTools(ctx context.Context) ([]mcp.Tool, error)

	// HealthCheck pings the server and classifies the outcome.
	// It never returns an error; failures become a status.
	HealthCheck(ctx context.Context) domain.ServerHealth

	// Shutdown terminates the subprocess, gracefully first, forcefully on
	// timeout. The client is unusable afterwards.
	Shutdown(ctx context.Context) error
}

// ClientAccessor provides a way to manage the set of live MCP server clients.
type ClientAccessor interface {
	// Add constructs and initializes a client for the given configuration.
	// Adding an already-registered name is a no-op success.
	Add(ctx context.Context, cfg config.ServerConfig) error

	// Remove shuts down and evicts the named client.
	Remove(ctx context.Context, name string) error

	// Client returns the live client for the given server name.
	// It returns a boolean to indicate whether the client was found.
	Client(name string) (ServerClient, bool)

	// List returns all known server names.
	List() []string

	// AllHealth runs a health check against every client concurrently.
	// A failing client yields an unhealthy entry, never an aggregate failure.
	AllHealth(ctx context.Context) map[string]domain.ServerHealth

	// ShutdownAll shuts down every client and clears the registry.
	ShutdownAll(ctx context.Context) error
}

// ToolCaller is the surface used to invoke tools ad hoc or from workflow steps.
type ToolCaller interface {
	// CallTool invokes a tool on the named server.
	CallTool(ctx context.Context, server, tool string, args map[string]any) (*protocol.CallToolResult, error)

	// ListTools returns the tools available on the named server.
	ListTools(ctx context.Context, server string) ([]mcp.Tool, error)
}

// HealthMonitor provides a way to interact with the health status of MCP servers.
type HealthMonitor interface {
	// RegisterServer adds a server to supervision and starts tracking it.
	RegisterServer(ctx context.Context, cfg config.ServerConfig) error

	// UnregisterServer stops tracking and shuts down the named server.
	UnregisterServer(ctx context.Context, name string) error

	// ServerStatus returns the latest health status for a single tracked server.
	ServerStatus(name string) (domain.ServerHealth, error)

	// AllStatuses returns the latest health status for all tracked servers.
	AllStatuses() []domain.ServerHealth

	// ForceRestart restarts the named server immediately, bypassing the
	// failure threshold and cooldown.
	ForceRestart(ctx context.Context, name string) error

	// Metrics returns the rolling metrics snapshot for a single tracked server.
	Metrics(name string) (domain.ServerMetrics, error)

	// AllMetrics returns rolling metrics snapshots for all tracked servers.
	AllMetrics() []domain.ServerMetrics
}
