// Package client owns a single MCP server subprocess end-to-end: spawning,
// the capability handshake, tool invocation with retry, liveness pings, and
// graceful or forced termination.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpflow/mcpflow/internal/config"
	"github.com/mcpflow/mcpflow/internal/contracts"
	"github.com/mcpflow/mcpflow/internal/domain"
	apperr "github.com/mcpflow/mcpflow/internal/errors"
	"github.com/mcpflow/mcpflow/internal/protocol"
)

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateShuttingDown  State = "shutting_down"
	StateTerminated    State = "terminated"
	StateFailed        State = "failed"
)

// State is a client's lifecycle state. Failed absorbs from Initializing and
// Ready; Terminated is terminal.
type State string

// transport is the request/response surface the client needs from a
// connection. protocol.Conn satisfies it; tests substitute fakes.
type transport interface {
	Call(ctx context.Context, method string, params, result any) error
	Notify(method string, params any) error
	Close() error
	Closed() bool
}

// process is the subprocess handle the client supervises.
type process interface {
	Running() bool
	Terminate(grace time.Duration) error
}

// dialer spawns the subprocess for a configuration and returns its transport
// and process handle.
type dialer func(logger hclog.Logger, cfg config.ServerConfig) (transport, process, error)

var _ contracts.ServerClient = (*Client)(nil)

// Client supervises one MCP server subprocess. It is safe for concurrent use:
// the transport demultiplexes in-flight requests by id, so calls from the
// health monitor and workflow steps may overlap.
type Client struct {
	cfg    config.ServerConfig
	logger hclog.Logger
	opts   Options

	mu    sync.Mutex
	state State
	conn  transport
	proc  process
	tools []mcp.Tool
}

// New creates a client for the given server configuration. No subprocess is
// spawned until Initialize.
func New(cfg config.ServerConfig, opt ...Option) (*Client, error) {
	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:    cfg,
		logger: opts.Logger.Named("client").With("server", cfg.Name),
		opts:   opts,
		state:  StateUninitialized,
	}, nil
}

// Name returns the unique server name the client was configured with.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Config returns the immutable configuration the client was built from.
func (c *Client) Config() config.ServerConfig {
	return c.cfg
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Initialize spawns the subprocess, performs the initialize handshake, sends
// the initialized notification and caches the server's tool list. Calling it
// on a ready client whose process is still live is a no-op success.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateReady:
		if c.proc != nil && c.proc.Running() && !c.conn.Closed() {
			c.mu.Unlock()
			return nil
		}
		// Process died underneath us; respawn.
	case StateInitializing:
		c.mu.Unlock()
		return fmt.Errorf("%w: initialization already in progress for %q", apperr.ErrClientNotReady, c.cfg.Name)
	case StateShuttingDown, StateTerminated:
		c.mu.Unlock()
		return fmt.Errorf("%w: client for %q has been shut down", apperr.ErrClientNotReady, c.cfg.Name)
	}
	c.state = StateInitializing
	c.mu.Unlock()

	conn, proc, err := c.opts.Dial(c.logger, c.cfg)
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("%w: failed to start %q: %w", apperr.ErrConnection, c.cfg.Name, err)
	}

	tools, err := c.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		_ = proc.Terminate(c.opts.ShutdownGrace)
		c.setState(StateFailed)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.proc = proc
	c.tools = tools
	c.state = StateReady
	c.mu.Unlock()

	c.logger.Info("Server ready", "tools", len(tools))

	return nil
}

func (c *Client) handshake(ctx context.Context, conn transport) ([]mcp.Tool, error) {
	initCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout.Std())
	defer cancel()

	var initResult protocol.InitializeResult
	err := conn.Call(initCtx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    protocol.ClientCapabilities{},
		ClientInfo:      c.opts.ClientInfo,
	}, &initResult)
	if err != nil {
		var rpcErr *protocol.RPCError
		if errors.As(err, &rpcErr) {
			return nil, fmt.Errorf("%w: server %q rejected initialize: %w", apperr.ErrProtocol, c.cfg.Name, rpcErr)
		}
		return nil, fmt.Errorf("%w: initialize handshake with %q failed: %w", apperr.ErrConnection, c.cfg.Name, err)
	}

	c.logger.Info(
		"Initialized MCP server",
		"serverName", initResult.ServerInfo.Name,
		"serverVersion", initResult.ServerInfo.Version,
		"protocolVersion", initResult.ProtocolVersion,
	)

	if err := conn.Notify(protocol.NotificationInitialized, nil); err != nil {
		return nil, fmt.Errorf("%w: initialized notification to %q failed: %w", apperr.ErrConnection, c.cfg.Name, err)
	}

	listCtx, cancelList := context.WithTimeout(ctx, c.cfg.Timeout.Std())
	defer cancelList()

	var listResult protocol.ListToolsResult
	if err := conn.Call(listCtx, protocol.MethodToolsList, nil, &listResult); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", apperr.ErrToolListFailed, c.cfg.Name, err)
	}

	return listResult.Tools, nil
}

// CallTool invokes a named tool on the server. Timeouts are retried up to the
// configured retry count with exponential backoff; an RPC-level error
// response becomes a non-retryable ToolError.
func (c *Client) CallTool(ctx context.Context, tool string, args map[string]any) (*protocol.CallToolResult, error) {
	conn, err := c.ready()
	if err != nil {
		return nil, err
	}

	attempts := c.cfg.Retries
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.BackoffInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)

	var result *protocol.CallToolResult
	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout.Std())
		defer cancel()

		var attemptResult protocol.CallToolResult
		callErr := conn.Call(callCtx, protocol.MethodToolsCall, protocol.CallToolParams{
			Name:      tool,
			Arguments: args,
		}, &attemptResult)

		switch {
		case callErr == nil:
			if attemptResult.IsError {
				return backoff.Permanent(&apperr.ToolError{
					Server:  c.cfg.Name,
					Tool:    tool,
					Message: attemptResult.Text(),
				})
			}
			result = &attemptResult
			return nil
		case errors.Is(callErr, apperr.ErrTimeout):
			c.logger.Warn("Tool call timed out, retrying", "tool", tool)
			return callErr
		default:
			var rpcErr *protocol.RPCError
			if errors.As(callErr, &rpcErr) {
				return backoff.Permanent(&apperr.ToolError{
					Server:  c.cfg.Name,
					Tool:    tool,
					Code:    rpcErr.Code,
					Message: rpcErr.Message,
				})
			}
			return backoff.Permanent(callErr)
		}
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("calling %q on %q: %w", tool, c.cfg.Name, err)
	}

	return result, nil
}

// ListTools returns the cached tool list. A client that was never initialized
// is initialized first.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	c.mu.Lock()
	state := c.state
	cached := make([]mcp.Tool, len(c.tools))
	copy(cached, c.tools)
	c.mu.Unlock()

	if state == StateReady {
		return cached, nil
	}
	if state != StateUninitialized {
		return nil, fmt.Errorf("%w: %q is %s", apperr.ErrClientNotReady, c.cfg.Name, state)
	}

	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tools := make([]mcp.Tool, len(c.tools))
	copy(tools, c.tools)
	return tools, nil
}

// HealthCheck pings the server and classifies the outcome. It never returns
// an error; every failure mode maps to a status.
func (c *Client) HealthCheck(ctx context.Context) domain.ServerHealth {
	now := time.Now().UTC()
	health := domain.ServerHealth{
		Name:        c.cfg.Name,
		LastChecked: &now,
	}

	c.mu.Lock()
	state := c.state
	conn := c.conn
	proc := c.proc
	c.mu.Unlock()

	switch state {
	case StateInitializing:
		health.Status = domain.HealthStatusStarting
		return health
	case StateShuttingDown:
		health.Status = domain.HealthStatusStopping
		return health
	case StateUninitialized, StateTerminated, StateFailed:
		health.Status = domain.HealthStatusOffline
		return health
	}

	if proc == nil || !proc.Running() || conn.Closed() {
		health.Status = domain.HealthStatusOffline
		health.Error = "process not running"
		return health
	}

	start := time.Now()
	err := conn.Call(ctx, protocol.MethodPing, nil, nil)
	elapsed := time.Since(start)
	health.ResponseTime = &elapsed

	switch {
	case err == nil && elapsed <= c.opts.DegradedAfter:
		health.Status = domain.HealthStatusHealthy
	case err == nil:
		health.Status = domain.HealthStatusDegraded
	default:
		var rpcErr *protocol.RPCError
		if errors.As(err, &rpcErr) {
			// The server answered the ping, just not happily.
			health.Status = domain.HealthStatusDegraded
		} else {
			health.Status = domain.HealthStatusUnhealthy
		}
		health.Error = err.Error()
	}

	return health
}

// Shutdown terminates the subprocess: a best-effort cancellation
// notification, then a graceful stop escalating to a forced kill. The client
// always ends Terminated with its caches cleared, even on error.
func (c *Client) Shutdown(_ context.Context) error {
	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	proc := c.proc
	c.state = StateShuttingDown
	c.mu.Unlock()

	var errs []error

	if conn != nil && !conn.Closed() {
		_ = conn.Notify(protocol.NotificationCancelled, protocol.CancelledParams{Reason: "shutdown"})
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing connection to %q: %w", c.cfg.Name, err))
		}
	}

	if proc != nil {
		if err := proc.Terminate(c.opts.ShutdownGrace); err != nil {
			errs = append(errs, fmt.Errorf("terminating %q: %w", c.cfg.Name, err))
		}
	}

	c.mu.Lock()
	c.state = StateTerminated
	c.conn = nil
	c.proc = nil
	c.tools = nil
	c.mu.Unlock()

	c.logger.Info("Server terminated")

	return errors.Join(errs...)
}

func (c *Client) ready() (transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil, fmt.Errorf("%w: %q is %s", apperr.ErrClientNotReady, c.cfg.Name, c.state)
	}
	return c.conn, nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
