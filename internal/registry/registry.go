// Package registry holds the set of live MCP server clients, keyed by server
// name, and exposes tool invocation and aggregate health across all of them.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/mcpflow/mcpflow/internal/config"
	"github.com/mcpflow/mcpflow/internal/contracts"
	"github.com/mcpflow/mcpflow/internal/domain"
	apperr "github.com/mcpflow/mcpflow/internal/errors"
	"github.com/mcpflow/mcpflow/internal/protocol"
)

var (
	_ contracts.ClientAccessor = (*Registry)(nil)
	_ contracts.ToolCaller     = (*Registry)(nil)
)

// Registry is a keyed collection of server clients.
// It is safe for concurrent use by multiple goroutines.
type Registry struct {
	logger hclog.Logger
	opts   Options

	mu      sync.RWMutex
	clients map[string]contracts.ServerClient
}

// New creates an empty registry.
func New(opt ...Option) (*Registry, error) {
	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	return &Registry{
		logger:  opts.Logger.Named("registry"),
		opts:    opts,
		clients: make(map[string]contracts.ServerClient),
	}, nil
}

// Add constructs and initializes a client for the given configuration and
// registers it under its name. Adding an already-registered name is a no-op
// success; the existing client is kept.
func (r *Registry) Add(ctx context.Context, cfg config.ServerConfig) error {
	r.mu.RLock()
	_, exists := r.clients[cfg.Name]
	r.mu.RUnlock()
	if exists {
		return nil
	}

	c, err := r.opts.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("creating client for %q: %w", cfg.Name, err)
	}

	if err := c.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing client for %q: %w", cfg.Name, err)
	}

	r.mu.Lock()
	if _, raced := r.clients[cfg.Name]; raced {
		r.mu.Unlock()
		// Another caller won; tear down the spare.
		_ = c.Shutdown(ctx)
		return nil
	}
	r.clients[cfg.Name] = c
	r.mu.Unlock()

	r.logger.Info("Registered server", "name", cfg.Name)

	return nil
}

// Remove shuts down and evicts the named client.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	c, ok := r.clients[name]
	delete(r.clients, name)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", apperr.ErrServerNotFound, name)
	}

	if err := c.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down %q: %w", name, err)
	}

	r.logger.Info("Unregistered server", "name", name)

	return nil
}

// Client returns the live client for the given server name.
// It returns a boolean to indicate whether the client was found.
func (r *Registry) Client(name string) (contracts.ServerClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// List returns all known server names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// CallTool invokes a tool on the named server, validating the arguments
// against the tool's input schema first.
func (r *Registry) CallTool(
	ctx context.Context,
	server string,
	tool string,
	args map[string]any,
) (*protocol.CallToolResult, error) {
	c, ok := r.Client(server)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrServerNotFound, server)
	}

	if err := r.validateArguments(ctx, c, tool, args); err != nil {
		return nil, err
	}

	return c.CallTool(ctx, tool, args)
}

// ListTools returns the tools available on the named server.
func (r *Registry) ListTools(ctx context.Context, server string) ([]mcp.Tool, error) {
	c, ok := r.Client(server)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrServerNotFound, server)
	}
	return c.ListTools(ctx)
}

// AllHealth runs a health check against every client concurrently and
// aggregates the results by server name. A failing or panicking check
// becomes an unhealthy entry rather than failing the whole aggregation.
func (r *Registry) AllHealth(ctx context.Context) map[string]domain.ServerHealth {
	r.mu.RLock()
	clients := make(map[string]contracts.ServerClient, len(r.clients))
	for name, c := range r.clients {
		clients[name] = c
	}
	r.mu.RUnlock()

	var (
		resultMu sync.Mutex
		results  = make(map[string]domain.ServerHealth, len(clients))
	)

	g, ctx := errgroup.WithContext(ctx)
	for name, c := range clients {
		g.Go(func() error {
			health := r.checkOne(ctx, name, c)
			resultMu.Lock()
			results[name] = health
			resultMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (r *Registry) checkOne(ctx context.Context, name string, c contracts.ServerClient) (health domain.ServerHealth) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Health check panicked", "server", name, "panic", rec)
			health = domain.ServerHealth{
				Name:   name,
				Status: domain.HealthStatusUnhealthy,
				Error:  fmt.Sprintf("health check panicked: %v", rec),
			}
		}
	}()
	return c.HealthCheck(ctx)
}

// ShutdownAll shuts down every client concurrently and clears the registry.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]contracts.ServerClient)
	r.mu.Unlock()

	g := &errgroup.Group{}
	for name, c := range clients {
		g.Go(func() error {
			if err := c.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutting down %q: %w", name, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// validateArguments checks args against the tool's input schema when the
// cached tool definition carries one.
func (r *Registry) validateArguments(
	ctx context.Context,
	c contracts.ServerClient,
	tool string,
	args map[string]any,
) error {
	tools, err := c.ListTools(ctx)
	if err != nil {
		// No tool list, no validation; the server will reject bad calls itself.
		return nil
	}

	for _, t := range tools {
		if t.Name != tool {
			continue
		}
		if t.InputSchema.Type == "" {
			return nil
		}

		schemaJSON, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil
		}
		if args == nil {
			args = map[string]any{}
		}

		result, err := gojsonschema.Validate(
			gojsonschema.NewBytesLoader(schemaJSON),
			gojsonschema.NewGoLoader(args),
		)
		if err != nil || result.Valid() {
			return nil
		}

		return fmt.Errorf("%w: tool %q: %s", apperr.ErrInvalidArguments, tool, result.Errors()[0].String())
	}

	return nil
}
