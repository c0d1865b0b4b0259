// Package health runs the periodic control loop that checks every registered
// MCP server, maintains rolling metrics, and applies the threshold-and-cooldown
// policy that triggers automatic restarts.
package health

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpflow/mcpflow/internal/config"
	"github.com/mcpflow/mcpflow/internal/contracts"
	"github.com/mcpflow/mcpflow/internal/domain"
	apperr "github.com/mcpflow/mcpflow/internal/errors"
)

var _ contracts.HealthMonitor = (*Monitor)(nil)

// Alert describes a health event worth notifying subscribers about: a server
// dropping offline, or a response time above the alarm threshold.
type Alert struct {
	Server       string
	Status       domain.HealthStatus
	ResponseTime time.Duration
	Reason       string
}

// AlertFunc receives alerts. Callbacks run synchronously on the monitor loop,
// so they must be quick.
type AlertFunc func(Alert)

// Monitor supervises registered servers through the client registry.
// It is safe for concurrent use by multiple goroutines.
type Monitor struct {
	logger   hclog.Logger
	registry contracts.ClientAccessor
	opts     Options

	mu      sync.RWMutex
	servers map[string]config.ServerConfig
	metrics map[string]*serverMetrics
	alerts  []AlertFunc

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor over the given registry. Servers are supervised only
// after RegisterServer; Start begins the periodic loop.
func New(registry contracts.ClientAccessor, opt ...Option) (*Monitor, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	return &Monitor{
		logger:   opts.Logger.Named("health"),
		registry: registry,
		opts:     opts,
		servers:  make(map[string]config.ServerConfig),
		metrics:  make(map[string]*serverMetrics),
	}, nil
}

// RegisterServer adds a server to supervision: it is tracked immediately and
// its client is created and initialized through the registry. A server whose
// initial launch fails stays tracked, so the restart policy can bring it up.
func (m *Monitor) RegisterServer(ctx context.Context, cfg config.ServerConfig) error {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return fmt.Errorf("server name cannot be empty")
	}

	m.mu.Lock()
	if _, exists := m.servers[name]; exists {
		m.mu.Unlock()
		return nil
	}
	m.servers[name] = cfg
	m.metrics[name] = newServerMetrics(m.opts.WindowSize)
	m.mu.Unlock()

	if err := m.registry.Add(ctx, cfg); err != nil {
		m.logger.Error("Initial launch failed, server remains tracked", "name", name, "error", err)
		return err
	}

	return nil
}

// UnregisterServer stops tracking and shuts down the named server.
func (m *Monitor) UnregisterServer(ctx context.Context, name string) error {
	m.mu.Lock()
	_, tracked := m.servers[name]
	delete(m.servers, name)
	delete(m.metrics, name)
	m.mu.Unlock()

	if !tracked {
		return fmt.Errorf("%w: %s", apperr.ErrHealthNotTracked, name)
	}

	if err := m.registry.Remove(ctx, name); err != nil {
		m.logger.Warn("Removing unregistered server from registry", "name", name, "error", err)
	}

	return nil
}

// Subscribe adds an alert callback, invoked whenever a server drops offline
// or exceeds the response-time alarm threshold.
func (m *Monitor) Subscribe(fn AlertFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, fn)
}

// Start begins the periodic check loop. It is a no-op if already running.
// The loop stops when ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(loopCtx)
}

// Stop halts the periodic loop and waits for the in-flight cycle to finish.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.RunChecks(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Stopping health checks")
			return
		case <-ticker.C:
			m.RunChecks(ctx)
		}
	}
}

// RunChecks performs one monitoring cycle over every tracked server that is
// due for a check, recording metrics and applying the restart policy.
func (m *Monitor) RunChecks(ctx context.Context) {
	m.mu.RLock()
	servers := maps.Clone(m.servers)
	m.mu.RUnlock()

	now := m.opts.Now()

	for name, cfg := range servers {
		if !m.due(name, cfg, now) {
			continue
		}

		h := m.check(ctx, name)

		m.mu.Lock()
		metrics, tracked := m.metrics[name]
		if !tracked {
			// Unregistered mid-cycle.
			m.mu.Unlock()
			continue
		}
		prev := metrics.lastHealth.Status
		metrics.record(h, now)
		eligible := cfg.AutoRestart &&
			metrics.consecutiveFailures >= m.opts.FailureThreshold &&
			(metrics.lastRestart == nil || now.Sub(*metrics.lastRestart) > m.opts.RestartCooldown)
		m.mu.Unlock()

		m.raiseAlerts(prev, h)

		if eligible {
			if err := m.restart(ctx, name, cfg); err != nil {
				m.logger.Error("Automatic restart failed", "name", name, "error", err)
			}
		}
	}
}

// due honors a per-server check interval longer than the loop interval.
func (m *Monitor) due(name string, cfg config.ServerConfig, now time.Time) bool {
	interval := cfg.HealthInterval.Std()
	if interval <= m.opts.Interval {
		return true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	metrics, ok := m.metrics[name]
	if !ok || metrics.lastChecked == nil {
		return true
	}
	return now.Sub(*metrics.lastChecked) >= interval
}

// check runs a bounded liveness check. A server with no live client is offline.
func (m *Monitor) check(ctx context.Context, name string) domain.ServerHealth {
	c, ok := m.registry.Client(name)
	if !ok {
		now := m.opts.Now()
		return domain.ServerHealth{
			Name:        name,
			Status:      domain.HealthStatusOffline,
			LastChecked: &now,
			Error:       "no client registered",
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.opts.CheckTimeout)
	defer cancel()

	return c.HealthCheck(checkCtx)
}

func (m *Monitor) raiseAlerts(prev domain.HealthStatus, h domain.ServerHealth) {
	m.mu.RLock()
	subscribers := slices.Clone(m.alerts)
	m.mu.RUnlock()

	if len(subscribers) == 0 {
		return
	}

	var alerts []Alert
	if h.Status == domain.HealthStatusOffline && prev != domain.HealthStatusOffline {
		alerts = append(alerts, Alert{
			Server: h.Name,
			Status: h.Status,
			Reason: "server went offline",
		})
	}
	if h.ResponseTime != nil && *h.ResponseTime > m.opts.ResponseAlarm {
		alerts = append(alerts, Alert{
			Server:       h.Name,
			Status:       h.Status,
			ResponseTime: *h.ResponseTime,
			Reason:       fmt.Sprintf("response time %s exceeds alarm threshold %s", h.ResponseTime, m.opts.ResponseAlarm),
		})
	}

	for _, alert := range alerts {
		for _, fn := range subscribers {
			fn(alert)
		}
	}
}

// restart replaces a server's client with a fresh process. The attempt is
// stamped regardless of outcome so the cooldown throttles retries too.
func (m *Monitor) restart(ctx context.Context, name string, cfg config.ServerConfig) error {
	m.logger.Warn("Restarting server", "name", name)

	m.mu.Lock()
	if metrics, ok := m.metrics[name]; ok {
		metrics.recordRestart(m.opts.Now())
	}
	m.mu.Unlock()

	if err := m.registry.Remove(ctx, name); err != nil {
		m.logger.Debug("Removing client before restart", "name", name, "error", err)
	}
	if err := m.registry.Add(ctx, cfg); err != nil {
		return fmt.Errorf("relaunching %q: %w", name, err)
	}

	m.logger.Info("Server restarted", "name", name)

	return nil
}

// ForceRestart restarts the named server immediately, bypassing the failure
// threshold and cooldown.
func (m *Monitor) ForceRestart(ctx context.Context, name string) error {
	m.mu.RLock()
	cfg, tracked := m.servers[name]
	m.mu.RUnlock()

	if !tracked {
		return fmt.Errorf("%w: %s", apperr.ErrHealthNotTracked, name)
	}

	return m.restart(ctx, name, cfg)
}

// ServerStatus returns the latest health status for a single tracked server.
func (m *Monitor) ServerStatus(name string) (domain.ServerHealth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics, ok := m.metrics[name]
	if !ok {
		return domain.ServerHealth{}, fmt.Errorf("%w: %s", apperr.ErrHealthNotTracked, name)
	}

	h := metrics.lastHealth
	if h.Name == "" {
		h = domain.ServerHealth{Name: name, Status: domain.HealthStatusUnknown}
	}
	return h, nil
}

// AllStatuses returns the latest health status for all tracked servers,
// sorted by name.
func (m *Monitor) AllStatuses() []domain.ServerHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]domain.ServerHealth, 0, len(m.metrics))
	for name, metrics := range m.metrics {
		h := metrics.lastHealth
		if h.Name == "" {
			h = domain.ServerHealth{Name: name, Status: domain.HealthStatusUnknown}
		}
		statuses = append(statuses, h)
	}

	slices.SortFunc(statuses, func(a, b domain.ServerHealth) int {
		return strings.Compare(a.Name, b.Name)
	})

	return statuses
}

// Metrics returns the rolling metrics snapshot for a single tracked server.
func (m *Monitor) Metrics(name string) (domain.ServerMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics, ok := m.metrics[name]
	if !ok {
		return domain.ServerMetrics{}, fmt.Errorf("%w: %s", apperr.ErrHealthNotTracked, name)
	}
	return metrics.snapshot(name), nil
}

// AllMetrics returns rolling metrics snapshots for all tracked servers,
// sorted by name.
func (m *Monitor) AllMetrics() []domain.ServerMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshots := make([]domain.ServerMetrics, 0, len(m.metrics))
	for name, metrics := range m.metrics {
		snapshots = append(snapshots, metrics.snapshot(name))
	}

	slices.SortFunc(snapshots, func(a, b domain.ServerMetrics) int {
		return strings.Compare(a.Name, b.Name)
	})

	return snapshots
}
