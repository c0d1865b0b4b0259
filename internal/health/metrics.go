package health

import (
	"slices"
	"time"

	"github.com/mcpflow/mcpflow/internal/domain"
)

// sample is one health check outcome retained in the rolling window.
type sample struct {
	ok           bool
	responseTime time.Duration
	hasTime      bool
}

// serverMetrics is the per-server rolling state behind the monitor's metrics
// queries. It is mutated only by the monitor, under the monitor's lock.
type serverMetrics struct {
	window []sample
	size   int

	totalChecks         int
	totalFailures       int
	consecutiveFailures int
	restartCount        int

	lastSuccess *time.Time
	lastFailure *time.Time
	lastRestart *time.Time
	lastChecked *time.Time

	lastHealth domain.ServerHealth
}

func newServerMetrics(windowSize int) *serverMetrics {
	return &serverMetrics{
		window: make([]sample, 0, windowSize),
		size:   windowSize,
	}
}

// record appends a health check outcome. A check counts as a success when the
// server responded at all, healthy or degraded.
func (m *serverMetrics) record(h domain.ServerHealth, now time.Time) {
	ok := h.Status == domain.HealthStatusHealthy || h.Status == domain.HealthStatusDegraded

	s := sample{ok: ok}
	if h.ResponseTime != nil {
		s.responseTime = *h.ResponseTime
		s.hasTime = true
	}

	m.window = append(m.window, s)
	if len(m.window) > m.size {
		m.window = m.window[1:]
	}

	m.totalChecks++
	m.lastChecked = &now

	if ok {
		m.consecutiveFailures = 0
		m.lastSuccess = &now
	} else {
		m.totalFailures++
		m.consecutiveFailures++
		m.lastFailure = &now
	}

	h.Uptime = m.uptime()
	m.lastHealth = h
}

func (m *serverMetrics) recordRestart(now time.Time) {
	m.consecutiveFailures = 0
	m.restartCount++
	m.lastRestart = &now
}

// uptime is the success ratio over the retained window.
func (m *serverMetrics) uptime() float64 {
	if len(m.window) == 0 {
		return 0
	}
	var successes int
	for _, s := range m.window {
		if s.ok {
			successes++
		}
	}
	return float64(successes) / float64(len(m.window))
}

func (m *serverMetrics) snapshot(name string) domain.ServerMetrics {
	return domain.ServerMetrics{
		Name:                name,
		TotalChecks:         m.totalChecks,
		TotalFailures:       m.totalFailures,
		ConsecutiveFailures: m.consecutiveFailures,
		RestartCount:        m.restartCount,
		Uptime:              m.uptime(),
		MeanResponseTime:    m.meanResponseTime(),
		P95ResponseTime:     m.p95ResponseTime(),
		LastSuccess:         m.lastSuccess,
		LastFailure:         m.lastFailure,
		LastRestart:         m.lastRestart,
	}
}

func (m *serverMetrics) meanResponseTime() time.Duration {
	var (
		total time.Duration
		n     int
	)
	for _, s := range m.window {
		if s.hasTime {
			total += s.responseTime
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

func (m *serverMetrics) p95ResponseTime() time.Duration {
	times := make([]time.Duration, 0, len(m.window))
	for _, s := range m.window {
		if s.hasTime {
			times = append(times, s.responseTime)
		}
	}
	if len(times) == 0 {
		return 0
	}

	slices.Sort(times)
	idx := (len(times)*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	return times[idx]
}
