package domain

import "time"

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusOffline   HealthStatus = "offline"
	HealthStatusStarting  HealthStatus = "starting"
	HealthStatusStopping  HealthStatus = "stopping"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthStatus represents the internal state of an MCP server's availability.
type HealthStatus string

// ServerHealth is a point-in-time view of an MCP server's health, produced on
// every monitor cycle and superseded by the next one.
type ServerHealth struct {
	Name         string         `json:"name"`
	Status       HealthStatus   `json:"status"`
	ResponseTime *time.Duration `json:"response_time,omitempty"`
	LastChecked  *time.Time     `json:"last_checked,omitempty"`
	Error        string         `json:"error,omitempty"`
	Uptime       float64        `json:"uptime"`
}

// ServerMetrics is a read-only snapshot of a server's rolling health metrics.
// Uptime and response-time figures are computed over the retained sample window.
type ServerMetrics struct {
	Name                string         `json:"name"`
	TotalChecks         int            `json:"total_checks"`
	TotalFailures       int            `json:"total_failures"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	RestartCount        int            `json:"restart_count"`
	Uptime              float64        `json:"uptime"`
	MeanResponseTime    time.Duration  `json:"mean_response_time"`
	P95ResponseTime     time.Duration  `json:"p95_response_time"`
	LastSuccess         *time.Time     `json:"last_success,omitempty"`
	LastFailure         *time.Time     `json:"last_failure,omitempty"`
	LastRestart         *time.Time     `json:"last_restart,omitempty"`
}
