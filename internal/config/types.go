package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the .mcpflow.toml file structure.
type Config struct {
	Servers []ServerConfig `toml:"servers"`
	Health  HealthConfig   `toml:"health"`
}

// ServerConfig is the launch and supervision configuration for a single MCP
// server. It is immutable once registered; updates replace it wholesale.
type ServerConfig struct {
	// Name is the unique name the server is registered and addressed under.
	Name string `toml:"name" yaml:"name"`

	// Command is the executable used to launch the server subprocess.
	Command string `toml:"command" yaml:"command"`

	// Args are passed to the command verbatim.
	Args []string `toml:"args,omitempty" yaml:"args,omitempty"`

	// Env contains environment variable overrides for the subprocess,
	// applied on top of the daemon's own environment.
	Env map[string]string `toml:"env,omitempty" yaml:"env,omitempty"`

	// Timeout bounds a single tool call or handshake request.
	Timeout Duration `toml:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Retries is the total number of attempts for a timed-out tool call.
	Retries int `toml:"retries,omitempty" yaml:"retries,omitempty"`

	// HealthInterval overrides the monitor's global check interval for this server.
	HealthInterval Duration `toml:"health_interval,omitempty" yaml:"health_interval,omitempty"`

	// AutoRestart enables the monitor's threshold-and-cooldown restart policy.
	AutoRestart bool `toml:"auto_restart,omitempty" yaml:"auto_restart,omitempty"`
}

// HealthConfig holds the monitor-wide health checking and restart policy settings.
type HealthConfig struct {
	// Interval between health check cycles.
	Interval Duration `toml:"interval,omitempty"`

	// CheckTimeout bounds a single liveness ping.
	CheckTimeout Duration `toml:"check_timeout,omitempty"`

	// FailureThreshold is the number of consecutive failures that makes a
	// server eligible for automatic restart.
	FailureThreshold int `toml:"failure_threshold,omitempty"`

	// RestartCooldown is the minimum time between automatic restarts of the
	// same server.
	RestartCooldown Duration `toml:"restart_cooldown,omitempty"`

	// ResponseAlarm is the response time above which an alert is raised and a
	// check is classified as degraded.
	ResponseAlarm Duration `toml:"response_alarm,omitempty"`

	// WindowSize is the number of response-time samples retained per server.
	WindowSize int `toml:"window_size,omitempty"`
}

// Duration wraps time.Duration so values can be written as strings
// (e.g. "30s") in TOML and YAML files.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Defaults applied by Load when the config file leaves settings unset.
const (
	DefaultCallTimeout      = 30 * time.Second
	DefaultRetries          = 3
	DefaultHealthInterval   = 30 * time.Second
	DefaultCheckTimeout     = 5 * time.Second
	DefaultFailureThreshold = 3
	DefaultRestartCooldown  = 5 * time.Minute
	DefaultResponseAlarm    = 5 * time.Second
	DefaultWindowSize       = 100
)
