// Package config loads and validates the daemon configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	apperr "github.com/mcpflow/mcpflow/internal/errors"
)

var _ Loader = (*DefaultLoader)(nil)

// Loader loads daemon configuration from a file path.
type Loader interface {
	Load(path string) (*Config, error)
}

type DefaultLoader struct{}

// Load reads, decodes and validates the TOML config file at path.
// Defaults are applied to any per-server or health settings left unset.
func (d *DefaultLoader) Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to stat config file (%s): %w", path, err)
	}

	var cfg *Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config from file (%s): %w", path, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("config file is empty (%s)", path)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Health.Interval == 0 {
		c.Health.Interval = Duration(DefaultHealthInterval)
	}
	if c.Health.CheckTimeout == 0 {
		c.Health.CheckTimeout = Duration(DefaultCheckTimeout)
	}
	if c.Health.FailureThreshold == 0 {
		c.Health.FailureThreshold = DefaultFailureThreshold
	}
	if c.Health.RestartCooldown == 0 {
		c.Health.RestartCooldown = Duration(DefaultRestartCooldown)
	}
	if c.Health.ResponseAlarm == 0 {
		c.Health.ResponseAlarm = Duration(DefaultResponseAlarm)
	}
	if c.Health.WindowSize == 0 {
		c.Health.WindowSize = DefaultWindowSize
	}

	for i := range c.Servers {
		s := &c.Servers[i]
		if s.Timeout == 0 {
			s.Timeout = Duration(DefaultCallTimeout)
		}
		if s.Retries == 0 {
			s.Retries = DefaultRetries
		}
		if s.HealthInterval == 0 {
			s.HealthInterval = c.Health.Interval
		}
	}
}

// Validate checks structural validity: server names must be present and
// unique, and every server needs a launch command.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Servers))
	for _, s := range c.Servers {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("server name cannot be empty")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate server name: %s", name)
		}
		seen[name] = struct{}{}

		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("server %q: command cannot be empty", name)
		}
		if s.Retries < 0 {
			return fmt.Errorf("server %q: retries cannot be negative", name)
		}
	}
	return nil
}

// Server returns the configuration for the named server.
func (c *Config) Server(name string) (ServerConfig, error) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, nil
		}
	}
	return ServerConfig{}, fmt.Errorf("%w: %s", apperr.ErrServerNotFound, name)
}
