package health

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpflow/mcpflow/internal/config"
)

// Options contains optional configuration for the Monitor.
// NewOptions should be used to create instances of Options.
type Options struct {
	// Logger is the base logger; the monitor derives a named sub-logger from it.
	Logger hclog.Logger

	// Interval between monitoring cycles.
	Interval time.Duration

	// CheckTimeout bounds a single liveness ping.
	CheckTimeout time.Duration

	// FailureThreshold is the consecutive-failure count that makes a server
	// with auto-restart enabled eligible for restart.
	FailureThreshold int

	// RestartCooldown is the minimum time between restart attempts of the
	// same server.
	RestartCooldown time.Duration

	// ResponseAlarm is the response time above which alerts are raised.
	ResponseAlarm time.Duration

	// WindowSize is the number of samples retained per server.
	WindowSize int

	// Now supplies the current time. Overridden in tests.
	Now func() time.Time
}

// Option defines a functional option for configuring Options.
// Options are applied in order, with later options overriding earlier ones.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied over defaults.
func NewOptions(opt ...Option) (Options, error) {
	options := Options{
		Logger:           hclog.NewNullLogger(),
		Interval:         config.DefaultHealthInterval,
		CheckTimeout:     config.DefaultCheckTimeout,
		FailureThreshold: config.DefaultFailureThreshold,
		RestartCooldown:  config.DefaultRestartCooldown,
		ResponseAlarm:    config.DefaultResponseAlarm,
		WindowSize:       config.DefaultWindowSize,
		Now:              time.Now,
	}

	for _, o := range opt {
		if o == nil {
			continue
		}
		if err := o(&options); err != nil {
			return Options{}, err
		}
	}

	return options, nil
}

// FromConfig applies the health section of the daemon config file.
func FromConfig(cfg config.HealthConfig) Option {
	return func(o *Options) error {
		o.Interval = cfg.Interval.Std()
		o.CheckTimeout = cfg.CheckTimeout.Std()
		o.FailureThreshold = cfg.FailureThreshold
		o.RestartCooldown = cfg.RestartCooldown.Std()
		o.ResponseAlarm = cfg.ResponseAlarm.Std()
		o.WindowSize = cfg.WindowSize
		return nil
	}
}

// WithLogger configures the base logger.
func WithLogger(logger hclog.Logger) Option {
	return func(o *Options) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		o.Logger = logger
		return nil
	}
}

// WithInterval configures the monitoring cycle interval.
func WithInterval(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("interval must be positive, got %v", d)
		}
		o.Interval = d
		return nil
	}
}

// WithCheckTimeout configures the per-ping timeout.
func WithCheckTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("check timeout must be positive, got %v", d)
		}
		o.CheckTimeout = d
		return nil
	}
}

// WithFailureThreshold configures the consecutive-failure restart threshold.
func WithFailureThreshold(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("failure threshold must be at least 1, got %d", n)
		}
		o.FailureThreshold = n
		return nil
	}
}

// WithRestartCooldown configures the minimum time between restarts.
func WithRestartCooldown(d time.Duration) Option {
	return func(o *Options) error {
		if d < 0 {
			return fmt.Errorf("restart cooldown cannot be negative, got %v", d)
		}
		o.RestartCooldown = d
		return nil
	}
}

// WithResponseAlarm configures the response-time alert threshold.
func WithResponseAlarm(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("response alarm must be positive, got %v", d)
		}
		o.ResponseAlarm = d
		return nil
	}
}

// WithWindowSize configures how many samples are retained per server.
func WithWindowSize(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("window size must be at least 1, got %d", n)
		}
		o.WindowSize = n
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Options) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		o.Now = now
		return nil
	}
}
