package client

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
)

// Options contains optional configuration for a Client.
// NewOptions should be used to create instances of Options.
type Options struct {
	// Logger is the base logger; the client derives a named sub-logger from it.
	Logger hclog.Logger

	// ClientInfo identifies this daemon during the initialize handshake.
	ClientInfo mcp.Implementation

	// Dial spawns the subprocess for the client's configuration.
	Dial dialer

	// DegradedAfter is the ping latency above which a healthy response is
	// classified as degraded.
	DegradedAfter time.Duration

	// BackoffInterval is the initial delay between tool call retries.
	BackoffInterval time.Duration

	// ShutdownGrace is how long to wait for graceful process exit before
	// escalating to a forced kill.
	ShutdownGrace time.Duration
}

// Option defines a functional option for configuring Options.
// Options are applied in order, with later options overriding earlier ones.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied over defaults.
func NewOptions(opt ...Option) (Options, error) {
	options := defaultOptions()

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

func defaultOptions() Options {
	return Options{
		Logger: hclog.NewNullLogger(),
		ClientInfo: mcp.Implementation{
			Name:    "mcpflow",
			Version: "0.1.0",
		},
		Dial:            spawn,
		DegradedAfter:   2 * time.Second,
		BackoffInterval: 500 * time.Millisecond,
		ShutdownGrace:   5 * time.Second,
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

// WithClientInfo configures the client identity sent during the handshake.
func WithClientInfo(info mcp.Implementation) Option {
	return func(o *Options) error {
		if info.Name == "" {
			return fmt.Errorf("client info name cannot be empty")
		}
		o.ClientInfo = info
		return nil
	}
}

// WithDegradedAfter configures the latency threshold for degraded pings.
func WithDegradedAfter(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("degraded threshold must be positive, got %v", d)
		}
		o.DegradedAfter = d
		return nil
	}
}

// WithBackoffInterval configures the initial retry backoff interval.
func WithBackoffInterval(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("backoff interval must be positive, got %v", d)
		}
		o.BackoffInterval = d
		return nil
	}
}

// WithShutdownGrace configures the graceful termination window.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("shutdown grace must be positive, got %v", d)
		}
		o.ShutdownGrace = d
		return nil
	}
}

func withDialer(d dialer) Option {
	return func(o *Options) error {
		o.Dial = d
		return nil
	}
}
