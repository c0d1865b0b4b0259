package registry

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpflow/mcpflow/internal/client"
	"github.com/mcpflow/mcpflow/internal/config"
	"github.com/mcpflow/mcpflow/internal/contracts"
)

// ClientFactory builds a server client for a configuration. The default
// factory spawns real subprocess-backed clients; tests substitute fakes.
type ClientFactory func(cfg config.ServerConfig) (contracts.ServerClient, error)

// Options contains optional configuration for the Registry.
// NewOptions should be used to create instances of Options.
type Options struct {
	Logger    hclog.Logger
	NewClient ClientFactory
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied over defaults.
func NewOptions(opt ...Option) (Options, error) {
	options := Options{
		Logger: hclog.NewNullLogger(),
	}
	options.NewClient = func(cfg config.ServerConfig) (contracts.ServerClient, error) {
		return client.New(cfg, client.WithLogger(options.Logger))
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

// WithClientFactory configures how server clients are constructed.
func WithClientFactory(f ClientFactory) Option {
	return func(o *Options) error {
		if f == nil {
			return fmt.Errorf("client factory cannot be nil")
		}
		o.NewClient = f
		return nil
	}
}
