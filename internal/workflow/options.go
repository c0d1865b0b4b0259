package workflow

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpflow/mcpflow/internal/config"
)

// Options contains configurable options for the workflow Engine.
type Options struct {
	Logger             hclog.Logger
	DefaultStepTimeout time.Duration
}

// Option is a functional option that configures Options.
type Option func(*Options) error

func defaultOptions() Options {
	return Options{
		Logger:             hclog.NewNullLogger(),
		DefaultStepTimeout: config.DefaultCallTimeout,
	}
}

// NewOptions creates Options from the defaults, applying any given opts.
func NewOptions(opt ...Option) (Options, error) {
	opts := defaultOptions()

	for _, o := range opt {
		if err := o(&opts); err != nil {
			return Options{}, err
		}
	}

	return opts, nil
}

// WithLogger sets the logger the engine should use.
func WithLogger(logger hclog.Logger) Option {
	return func(o *Options) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		o.Logger = logger
		return nil
	}
}

// WithDefaultStepTimeout sets the timeout applied to steps that do not
// declare their own.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("default step timeout must be positive")
		}
		o.DefaultStepTimeout = d
		return nil
	}
}
