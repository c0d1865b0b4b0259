package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpflow/mcpflow/internal/cmd"
	cmdopts "github.com/mcpflow/mcpflow/internal/cmd/options"
	"github.com/mcpflow/mcpflow/internal/config"
	"github.com/mcpflow/mcpflow/internal/flags"
	"github.com/mcpflow/mcpflow/internal/health"
	"github.com/mcpflow/mcpflow/internal/registry"
	"github.com/mcpflow/mcpflow/internal/workflow"
)

// shutdownTimeout bounds the graceful teardown of executions and servers.
const shutdownTimeout = 15 * time.Second

// DaemonCmd should be used to represent the 'daemon' command.
type DaemonCmd struct {
	*cmd.BaseCmd
	cfgLoader config.Loader
}

// NewDaemonCmd creates a newly configured (Cobra) command.
func NewDaemonCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &DaemonCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "daemon",
		Short: "Launches an `mcpflow` daemon instance",
		Long: "Launches an `mcpflow` daemon instance, which starts the configured MCP servers, " +
			"monitors their health and runs workflow definitions against them",
		RunE: c.run,
	}

	return cobraCommand, nil
}

// run is configured (via NewDaemonCmd) to be called by the Cobra framework when the command is executed.
// It may return an error (or nil, when there is no error).
func (c *DaemonCmd) run(_ *cobra.Command, _ []string) error {
	logger := c.Logger()

	cfg, err := c.cfgLoader.Load(flags.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	reg, err := registry.New(registry.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create client registry: %w", err)
	}

	monitor, err := health.New(reg, health.FromConfig(cfg.Health), health.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create health monitor: %w", err)
	}
	monitor.Subscribe(func(alert health.Alert) {
		logger.Warn("Health alert", "server", alert.Server, "status", alert.Status, "reason", alert.Reason)
	})

	engine, err := workflow.New(reg, workflow.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create workflow engine: %w", err)
	}
	if err := engine.LoadDir(flags.WorkflowsDir); err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}

	// Create the signal handling context for the application.
	daemonCtx, daemonCtxCancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM, syscall.SIGINT,
	)
	defer daemonCtxCancel()

	// Launch the configured servers. A server that fails to start stays
	// registered with the monitor, whose restart policy keeps trying it.
	for _, sc := range cfg.Servers {
		if err := monitor.RegisterServer(daemonCtx, sc); err != nil {
			logger.Error("Failed to launch server", "server", sc.Name, "error", err)
			continue
		}
		logger.Info("Launched server", "server", sc.Name)
	}

	monitor.Start(daemonCtx)
	logger.Info("Daemon running", "servers", len(cfg.Servers), "workflows", len(engine.List()))

	<-daemonCtx.Done()
	logger.Info("Shutting down daemon")

	return c.shutdown(engine, monitor, reg)
}

func (c *DaemonCmd) shutdown(engine *workflow.Engine, monitor *health.Monitor, reg *registry.Registry) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := engine.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("workflow engine shutdown: %w", err))
	}
	monitor.Stop()
	if err := reg.ShutdownAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	return errors.Join(errs...)
}
