package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpflow/mcpflow/internal/config"
	"github.com/mcpflow/mcpflow/internal/protocol"
)

// spawn is the default dialer: it launches the configured command with its
// argument list and environment overrides, wires the stdio pipes into a
// protocol.Conn, and pumps stderr lines into the logger.
func spawn(logger hclog.Logger, cfg config.ServerConfig) (transport, process, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)

	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start %q: %w", cfg.Command, err)
	}

	logger.Info("Started MCP server process", "command", cfg.Command, "args", cfg.Args, "pid", cmd.Process.Pid)

	go pumpStderr(logger, stderr)

	proc := &osProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(proc.done)
	}()

	return protocol.NewConn(logger, stdin, stdout), proc, nil
}

// pumpStderr forwards the child's stderr lines to the logger until EOF.
func pumpStderr(logger hclog.Logger, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logger.Info("stderr", "line", scanner.Text())
	}
}

// osProcess wraps a started exec.Cmd with liveness tracking.
type osProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *osProcess) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Terminate requests graceful exit via SIGTERM and escalates to SIGKILL when
// the grace period elapses. It waits for the process to be fully reaped.
func (p *osProcess) Terminate(grace time.Duration) error {
	if !p.Running() {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signalling process: %w", err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing process: %w", err)
	}
	<-p.done

	return nil
}
