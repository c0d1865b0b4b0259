package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	apperr "github.com/mcpflow/mcpflow/internal/errors"
)

// maxLineSize bounds a single inbound JSON-RPC line.
const maxLineSize = 4 * 1024 * 1024

// Conn frames requests onto a child process's stdin and demultiplexes
// response lines from its stdout by echoed request id, so multiple requests
// may be in flight concurrently. It is safe for concurrent use.
type Conn struct {
	logger hclog.Logger

	writeMu sync.Mutex
	stdin   io.WriteCloser

	mu      sync.Mutex
	pending map[int64]chan *Response

	nextID atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps the given stdio pipes and starts the response reader.
// The caller retains ownership of the underlying process; Close only tears
// down the pipes and fails any in-flight calls.
func NewConn(logger hclog.Logger, stdin io.WriteCloser, stdout io.Reader) *Conn {
	c := &Conn{
		logger:  logger,
		stdin:   stdin,
		pending: make(map[int64]chan *Response),
		closed:  make(chan struct{}),
	}
	go c.readLoop(stdout)
	return c
}

// Call sends a request and blocks until the matching response arrives, ctx is
// done, or the connection closes. A non-nil result is populated from the
// response's result object. An RPC-level error response is returned as an
// *RPCError so callers can inspect the server's code and message.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	select {
	case <-c.closed:
		return fmt.Errorf("%w: connection closed", apperr.ErrConnection)
	default:
	}

	id := c.nextID.Add(1)
	ch := make(chan *Response, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(Request{JSONRPC: Version, ID: &id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrConnection, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("%w: cannot decode %s result: %w", apperr.ErrProtocol, method, err)
			}
		}
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %s", apperr.ErrTimeout, method)
		}
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("%w: connection closed while awaiting %s response", apperr.ErrConnection, method)
	}
}

// Notify sends a notification. No response is expected or awaited.
func (c *Conn) Notify(method string, params any) error {
	select {
	case <-c.closed:
		return fmt.Errorf("%w: connection closed", apperr.ErrConnection)
	default:
	}

	if err := c.write(Request{JSONRPC: Version, Method: method, Params: params}); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrConnection, err)
	}
	return nil
}

// Close tears down the connection and unblocks all in-flight calls.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.stdin.Close()
	})
	return err
}

// Closed reports whether the connection has been torn down, either by Close
// or by the child ending its stdout stream.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) write(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", req.Method, err)
	}

	// Single-writer discipline on stdin: one full line at a time.
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s request: %w", req.Method, err)
	}
	return nil
}

// readLoop decodes stdout lines and routes each response to the pending call
// with the matching id. Malformed lines are logged and skipped, never fatal.
func (c *Conn) readLoop(stdout io.Reader) {
	defer c.Close()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("Discarding malformed JSON-RPC line", "error", err)
			continue
		}
		if resp.JSONRPC != Version {
			c.logger.Warn("Discarding response with unexpected JSON-RPC version", "version", resp.JSONRPC)
			continue
		}
		if resp.Result == nil && resp.Error == nil {
			// Server-initiated request or notification; the daemon does not
			// consume these.
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("No pending request for response id", "id", resp.ID)
			continue
		}

		select {
		case ch <- &resp:
		default:
		}
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		c.logger.Debug("Connection reader stopped", "error", err)
	}
}
