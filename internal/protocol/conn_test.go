package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	apperr "github.com/mcpflow/mcpflow/internal/errors"
)

// fakeServer answers requests arriving on the conn's stdin pipe via handler,
// writing the returned responses onto the conn's stdout pipe.
type fakeServer struct {
	stdout *io.PipeWriter

	mu       sync.Mutex
	requests []Request
}

func newFakeServer(t *testing.T, handler func(req Request) *Response) (*Conn, *fakeServer) {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	srv := &fakeServer{stdout: stdoutW}

	go func() {
		scanner := bufio.NewScanner(stdinR)
		for scanner.Scan() {
			var req Request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}

			srv.mu.Lock()
			srv.requests = append(srv.requests, req)
			srv.mu.Unlock()

			if handler == nil {
				continue
			}
			// Handle each request concurrently so responses can arrive out of
			// request order, as a real server's would.
			go func() {
				if resp := handler(req); resp != nil {
					srv.write(t, resp)
				}
			}()
		}
	}()

	conn := NewConn(hclog.NewNullLogger(), stdinW, stdoutR)
	t.Cleanup(func() { _ = conn.Close() })

	return conn, srv
}

func (s *fakeServer) write(t *testing.T, resp *Response) {
	t.Helper()

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	_, err = s.stdout.Write(append(data, '\n'))
	require.NoError(t, err)
}

func (s *fakeServer) writeRaw(t *testing.T, line string) {
	t.Helper()

	_, err := s.stdout.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (s *fakeServer) received() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func echoHandler(req Request) *Response {
	if req.ID == nil {
		return nil
	}
	result, _ := json.Marshal(map[string]string{"method": req.Method})
	return &Response{JSONRPC: Version, ID: *req.ID, Result: result}
}

func TestConn_Call_RoundTrip(t *testing.T) {
	t.Parallel()

	conn, srv := newFakeServer(t, echoHandler)

	var result map[string]string
	err := conn.Call(context.Background(), "ping", nil, &result)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"method": "ping"}, result)

	reqs := srv.received()
	require.Len(t, reqs, 1)
	require.Equal(t, Version, reqs[0].JSONRPC)
	require.NotNil(t, reqs[0].ID)
}

func TestConn_Call_DemultiplexesConcurrentCalls(t *testing.T) {
	t.Parallel()

	// The slow call's response arrives after the fast one, so responses come
	// back out of request order and must be routed by id.
	conn, _ := newFakeServer(t, func(req Request) *Response {
		if req.Method == "slow" {
			time.Sleep(100 * time.Millisecond)
		}
		return echoHandler(req)
	})

	var (
		wg           sync.WaitGroup
		slowResult   map[string]string
		fastResult   map[string]string
		slowErr      error
		fastErr      error
		fastReturned time.Time
		slowReturned time.Time
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		slowErr = conn.Call(context.Background(), "slow", nil, &slowResult)
		slowReturned = time.Now()
	}()
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond) // Ensure "slow" is written first.
		fastErr = conn.Call(context.Background(), "fast", nil, &fastResult)
		fastReturned = time.Now()
	}()
	wg.Wait()

	require.NoError(t, slowErr)
	require.NoError(t, fastErr)
	require.Equal(t, "slow", slowResult["method"])
	require.Equal(t, "fast", fastResult["method"])
	require.True(t, fastReturned.Before(slowReturned), "fast call should not wait behind slow call")
}

func TestConn_Call_RPCError(t *testing.T) {
	t.Parallel()

	conn, _ := newFakeServer(t, func(req Request) *Response {
		return &Response{
			JSONRPC: Version,
			ID:      *req.ID,
			Error:   &RPCError{Code: -32601, Message: "method not found"},
		}
	})

	err := conn.Call(context.Background(), "nope", nil, nil)
	require.Error(t, err)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32601, rpcErr.Code)
	require.Equal(t, "method not found", rpcErr.Message)
}

func TestConn_Call_Timeout(t *testing.T) {
	t.Parallel()

	conn, _ := newFakeServer(t, nil) // Server never answers.

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := conn.Call(ctx, "ping", nil, nil)
	require.ErrorIs(t, err, apperr.ErrTimeout)
}

func TestConn_ReadLoop_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	responded := make(chan int64, 1)
	conn, srv := newFakeServer(t, func(req Request) *Response {
		responded <- *req.ID
		return nil
	})

	done := make(chan error, 1)
	var result map[string]string
	go func() {
		done <- conn.Call(context.Background(), "ping", nil, &result)
	}()

	id := <-responded

	// Garbage, a foreign version, a response for an unknown id: all skipped.
	srv.writeRaw(t, `{not json`)
	srv.writeRaw(t, fmt.Sprintf(`{"jsonrpc":"1.0","id":%d,"result":{}}`, id))
	srv.writeRaw(t, `{"jsonrpc":"2.0","id":9999,"result":{"method":"stranger"}}`)
	srv.writeRaw(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"method":"ping"}}`, id))

	require.NoError(t, <-done)
	require.Equal(t, "ping", result["method"])
}

func TestConn_Notify_SendsNoID(t *testing.T) {
	t.Parallel()

	conn, srv := newFakeServer(t, nil)

	require.NoError(t, conn.Notify("notifications/initialized", nil))

	require.Eventually(t, func() bool {
		return len(srv.received()) == 1
	}, time.Second, 10*time.Millisecond)

	req := srv.received()[0]
	require.Nil(t, req.ID)
	require.Equal(t, "notifications/initialized", req.Method)
}

func TestConn_Close_UnblocksInFlightCalls(t *testing.T) {
	t.Parallel()

	conn, _ := newFakeServer(t, nil)

	done := make(chan error, 1)
	go func() {
		done <- conn.Call(context.Background(), "ping", nil, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.Close())

	err := <-done
	require.ErrorIs(t, err, apperr.ErrConnection)
	require.True(t, conn.Closed())
}

func TestConn_Call_AfterClose(t *testing.T) {
	t.Parallel()

	conn, _ := newFakeServer(t, nil)
	require.NoError(t, conn.Close())

	err := conn.Call(context.Background(), "ping", nil, nil)
	require.ErrorIs(t, err, apperr.ErrConnection)

	err = conn.Notify("ping", nil)
	require.ErrorIs(t, err, apperr.ErrConnection)
}

func TestConn_StdoutEOFClosesConnection(t *testing.T) {
	t.Parallel()

	conn, srv := newFakeServer(t, nil)

	require.NoError(t, srv.stdout.Close())

	require.Eventually(t, conn.Closed, time.Second, 10*time.Millisecond)
}

func TestCallToolResult_Text(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content []Content
		want    string
	}{
		{
			name: "no content",
			want: "",
		},
		{
			name:    "single text item",
			content: []Content{{Type: "text", Text: "hello"}},
			want:    "hello",
		},
		{
			name: "concatenates text items",
			content: []Content{
				{Type: "text", Text: "a"},
				{Type: "image", Data: json.RawMessage(`"zzz"`)},
				{Type: "text", Text: "b"},
			},
			want: "ab",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := &CallToolResult{Content: tc.content}
			require.Equal(t, tc.want, r.Text())
		})
	}
}
