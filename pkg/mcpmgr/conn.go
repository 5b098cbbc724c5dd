package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-orchestrator-go/pkg/wire"
)

// replyTimeout bounds answers to server-initiated requests.
const replyTimeout = 5 * time.Second

// maxConsecutiveBadFrames closes a connection whose stream keeps producing
// frames that cannot be decoded.
const maxConsecutiveBadFrames = 32

// serverConn owns one live connection and the table of calls awaiting a
// response on it. A single goroutine reads frames; any number of callers may
// send concurrently.
type serverConn struct {
	serverID string
	conn     mcp.Connection
	logger   *slog.Logger
	onClosed func(*serverConn, error)

	mu       sync.Mutex
	pending  map[string]*pendingCall
	closed   bool
	closeErr error

	closeOnce sync.Once
	done      chan struct{}
}

type pendingCall struct {
	method string
	sentAt time.Time
	// ch has room for exactly one outcome. Whoever removes the entry from
	// the pending table is the only writer.
	ch chan callOutcome
}

type callOutcome struct {
	result json.RawMessage
	err    error
}

func newServerConn(serverID string, conn mcp.Connection, logger *slog.Logger, onClosed func(*serverConn, error)) *serverConn {
	return &serverConn{
		serverID: serverID,
		conn:     conn,
		logger:   logger,
		onClosed: onClosed,
		pending:  make(map[string]*pendingCall),
		done:     make(chan struct{}),
	}
}

func (c *serverConn) start() {
	go c.readLoop()
}

// call sends one request and waits for its response, the timeout, ctx
// cancellation, or connection death, whichever comes first.
func (c *serverConn) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := wire.NewCallID()
	key := wire.CallKey(id)
	req, err := wire.EncodeRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{method: method, sentAt: time.Now(), ch: make(chan callOutcome, 1)}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("mcpmgr: %s on %q: %w", method, c.serverID, ErrConnectionClosed)
	}
	c.pending[key] = pc
	c.mu.Unlock()

	if err := c.conn.Write(ctx, req); err != nil {
		if c.take(key) != nil {
			return nil, fmt.Errorf("mcpmgr: sending %s to %q: %w", method, c.serverID, err)
		}
		out := <-pc.ch
		return out.result, out.err
	}
	c.logger.Debug("request sent", "server", c.serverID, "method", method, "request_id", key)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case out := <-pc.ch:
		return out.result, out.err
	case <-expired:
		if c.take(key) != nil {
			c.logger.Warn("request timed out",
				"server", c.serverID,
				"method", method,
				"request_id", key,
				"timeout", timeout,
			)
			return nil, fmt.Errorf("mcpmgr: %s on %q after %s: %w", method, c.serverID, timeout, ErrRequestTimeout)
		}
	case <-ctx.Done():
		if c.take(key) != nil {
			return nil, fmt.Errorf("mcpmgr: %s on %q: %w", method, c.serverID, ctx.Err())
		}
	}
	// Lost the race: the outcome is already buffered.
	out := <-pc.ch
	return out.result, out.err
}

// notify sends a notification; there is nothing to correlate.
func (c *serverConn) notify(ctx context.Context, method string, params any) error {
	msg, err := wire.EncodeNotification(method, params)
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, msg); err != nil {
		return fmt.Errorf("mcpmgr: sending %s to %q: %w", method, c.serverID, err)
	}
	return nil
}

func (c *serverConn) take(key string) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.pending[key]
	if !ok {
		return nil
	}
	delete(c.pending, key)
	return pc
}

func (c *serverConn) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *serverConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *serverConn) sessionID() string {
	return c.conn.SessionID()
}

func (c *serverConn) readLoop() {
	ctx := context.Background()
	bad := 0
	for {
		msg, err := c.conn.Read(ctx)
		if err != nil {
			if c.isClosed() || isTerminalReadError(err) {
				c.close(err)
				return
			}
			bad++
			if bad >= maxConsecutiveBadFrames {
				c.close(fmt.Errorf("%d consecutive undecodable frames: %w", bad, err))
				return
			}
			c.logger.Warn("dropping malformed frame", "server", c.serverID, "error", err)
			continue
		}
		bad = 0
		frame, err := wire.Decode(msg)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "server", c.serverID, "error", err)
			continue
		}
		switch frame.Kind {
		case wire.FrameResponse:
			c.dispatch(frame)
		case wire.FrameNotification:
			c.logger.Debug("ignoring notification", "server", c.serverID, "method", frame.Method)
		case wire.FrameRequest:
			go c.answer(frame)
		}
	}
}

// isTerminalReadError reports whether a Read error means the stream is gone.
// Decoding errors for a single frame leave the stream usable. Broken JSON
// and trailing garbage stop the transport's own reader, so they are terminal
// too.
func isTerminalReadError(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}
	return strings.Contains(err.Error(), "trailing data")
}

func (c *serverConn) dispatch(frame wire.Frame) {
	pc := c.take(frame.Key)
	if pc == nil {
		c.logger.Debug("discarding response for unknown request",
			"server", c.serverID,
			"request_id", frame.Key,
		)
		return
	}
	c.logger.Debug("response received",
		"server", c.serverID,
		"method", pc.method,
		"request_id", frame.Key,
		"elapsed", time.Since(pc.sentAt),
	)
	if frame.Err != nil {
		pc.ch <- callOutcome{err: frame.Err}
		return
	}
	pc.ch <- callOutcome{result: frame.Result}
}

// answer replies to a server-initiated request. Only ping is supported.
func (c *serverConn) answer(frame wire.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	var (
		resp *jsonrpc.Response
		err  error
	)
	if frame.Method == "ping" {
		resp, err = wire.EncodeResult(frame.ID, struct{}{})
	} else {
		resp, err = wire.EncodeError(frame.ID, wire.CodeMethodNotFound, fmt.Sprintf("method %q is not supported by this client", frame.Method))
	}
	if err != nil {
		c.logger.Warn("encoding reply", "server", c.serverID, "method", frame.Method, "error", err)
		return
	}
	if err := c.conn.Write(ctx, resp); err != nil {
		c.logger.Debug("replying to server request", "server", c.serverID, "method", frame.Method, "error", err)
	}
}

// close tears the connection down once. Every pending call fails with
// ErrConnectionClosed.
func (c *serverConn) close(cause error) error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeErr = cause
		pending := c.pending
		c.pending = make(map[string]*pendingCall)
		c.mu.Unlock()

		for key, pc := range pending {
			c.logger.Debug("failing pending request", "server", c.serverID, "method", pc.method, "request_id", key)
			pc.ch <- callOutcome{err: fmt.Errorf("mcpmgr: %s on %q: %w", pc.method, c.serverID, ErrConnectionClosed)}
		}
		closeErr = c.conn.Close()
		close(c.done)
		if c.onClosed != nil {
			c.onClosed(c, cause)
		}
	})
	return closeErr
}
