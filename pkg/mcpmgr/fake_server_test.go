package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-orchestrator-go/pkg/wire"
)

// fakeServer is both the transport and the connection. It answers initialize
// and tools/list itself and hands every other call to the test through
// requests, so tests decide when and in what order responses arrive.
type fakeServer struct {
	in        chan jsonrpc.Message
	out       chan jsonrpc.Message
	closed    chan struct{}
	closeOnce sync.Once

	requests chan *jsonrpc.Request
	replies  chan *jsonrpc.Response

	initCode  int64
	toolPages [][]map[string]any
	listCalls atomic.Int32
}

func newFakeServer(t *testing.T, toolPages ...[]map[string]any) *fakeServer {
	t.Helper()
	f := &fakeServer{
		in:        make(chan jsonrpc.Message, 16),
		out:       make(chan jsonrpc.Message, 16),
		closed:    make(chan struct{}),
		requests:  make(chan *jsonrpc.Request, 16),
		replies:   make(chan *jsonrpc.Response, 16),
		toolPages: toolPages,
	}
	go f.serve()
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func (f *fakeServer) Connect(context.Context) (mcp.Connection, error) { return f, nil }

func (f *fakeServer) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg := <-f.in:
		return msg, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeServer) Write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case f.out <- msg:
		return nil
	case <-f.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeServer) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeServer) SessionID() string { return "" }

func (f *fakeServer) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeServer) serve() {
	for {
		select {
		case msg := <-f.out:
			f.handle(msg)
		case <-f.closed:
			return
		}
	}
}

func (f *fakeServer) handle(msg jsonrpc.Message) {
	switch m := msg.(type) {
	case *jsonrpc.Response:
		f.replies <- m
	case *jsonrpc.Request:
		if !m.IsCall() {
			return
		}
		switch m.Method {
		case "initialize":
			if f.initCode != 0 {
				f.fail(m.ID, f.initCode, "initialize refused")
				return
			}
			f.reply(m.ID, map[string]any{
				"protocolVersion": wire.ProtocolVersion,
				"capabilities": map[string]any{
					"tools":        map[string]any{},
					"experimental": map[string]any{"memory": map[string]any{}},
				},
				"serverInfo": map[string]any{"name": "fake", "version": "0.1.0"},
			})
		case "tools/list":
			f.listCalls.Add(1)
			var params struct {
				Cursor string `json:"cursor"`
			}
			_ = json.Unmarshal(m.Params, &params)
			page, _ := strconv.Atoi(params.Cursor)
			res := map[string]any{"tools": []map[string]any{}}
			if page < len(f.toolPages) {
				res["tools"] = f.toolPages[page]
			}
			if page+1 < len(f.toolPages) {
				res["nextCursor"] = strconv.Itoa(page + 1)
			}
			f.reply(m.ID, res)
		default:
			f.requests <- m
		}
	}
}

func (f *fakeServer) reply(id jsonrpc.ID, result any) {
	data, _ := json.Marshal(result)
	f.deliver(&jsonrpc.Response{ID: id, Result: data})
}

func (f *fakeServer) fail(id jsonrpc.ID, code int64, message string) {
	resp, err := wire.EncodeError(id, code, message)
	if err != nil {
		panic(err)
	}
	f.deliver(resp)
}

func (f *fakeServer) deliver(msg jsonrpc.Message) {
	select {
	case f.in <- msg:
	case <-f.closed:
	}
}

func (f *fakeServer) nextRequest(t *testing.T) *jsonrpc.Request {
	t.Helper()
	select {
	case req := <-f.requests:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request reached the fake server")
		return nil
	}
}

// sequenceTransport hands out a fresh connection per Connect.
type sequenceTransport struct {
	mu    sync.Mutex
	conns []*fakeServer
}

func (s *sequenceTransport) Connect(context.Context) (mcp.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil, errors.New("no more connections")
	}
	next := s.conns[0]
	s.conns = s.conns[1:]
	return next, nil
}

type failingTransport struct{ err error }

func (f failingTransport) Connect(context.Context) (mcp.Connection, error) { return nil, f.err }

func toolDef(name string, meta map[string]any) map[string]any {
	def := map[string]any{
		"name":        name,
		"description": name + " tool",
		"inputSchema": map[string]any{"type": "object"},
	}
	if meta != nil {
		def["_meta"] = meta
	}
	return def
}

func quietManager(opts *ManagerOptions) *Manager {
	if opts == nil {
		opts = &ManagerOptions{}
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	return NewManager(nil, opts)
}
