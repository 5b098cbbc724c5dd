package mcpmgr

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// HTTPAuthProvider dynamically supplies an Authorization header (for example,
// "Bearer <token>") for outbound HTTP requests initiated by the manager.
type HTTPAuthProvider func(context.Context) (string, error)

// HTTPRequestInit carries static request options for HTTP transports. Only
// headers are currently supported.
type HTTPRequestInit struct {
	Headers http.Header
}

// SSERequestInit carries extra headers used only by the SSE fallback.
type SSERequestInit struct {
	Headers http.Header
}

// StreamableReconnectionOptions configures the reconnect strategy for the
// Streamable HTTP transport.
type StreamableReconnectionOptions struct {
	MaxRetries int
}

// BaseServerConfig captures settings shared by all transport types.
type BaseServerConfig struct {
	// Name is a human readable label. Defaults to the server ID.
	Name string
	// Category and Tags are applied to every discovered tool that does not
	// declare its own in _meta.
	Category string
	Tags     []string
	// Timeout bounds the handshake and is the default for calls to this
	// server. Falls back to ManagerOptions.DefaultTimeout.
	Timeout    time.Duration
	Version    string
	OnError    func(error)
	LogJSONRPC bool
	RPCLogger  RPCLogger
}

// StdioServerConfig describes an MCP server launched via stdio.
type StdioServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	Env     map[string]string
}

func (c *StdioServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// HTTPServerConfig describes an MCP server reachable over HTTP transports.
type HTTPServerConfig struct {
	BaseServerConfig
	Endpoint   string
	HTTPClient *http.Client
	MaxRetries int

	RequestInit         *HTTPRequestInit
	EventSourceInit     *SSERequestInit
	AuthProvider        HTTPAuthProvider
	ReconnectionOptions *StreamableReconnectionOptions
	SessionID           string
	PreferSSE           *bool
}

func (c *HTTPServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// TransportServerConfig dials an arbitrary mcp.Transport, such as one half of
// mcp.NewInMemoryTransports.
type TransportServerConfig struct {
	BaseServerConfig
	Transport mcp.Transport
	// URL is reported in server snapshots. Defaults to "transport://<id>".
	URL string
}

func (c *TransportServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// ServerConfig is implemented by all transport-specific configurations.
type ServerConfig interface {
	base() *BaseServerConfig
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// DefaultClientName overrides the client name advertised during
	// initialization. When empty, the server ID is used.
	DefaultClientName string
	// DefaultClientVersion controls the semantic version reported to servers.
	DefaultClientVersion string
	// DefaultTimeout is applied whenever a server configuration omits an
	// explicit timeout.
	DefaultTimeout time.Duration
	// DefaultLogJSONRPC logs JSON-RPC traffic at debug level for all servers
	// unless overridden per server.
	DefaultLogJSONRPC bool
	// RPCLogger provides a custom logger for JSON-RPC traffic; it takes
	// precedence over DefaultLogJSONRPC.
	RPCLogger RPCLogger
	// AutoConnect registers all configured servers in the background
	// immediately after construction.
	AutoConnect bool
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// StatusBuffer is the per-subscriber buffer of status events.
	StatusBuffer int
}

func (o *ManagerOptions) normalized() ManagerOptions {
	if o == nil {
		return ManagerOptions{}
	}
	return *o
}
