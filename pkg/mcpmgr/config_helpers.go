package mcpmgr

import (
	"strings"
)

// Helpers for narrowing and inspecting ServerConfig values without a type
// switch at every call site.

// ConfigTransport identifies the transport family used by a ServerConfig.
type ConfigTransport string

const (
	TransportStdio  ConfigTransport = "stdio"
	TransportHTTP   ConfigTransport = "http"
	TransportCustom ConfigTransport = "transport"
)

// TransportOf returns the transport kind for a ServerConfig.
// Returns an empty string when the value is nil or an unknown implementation.
func TransportOf(cfg ServerConfig) ConfigTransport {
	switch cfg.(type) {
	case *StdioServerConfig:
		return TransportStdio
	case *HTTPServerConfig:
		return TransportHTTP
	case *TransportServerConfig:
		return TransportCustom
	default:
		return ""
	}
}

// IsStdio reports whether cfg is a *StdioServerConfig.
func IsStdio(cfg ServerConfig) bool {
	_, ok := cfg.(*StdioServerConfig)
	return ok
}

// IsHTTP reports whether cfg is a *HTTPServerConfig.
func IsHTTP(cfg ServerConfig) bool {
	_, ok := cfg.(*HTTPServerConfig)
	return ok
}

// AsStdio narrows cfg to *StdioServerConfig.
func AsStdio(cfg ServerConfig) (*StdioServerConfig, bool) {
	c, ok := cfg.(*StdioServerConfig)
	return c, ok
}

// AsHTTP narrows cfg to *HTTPServerConfig.
func AsHTTP(cfg ServerConfig) (*HTTPServerConfig, bool) {
	c, ok := cfg.(*HTTPServerConfig)
	return c, ok
}

// AsTransport narrows cfg to *TransportServerConfig.
func AsTransport(cfg ServerConfig) (*TransportServerConfig, bool) {
	c, ok := cfg.(*TransportServerConfig)
	return c, ok
}

// EndpointOf renders the address a config dials, used as Server.URL:
// the HTTP endpoint, a stdio:// command line, or the custom transport URL.
func EndpointOf(serverID string, cfg ServerConfig) string {
	switch c := cfg.(type) {
	case *StdioServerConfig:
		parts := append([]string{c.Command}, c.Args...)
		return "stdio://" + strings.TrimSpace(strings.Join(parts, " "))
	case *HTTPServerConfig:
		return c.Endpoint
	case *TransportServerConfig:
		if c.URL != "" {
			return c.URL
		}
		return "transport://" + serverID
	default:
		return ""
	}
}

// NameOf returns the configured display name, defaulting to the server ID.
func NameOf(serverID string, cfg ServerConfig) string {
	if cfg != nil {
		if name := strings.TrimSpace(cfg.base().Name); name != "" {
			return name
		}
	}
	return serverID
}
