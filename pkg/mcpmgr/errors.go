package mcpmgr

import (
	"errors"
	"strings"

	"github.com/vikashloomba/mcp-orchestrator-go/pkg/wire"
)

var (
	// ErrUnknownServer is returned for server IDs the manager has never seen.
	ErrUnknownServer = errors.New("unknown server")
	// ErrServerUnavailable is returned when a server is registered but not
	// connected.
	ErrServerUnavailable = errors.New("server unavailable")
	// ErrUnknownTool is returned when a server's catalog lacks the tool.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrRequestTimeout is returned when no response arrives in time.
	ErrRequestTimeout = errors.New("request timed out")
	// ErrConnectionClosed fails every call still pending when a connection
	// goes away.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrRegistration wraps connect and handshake failures.
	ErrRegistration = errors.New("registration failed")
)

func isMethodUnavailableError(err error, method string) bool {
	if err == nil {
		return false
	}
	var remote *wire.RemoteError
	if errors.As(err, &remote) && remote.Code == wire.CodeMethodNotFound {
		return true
	}
	lower := strings.ToLower(err.Error())
	if !(strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")) {
		return false
	}
	method = strings.ToLower(method)
	if strings.Contains(lower, method) {
		return true
	}
	for _, part := range strings.FieldsFunc(method, func(r rune) bool {
		return r == '/' || r == ':' || r == '.' || r == '_' || r == '-'
	}) {
		if part != "" && strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
