package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-orchestrator-go/pkg/wire"
)

// maxToolPages stops tools/list pagination against servers that never
// exhaust their cursor.
const maxToolPages = 64

// CapabilityType names a facet a server advertises during initialize.
type CapabilityType string

const (
	CapabilityTools     CapabilityType = "tools"
	CapabilityResources CapabilityType = "resources"
	CapabilityPrompts   CapabilityType = "prompts"
	CapabilityMemory    CapabilityType = "memory"
)

// Capability is one advertised facet and the protocol version it was
// negotiated under.
type Capability struct {
	Type    CapabilityType `json:"type"`
	Version string         `json:"version"`
}

// Tool is a catalog entry. Schemas are kept as opaque JSON.
type Tool struct {
	Name         string          `json:"name"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Category     string          `json:"category,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	// Server is the ID of the owning server.
	Server string `json:"server"`
}

// HasTag reports whether the tool carries tag.
func (t Tool) HasTag(tag string) bool {
	return slices.Contains(t.Tags, tag)
}

// Server is a snapshot of a registered server.
type Server struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	URL             string              `json:"url"`
	Status          ConnectionStatus    `json:"status"`
	Capabilities    []Capability        `json:"capabilities"`
	Tools           []Tool              `json:"tools"`
	ServerInfo      *mcp.Implementation `json:"serverInfo,omitempty"`
	Instructions    string              `json:"instructions,omitempty"`
	ProtocolVersion string              `json:"protocolVersion,omitempty"`
	LastError       string              `json:"lastError,omitempty"`
	ConnectedAt     time.Time           `json:"connectedAt,omitzero"`
}

// HasCapability reports whether the server advertised the facet.
func (s Server) HasCapability(kind CapabilityType) bool {
	for _, c := range s.Capabilities {
		if c.Type == kind {
			return true
		}
	}
	return false
}

// ToolFilter narrows ListTools. Empty fields do not filter. A tool matches
// Tags when it carries any of them.
type ToolFilter struct {
	Servers    []string
	Categories []string
	Tags       []string
}

func (f ToolFilter) matches(t Tool) bool {
	if len(f.Servers) > 0 && !slices.Contains(f.Servers, t.Server) {
		return false
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, t.Category) {
		return false
	}
	if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, t.HasTag) {
		return false
	}
	return true
}

// catalog is what registration learns about a server.
type catalog struct {
	capabilities    []Capability
	tools           []Tool
	serverInfo      *mcp.Implementation
	instructions    string
	protocolVersion string
}

// handshake sends initialize and, on success, notifications/initialized. A
// remote error object degrades to an empty result; anything else means the
// connection is unusable.
func (m *Manager) handshake(ctx context.Context, serverID string, sc *serverConn, base *BaseServerConfig, timeout time.Duration) (*mcp.InitializeResult, error) {
	params := &mcp.InitializeParams{
		ProtocolVersion: wire.ProtocolVersion,
		Capabilities:    &mcp.ClientCapabilities{},
		ClientInfo: &mcp.Implementation{
			Name:    m.effectiveClientName(serverID),
			Version: m.effectiveClientVersion(base),
		},
	}
	raw, err := sc.call(ctx, "initialize", params, timeout)
	if err != nil {
		var remote *wire.RemoteError
		if errors.As(err, &remote) {
			m.logger.Warn("initialize rejected, continuing without capabilities",
				"server", serverID,
				"error", err,
			)
			return nil, nil
		}
		return nil, err
	}
	var res mcp.InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		m.logger.Warn("undecodable initialize result", "server", serverID, "error", err)
		return nil, nil
	}
	if err := sc.notify(ctx, "notifications/initialized", &mcp.InitializedParams{}); err != nil {
		return nil, err
	}
	return &res, nil
}

func capabilitiesOf(res *mcp.InitializeResult) []Capability {
	if res == nil || res.Capabilities == nil {
		return []Capability{}
	}
	caps := res.Capabilities
	version := res.ProtocolVersion
	out := make([]Capability, 0, 4)
	if caps.Tools != nil {
		out = append(out, Capability{Type: CapabilityTools, Version: version})
	}
	if caps.Resources != nil {
		out = append(out, Capability{Type: CapabilityResources, Version: version})
	}
	if caps.Prompts != nil {
		out = append(out, Capability{Type: CapabilityPrompts, Version: version})
	}
	if _, ok := caps.Experimental[string(CapabilityMemory)]; ok {
		out = append(out, Capability{Type: CapabilityMemory, Version: version})
	}
	return out
}

// discoverTools walks tools/list. Failures are logged and yield whatever was
// collected so far, never an error.
func (m *Manager) discoverTools(ctx context.Context, serverID string, sc *serverConn, base *BaseServerConfig, timeout time.Duration) []Tool {
	tools := []Tool{}
	cursor := ""
	seen := map[string]struct{}{}
	for page := 0; page < maxToolPages; page++ {
		raw, err := sc.call(ctx, "tools/list", &mcp.ListToolsParams{Cursor: cursor}, timeout)
		if err != nil {
			if isMethodUnavailableError(err, "tools/list") {
				m.logger.Debug("server does not list tools", "server", serverID)
			} else {
				m.logger.Warn("tools/list failed, continuing with partial catalog",
					"server", serverID,
					"error", err,
				)
			}
			return tools
		}
		var res mcp.ListToolsResult
		if err := json.Unmarshal(raw, &res); err != nil {
			m.logger.Warn("undecodable tools/list result", "server", serverID, "error", err)
			return tools
		}
		for _, t := range res.Tools {
			if t == nil || t.Name == "" {
				continue
			}
			tools = append(tools, convertTool(serverID, base, t))
		}
		if res.NextCursor == "" {
			return tools
		}
		if _, dup := seen[res.NextCursor]; dup {
			m.logger.Warn("tools/list cursor repeated, stopping", "server", serverID, "cursor", res.NextCursor)
			return tools
		}
		seen[res.NextCursor] = struct{}{}
		cursor = res.NextCursor
	}
	m.logger.Warn("tools/list pagination limit reached", "server", serverID, "pages", maxToolPages)
	return tools
}

func convertTool(serverID string, base *BaseServerConfig, t *mcp.Tool) Tool {
	tool := Tool{
		Name:         t.Name,
		Title:        t.Title,
		Description:  t.Description,
		InputSchema:  rawJSON(t.InputSchema),
		OutputSchema: rawJSON(t.OutputSchema),
		Category:     base.Category,
		Tags:         append([]string(nil), base.Tags...),
		Server:       serverID,
	}
	if cat, ok := t.Meta["category"].(string); ok && strings.TrimSpace(cat) != "" {
		tool.Category = cat
	}
	if tags := stringList(t.Meta["tags"]); len(tags) > 0 {
		tool.Tags = tags
	}
	return tool
}

func rawJSON(v any) json.RawMessage {
	switch s := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return s
	}
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return nil
	}
	return data
}

func stringList(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	case string:
		if s == "" {
			return nil
		}
		return []string{s}
	default:
		return nil
	}
}

// ListTools flattens every registered server's catalog and applies filter.
func (m *Manager) ListTools(filter ToolFilter) []Tool {
	ids := m.ListServers()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Tool
	for _, id := range ids {
		st, ok := m.states[id]
		if !ok {
			continue
		}
		for _, t := range st.catalog.tools {
			if filter.matches(t) {
				out = append(out, cloneTool(t))
			}
		}
	}
	return out
}

// Tool looks up one tool on one server.
func (m *Manager) Tool(serverID, name string) (Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[serverID]
	if !ok {
		return Tool{}, fmt.Errorf("mcpmgr: %w %q", ErrUnknownServer, serverID)
	}
	for _, t := range st.catalog.tools {
		if t.Name == name {
			return cloneTool(t), nil
		}
	}
	return Tool{}, fmt.Errorf("mcpmgr: %w %q on server %q", ErrUnknownTool, name, serverID)
}

func cloneTool(t Tool) Tool {
	t.Tags = append([]string(nil), t.Tags...)
	return t
}
