package mcpgateway

import (
	"fmt"
	"net/url"
	"strings"
)

// NamespaceStrategy generates the downstream identifiers for upstream
// servers. Implementations must be deterministic and collision-free for a
// given serverID/name pair.
type NamespaceStrategy interface {
	ToolName(serverID, toolName string) string
	PromptName(serverID, promptName string) string
	ResourceURI(serverID, resourceURI string) string
	ResourceTemplateURI(serverID, templateURI string) string
	NativeResourceURI(serverID, gatewayURI string) (string, bool)
	NativeResourceTemplateURI(serverID, gatewayURI string) (string, bool)
}

// ServerPrefixNamespace prefixes every identifier with the originating server
// ID. Tool and prompt names are joined with Separator (default "__"); resource
// URIs are wrapped as "orchestrator+<server>/<kind>::<native>".
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "__"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) ToolName(serverID, toolName string) string {
	return s.decorate(serverID, toolName)
}

func (s ServerPrefixNamespace) PromptName(serverID, promptName string) string {
	return s.decorate(serverID, promptName)
}

func (s ServerPrefixNamespace) ResourceURI(serverID, resourceURI string) string {
	return resourcePrefix("resources", serverID) + resourceURI
}

func (s ServerPrefixNamespace) ResourceTemplateURI(serverID, templateURI string) string {
	return resourcePrefix("templates", serverID) + templateURI
}

func (s ServerPrefixNamespace) NativeResourceURI(serverID, gatewayURI string) (string, bool) {
	return strings.CutPrefix(gatewayURI, resourcePrefix("resources", serverID))
}

func (s ServerPrefixNamespace) NativeResourceTemplateURI(serverID, gatewayURI string) (string, bool) {
	return strings.CutPrefix(gatewayURI, resourcePrefix("templates", serverID))
}

// decorate joins the server ID and name, replacing characters that are not
// allowed in MCP tool names with '_'.
func (s ServerPrefixNamespace) decorate(serverID, value string) string {
	return sanitizeName(serverID) + s.separator() + sanitizeName(value)
}

func resourcePrefix(kind, serverID string) string {
	return fmt.Sprintf("orchestrator+%s/%s::", url.PathEscape(serverID), kind)
}

func sanitizeName(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_', r == '-', r == '.':
			return r
		}
		return '_'
	}, v)
}
