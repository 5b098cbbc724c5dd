package mcpmgr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func sendAs[T any](ctx context.Context, m *Manager, serverID, method string, params any) (*T, error) {
	raw, err := m.Send(ctx, serverID, method, params, 0)
	if err != nil {
		return nil, err
	}
	var out T
	if len(raw) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("mcpmgr: decoding %s result from %q: %w", method, serverID, err)
	}
	return &out, nil
}

// ListResources lists the resources a server exposes. Servers that do not
// implement resources yield an empty list.
func (m *Manager) ListResources(ctx context.Context, serverID string, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	if params == nil {
		params = &mcp.ListResourcesParams{}
	}
	res, err := sendAs[mcp.ListResourcesResult](ctx, m, serverID, "resources/list", params)
	if err != nil {
		if isMethodUnavailableError(err, "resources/list") {
			return &mcp.ListResourcesResult{Resources: []*mcp.Resource{}}, nil
		}
		return nil, err
	}
	return res, nil
}

// ListResourceTemplates lists parameterized resources.
func (m *Manager) ListResourceTemplates(ctx context.Context, serverID string, params *mcp.ListResourceTemplatesParams) (*mcp.ListResourceTemplatesResult, error) {
	if params == nil {
		params = &mcp.ListResourceTemplatesParams{}
	}
	res, err := sendAs[mcp.ListResourceTemplatesResult](ctx, m, serverID, "resources/templates/list", params)
	if err != nil {
		if isMethodUnavailableError(err, "resources/templates/list") {
			return &mcp.ListResourceTemplatesResult{ResourceTemplates: []*mcp.ResourceTemplate{}}, nil
		}
		return nil, err
	}
	return res, nil
}

// ReadResource fetches the contents of uri.
func (m *Manager) ReadResource(ctx context.Context, serverID, uri string) (*mcp.ReadResourceResult, error) {
	return sendAs[mcp.ReadResourceResult](ctx, m, serverID, "resources/read", &mcp.ReadResourceParams{URI: uri})
}

// ListPrompts lists a server's prompt templates. Servers that do not
// implement prompts yield an empty list.
func (m *Manager) ListPrompts(ctx context.Context, serverID string, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error) {
	if params == nil {
		params = &mcp.ListPromptsParams{}
	}
	res, err := sendAs[mcp.ListPromptsResult](ctx, m, serverID, "prompts/list", params)
	if err != nil {
		if isMethodUnavailableError(err, "prompts/list") {
			return &mcp.ListPromptsResult{Prompts: []*mcp.Prompt{}}, nil
		}
		return nil, err
	}
	return res, nil
}

// GetPrompt renders the named prompt with args.
func (m *Manager) GetPrompt(ctx context.Context, serverID, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return sendAs[mcp.GetPromptResult](ctx, m, serverID, "prompts/get", &mcp.GetPromptParams{Name: name, Arguments: args})
}
