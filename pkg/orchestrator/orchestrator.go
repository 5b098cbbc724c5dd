package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcp-orchestrator-go/pkg/mcpmgr"
)

// Orchestrator is the public call surface: single calls, parallel batches and
// dependency-ordered plans across every registered server.
type Orchestrator struct {
	opts    Options
	logger  *slog.Logger
	manager *mcpmgr.Manager

	schemaMu sync.Mutex
	schemas  map[string]cachedSchema
}

type cachedSchema struct {
	raw      string
	resolved *jsonschema.Resolved
	err      error
}

// New constructs an Orchestrator with its own connection manager.
func New(opts *Options) *Orchestrator {
	o := opts.withDefaults()
	logger := o.Logger.With("component", "orchestrator")
	manager := mcpmgr.NewManager(nil, &mcpmgr.ManagerOptions{
		DefaultClientName:    o.ClientName,
		DefaultClientVersion: o.ClientVersion,
		DefaultTimeout:       o.DefaultTimeout,
		DefaultLogJSONRPC:    o.DebugLogging,
		Logger:               o.Logger,
	})
	return &Orchestrator{
		opts:    o,
		logger:  logger,
		manager: manager,
		schemas: make(map[string]cachedSchema),
	}
}

// Manager exposes the underlying connection manager.
func (o *Orchestrator) Manager() *mcpmgr.Manager { return o.manager }

// MaxRetries reports the configured retry count. It is informational only.
func (o *Orchestrator) MaxRetries() int { return o.opts.MaxRetries }

// DefaultTimeout reports the timeout applied when nothing more specific is set.
func (o *Orchestrator) DefaultTimeout() time.Duration { return o.opts.DefaultTimeout }

// RegisterServer connects to a server and learns its catalog.
func (o *Orchestrator) RegisterServer(ctx context.Context, serverID string, cfg mcpmgr.ServerConfig) (mcpmgr.Server, error) {
	return o.manager.RegisterServer(ctx, serverID, cfg)
}

// DisconnectServer closes a server's connection. It is idempotent.
func (o *Orchestrator) DisconnectServer(ctx context.Context, serverID string) error {
	return o.manager.DisconnectServer(ctx, serverID)
}

// RemoveServer disconnects and forgets a server.
func (o *Orchestrator) RemoveServer(ctx context.Context, serverID string) error {
	return o.manager.RemoveServer(ctx, serverID)
}

// Close disconnects every server.
func (o *Orchestrator) Close(ctx context.Context) error {
	return o.manager.DisconnectAllServers(ctx)
}

// Servers returns snapshots of every registered server.
func (o *Orchestrator) Servers() []mcpmgr.Server { return o.manager.Servers() }

// ListTools returns the merged catalog narrowed by filter.
func (o *Orchestrator) ListTools(filter mcpmgr.ToolFilter) []mcpmgr.Tool {
	return o.manager.ListTools(filter)
}

// ListResources returns a connected server's resources.
func (o *Orchestrator) ListResources(ctx context.Context, serverID string) ([]*mcp.Resource, error) {
	res, err := o.manager.ListResources(ctx, serverID, nil)
	if err != nil {
		return nil, err
	}
	return res.Resources, nil
}

// ReadResource reads one resource from a connected server.
func (o *Orchestrator) ReadResource(ctx context.Context, serverID, uri string) (*mcp.ReadResourceResult, error) {
	return o.manager.ReadResource(ctx, serverID, uri)
}

// ListPrompts returns a connected server's prompts.
func (o *Orchestrator) ListPrompts(ctx context.Context, serverID string) ([]*mcp.Prompt, error) {
	res, err := o.manager.ListPrompts(ctx, serverID, nil)
	if err != nil {
		return nil, err
	}
	return res.Prompts, nil
}

// GetPrompt renders a prompt on a connected server.
func (o *Orchestrator) GetPrompt(ctx context.Context, serverID, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return o.manager.GetPrompt(ctx, serverID, name, args)
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// CallTool invokes one tool. The returned error is non-nil only when the call
// could not be dispatched: malformed call, unknown or unavailable server, or
// unknown tool. Everything that goes wrong after dispatch is reported in the
// ToolResult.
func (o *Orchestrator) CallTool(ctx context.Context, call ToolCall) (ToolResult, error) {
	start := time.Now()
	res := ToolResult{Tool: call.Tool, Server: call.Server, Timestamp: start}

	tool, err := o.resolveTool(call)
	if err != nil {
		res.fail(err)
		res.Duration = time.Since(start)
		return res, err
	}

	args := call.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	if o.opts.ValidateArguments {
		if err := o.validateArguments(tool, args); err != nil {
			res.fail(fmt.Errorf("orchestrator: arguments for %s/%s: %w", call.Server, call.Tool, err))
			res.Duration = time.Since(start)
			return res, nil
		}
	}

	raw, err := o.manager.Send(ctx, call.Server, "tools/call", callToolParams{Name: call.Tool, Arguments: args}, call.Timeout)
	res.Duration = time.Since(start)
	if err != nil {
		res.fail(err)
		o.logCall(call, res)
		return res, nil
	}
	var decoded callToolResult
	if err := json.Unmarshal(raw, &decoded); err != nil {
		res.fail(fmt.Errorf("orchestrator: decoding %s/%s result: %w", call.Server, call.Tool, err))
		o.logCall(call, res)
		return res, nil
	}
	if decoded.IsError {
		res.fail(&ToolError{Server: call.Server, Tool: call.Tool, Message: contentText(decoded)})
		o.logCall(call, res)
		return res, nil
	}
	res.Result = raw
	o.logCall(call, res)
	return res, nil
}

func (o *Orchestrator) resolveTool(call ToolCall) (mcpmgr.Tool, error) {
	if strings.TrimSpace(call.Server) == "" || strings.TrimSpace(call.Tool) == "" {
		return mcpmgr.Tool{}, fmt.Errorf("orchestrator: %w: server and tool are required", ErrInvalidCall)
	}
	srv, ok := o.manager.Server(call.Server)
	if !ok {
		return mcpmgr.Tool{}, fmt.Errorf("orchestrator: %w %q", mcpmgr.ErrUnknownServer, call.Server)
	}
	if srv.Status != mcpmgr.StatusConnected {
		return mcpmgr.Tool{}, fmt.Errorf("orchestrator: %w: %q is %s", mcpmgr.ErrServerUnavailable, call.Server, srv.Status)
	}
	return o.manager.Tool(call.Server, call.Tool)
}

func (o *Orchestrator) logCall(call ToolCall, res ToolResult) {
	level := slog.LevelDebug
	if res.Err != nil || res.Error != "" {
		level = slog.LevelWarn
	}
	o.logger.Log(context.Background(), level, "tool call settled",
		"server", call.Server,
		"tool", call.Tool,
		"duration", res.Duration,
		"error", res.Error,
	)
}

// ToolError is reported when a tool ran but flagged its own result as an
// error.
type ToolError struct {
	Server  string
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool %s/%s reported an error", e.Server, e.Tool)
	}
	return fmt.Sprintf("tool %s/%s: %s", e.Server, e.Tool, e.Message)
}

func contentText(r callToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// CallToolsParallel starts every call at once and returns results in input
// order once all have settled.
func (o *Orchestrator) CallToolsParallel(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i], _ = o.CallTool(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// IsPreDispatch reports whether err means a call never reached the network.
func IsPreDispatch(err error) bool {
	return errors.Is(err, ErrInvalidCall) ||
		errors.Is(err, mcpmgr.ErrUnknownServer) ||
		errors.Is(err, mcpmgr.ErrServerUnavailable) ||
		errors.Is(err, mcpmgr.ErrUnknownTool)
}
