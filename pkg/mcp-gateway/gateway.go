package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"

	"github.com/vikashloomba/mcp-orchestrator-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-orchestrator-go/pkg/orchestrator"
)

// PlanToolName is the gateway's own tool for running orchestration plans.
const PlanToolName = "orchestrator__execute_plan"

// Gateway exposes a Streamable MCP server that fronts every server registered
// with an orchestrator under a single HTTP endpoint.
type Gateway struct {
	orch    *orchestrator.Orchestrator
	manager *mcpmgr.Manager
	opts    Options

	features *featureIndex

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	router        chi.Router
	httpHandler   http.Handler

	// syncMu serializes whole-server synchronizations.
	syncMu   sync.Mutex
	serverMu sync.Mutex

	httpServerMu sync.Mutex
	httpServer   *http.Server

	stopWatch func()
	watchDone chan struct{}
}

// NewGateway builds a Gateway, synchronizes the initial feature snapshot, and
// keeps it current from the manager's status events until Close.
func NewGateway(orch *orchestrator.Orchestrator, opts *Options) (*Gateway, error) {
	if orch == nil {
		return nil, fmt.Errorf("mcpgateway: orchestrator is required")
	}
	options := opts.withDefaults()
	options.Logger = options.Logger.With("component", "mcpgateway")
	g := &Gateway{
		orch:      orch,
		manager:   orch.Manager(),
		opts:      options,
		features:  newFeatureIndex(options.Namespace),
		watchDone: make(chan struct{}),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:     true,
		HasPrompts:   true,
		HasResources: true,
	})
	if !options.DisablePlanTool {
		mcp.AddTool(g.server, &mcp.Tool{
			Name:        PlanToolName,
			Title:       "Execute orchestration plan",
			Description: "Runs a list of steps across the connected servers. Steps run in parallel unless dependsOn orders them; every step reports its own result.",
		}, g.executePlan)
	}
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.router = g.buildRouter()
	g.httpHandler = cors.New(cors.Options{
		AllowedOrigins: options.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	}).Handler(g.router)

	events, cancel := g.manager.Subscribe(context.Background())
	g.stopWatch = cancel
	go g.watch(events)
	g.manager.OnServerRemoved(g.dropServer)

	if err := g.SyncAll(context.Background()); err != nil {
		options.Logger.Warn("initial sync incomplete", "error", err)
	}
	return g, nil
}

// Handler exposes the HTTP handler: CORS, then the router.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// Router exposes the chi router so callers can mount extra routes before
// serving.
func (g *Gateway) Router() chi.Router {
	return g.router
}

// Server exposes the aggregated MCP server.
func (g *Gateway) Server() *mcp.Server {
	return g.server
}

func (g *Gateway) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", g.handleHealth)
	r.Get("/servers", g.handleServers)

	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	path = strings.TrimSuffix(path, "/")
	r.Handle(path, g.streamHandler)
	r.Handle(path+"/*", g.streamHandler)
	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	connected := 0
	servers := g.manager.Servers()
	for _, s := range servers {
		if s.Status == mcpmgr.StatusConnected {
			connected++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"servers":   len(servers),
		"connected": connected,
		"tools":     len(g.features.ToolNames()),
	})
}

type serverStatus struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	URL          string                  `json:"url,omitempty"`
	Transport    mcpmgr.ConfigTransport  `json:"transport,omitempty"`
	SessionID    string                  `json:"sessionId,omitempty"`
	Status       mcpmgr.ConnectionStatus `json:"status"`
	Tools        int                     `json:"tools"`
	Capabilities []mcpmgr.CapabilityType `json:"capabilities"`
	LastError    string                  `json:"lastError,omitempty"`
}

func (g *Gateway) handleServers(w http.ResponseWriter, _ *http.Request) {
	servers := g.manager.Servers()
	out := make([]serverStatus, 0, len(servers))
	for _, s := range servers {
		caps := make([]mcpmgr.CapabilityType, 0, len(s.Capabilities))
		for _, c := range s.Capabilities {
			caps = append(caps, c.Type)
		}
		st := serverStatus{
			ID:           s.ID,
			Name:         s.Name,
			URL:          s.URL,
			Transport:    mcpmgr.TransportOf(g.manager.GetServerConfig(s.ID)),
			Status:       s.Status,
			Tools:        len(s.Tools),
			Capabilities: caps,
			LastError:    s.LastError,
		}
		if st.Transport == mcpmgr.TransportHTTP {
			st.SessionID, _ = g.manager.GetSessionID(s.ID)
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	g.opts.Logger.Info("gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Close stops following status events. It does not disconnect upstream
// servers; that belongs to the orchestrator's owner.
func (g *Gateway) Close() {
	g.stopWatch()
	<-g.watchDone
}

func (g *Gateway) watch(events <-chan mcpmgr.StatusEvent) {
	defer close(g.watchDone)
	for ev := range events {
		switch ev.Status {
		case mcpmgr.StatusConnected:
			if err := g.SyncServer(context.Background(), ev.ServerID); err != nil {
				g.logError("sync server", err, "server", ev.ServerID)
			}
		case mcpmgr.StatusDisconnected, mcpmgr.StatusError:
			g.dropServer(ev.ServerID)
		}
	}
}

// SyncAll refreshes every registered server.
func (g *Gateway) SyncAll(ctx context.Context) error {
	var errs []error
	for _, serverID := range g.manager.ListServers() {
		if err := g.SyncServer(ctx, serverID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SyncServer mirrors one server's catalog. Servers that are not connected
// are withdrawn. A facet whose listing fails keeps what was exposed before.
func (g *Gateway) SyncServer(ctx context.Context, serverID string) error {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()

	srv, ok := g.manager.Server(serverID)
	if !ok || srv.Status != mcpmgr.StatusConnected {
		g.dropServerLocked(serverID)
		return nil
	}

	g.applyTools(serverID, srv.Tools)

	var errs []error
	if srv.HasCapability(mcpmgr.CapabilityPrompts) {
		if err := g.syncPrompts(ctx, serverID); err != nil {
			errs = append(errs, fmt.Errorf("mcpgateway: prompts for %q: %w", serverID, err))
		}
	}
	if srv.HasCapability(mcpmgr.CapabilityResources) {
		if err := g.syncResources(ctx, serverID); err != nil {
			errs = append(errs, fmt.Errorf("mcpgateway: resources for %q: %w", serverID, err))
		}
		if err := g.syncResourceTemplates(ctx, serverID); err != nil {
			errs = append(errs, fmt.Errorf("mcpgateway: resource templates for %q: %w", serverID, err))
		}
	}
	g.opts.Logger.Debug("server synced", "server", serverID, "tools", len(srv.Tools))
	return errors.Join(errs...)
}

func (g *Gateway) applyTools(serverID string, tools []mcpmgr.Tool) {
	removed, added := g.features.UpdateTools(serverID, tools)
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
	for _, reg := range added {
		g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target))
	}
}

func (g *Gateway) syncPrompts(ctx context.Context, serverID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.SyncTimeout)
	defer cancel()
	prompts, err := g.orch.ListPrompts(ctx, serverID)
	if err != nil {
		return err
	}
	removed, added := g.features.UpdatePrompts(serverID, prompts)
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(removed) > 0 {
		g.server.RemovePrompts(removed...)
	}
	for _, reg := range added {
		g.server.AddPrompt(reg.Prompt, g.makePromptHandler(reg.Target))
	}
	return nil
}

func (g *Gateway) syncResources(ctx context.Context, serverID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.SyncTimeout)
	defer cancel()
	resources, err := g.orch.ListResources(ctx, serverID)
	if err != nil {
		return err
	}
	removed, added := g.features.UpdateResources(serverID, resources)
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(removed) > 0 {
		g.server.RemoveResources(removed...)
	}
	for _, reg := range added {
		g.server.AddResource(reg.Resource, g.makeResourceHandler(reg.Target))
	}
	return nil
}

func (g *Gateway) syncResourceTemplates(ctx context.Context, serverID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.SyncTimeout)
	defer cancel()
	res, err := g.manager.ListResourceTemplates(ctx, serverID, nil)
	if err != nil {
		return err
	}
	removed, added := g.features.UpdateResourceTemplates(serverID, res.ResourceTemplates)
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(removed) > 0 {
		g.server.RemoveResourceTemplates(removed...)
	}
	for _, reg := range added {
		g.server.AddResourceTemplate(reg.Template, g.makeResourceTemplateHandler(reg.Target))
	}
	return nil
}

// dropServer withdraws everything exposed for serverID.
func (g *Gateway) dropServer(serverID string) {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()
	g.dropServerLocked(serverID)
}

func (g *Gateway) dropServerLocked(serverID string) {
	gone := g.features.Remove(serverID)
	if gone.empty() {
		return
	}
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(gone.Tools) > 0 {
		g.server.RemoveTools(gone.Tools...)
	}
	if len(gone.Prompts) > 0 {
		g.server.RemovePrompts(gone.Prompts...)
	}
	if len(gone.Resources) > 0 {
		g.server.RemoveResources(gone.Resources...)
	}
	if len(gone.Templates) > 0 {
		g.server.RemoveResourceTemplates(gone.Templates...)
	}
	g.opts.Logger.Info("server withdrawn", "server", serverID, "tools", len(gone.Tools))
}

func (g *Gateway) makeToolHandler(t target) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}
		res, _ := g.orch.CallTool(ctx, orchestrator.ToolCall{
			Server:    t.ServerID,
			Tool:      t.Native,
			Arguments: args,
		})
		return toCallToolResult(res), nil
	}
}

// toCallToolResult turns an orchestrator result back into an MCP tool result.
// Failures of any kind become IsError results.
func toCallToolResult(res orchestrator.ToolResult) *mcp.CallToolResult {
	if !res.OK() {
		return errorResult(res.Error)
	}
	var out mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(res.Result)}}}
	}
	return &out
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}

func (g *Gateway) makePromptHandler(t target) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var args map[string]string
		if req.Params != nil {
			args = req.Params.Arguments
		}
		return g.orch.GetPrompt(ctx, t.ServerID, t.Native, args)
	}
}

func (g *Gateway) makeResourceHandler(t target) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return g.readResource(ctx, t.ServerID, t.Native, t.Exposed)
	}
}

func (g *Gateway) makeResourceTemplateHandler(t target) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		native, exposed := t.Native, t.Exposed
		if req != nil && req.Params != nil {
			if candidate, ok := g.opts.Namespace.NativeResourceTemplateURI(t.ServerID, req.Params.URI); ok {
				native, exposed = candidate, req.Params.URI
			}
		}
		return g.readResource(ctx, t.ServerID, native, exposed)
	}
}

// readResource reads upstream and rewrites content URIs to the exposed form
// so downstream clients see the URI they asked for.
func (g *Gateway) readResource(ctx context.Context, serverID, native, exposed string) (*mcp.ReadResourceResult, error) {
	res, err := g.orch.ReadResource(ctx, serverID, native)
	if err != nil {
		return nil, err
	}
	for _, c := range res.Contents {
		if c != nil && c.URI == native {
			c.URI = exposed
		}
	}
	return res, nil
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
