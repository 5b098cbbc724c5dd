package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ConnectionStatus represents the lifecycle of a managed connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

var errReplaced = errors.New("connection replaced by re-registration")

// Manager owns one connection per registered server, the table of calls in
// flight on each, and the catalog learned during registration.
type Manager struct {
	mu sync.RWMutex

	options ManagerOptions
	logger  *slog.Logger

	states map[string]*managedState
	events *statusBroadcaster

	// serverRemovedHandlers are invoked after a server is removed via RemoveServer.
	serverRemovedHandlers []func(string)
}

type managedState struct {
	config  ServerConfig
	timeout time.Duration

	status      ConnectionStatus
	lastErr     error
	conn        *serverConn
	catalog     catalog
	connectedAt time.Time

	sessionTracker *sessionIDTracker

	connecting bool
	connectCh  chan struct{}
	// cancelConnect aborts the in-flight registration. abandoned records that
	// DisconnectServer ran while it was in flight.
	cancelConnect context.CancelFunc
	abandoned     bool
}

// NewManager constructs a Manager with optional initial server configurations.
// Pass a map of server IDs to configs to pre-register transports and, when
// ManagerOptions.AutoConnect is true, register them in the background.
// Callers can provide nil options to fall back to sensible defaults.
func NewManager(cfg map[string]ServerConfig, opts *ManagerOptions) *Manager {
	options := opts.normalized()
	if options.DefaultClientVersion == "" {
		options.DefaultClientVersion = "1.0.0"
	}
	if options.DefaultTimeout <= 0 {
		options.DefaultTimeout = 30 * time.Second
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcpmgr")
	m := &Manager{
		options: options,
		logger:  logger,
		states:  make(map[string]*managedState),
		events:  newStatusBroadcaster(options.StatusBuffer, logger),
	}
	for id, sc := range cfg {
		m.states[id] = newManagedState(sc)
		if options.AutoConnect {
			go func(serverID string) {
				if _, err := m.RegisterServer(context.Background(), serverID, nil); err != nil {
					m.logger.Warn("auto-connect failed", "server", serverID, "error", err)
				}
			}(id)
		}
	}
	return m
}

func newManagedState(cfg ServerConfig) *managedState {
	return &managedState{
		config:         cfg,
		status:         StatusDisconnected,
		catalog:        emptyCatalog(),
		sessionTracker: newSessionIDTracker(""),
	}
}

func emptyCatalog() catalog {
	return catalog{capabilities: []Capability{}, tools: []Tool{}}
}

// ListServers returns known server identifiers.
func (m *Manager) ListServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasServer reports whether a server ID is known.
func (m *Manager) HasServer(serverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.states[serverID]
	return ok
}

// GetServerConfig returns the configuration registered for serverID, or nil.
func (m *Manager) GetServerConfig(serverID string) ServerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.states[serverID]; ok {
		return st.config
	}
	return nil
}

// Servers returns snapshots of every registered server ordered by ID.
func (m *Manager) Servers() []Server {
	ids := m.ListServers()
	out := make([]Server, 0, len(ids))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range ids {
		if st, ok := m.states[id]; ok {
			out = append(out, snapshot(id, st))
		}
	}
	return out
}

// Server returns a snapshot of one server.
func (m *Manager) Server(serverID string) (Server, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[serverID]
	if !ok {
		return Server{}, false
	}
	return snapshot(serverID, st), true
}

// Status returns the server's connection status. Unknown IDs report
// disconnected.
func (m *Manager) Status(serverID string) ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.states[serverID]; ok {
		return st.status
	}
	return StatusDisconnected
}

// must be called with m.mu held.
func snapshot(serverID string, st *managedState) Server {
	s := Server{
		ID:              serverID,
		Status:          st.status,
		Capabilities:    append([]Capability{}, st.catalog.capabilities...),
		Tools:           make([]Tool, 0, len(st.catalog.tools)),
		ServerInfo:      st.catalog.serverInfo,
		Instructions:    st.catalog.instructions,
		ProtocolVersion: st.catalog.protocolVersion,
		ConnectedAt:     st.connectedAt,
	}
	if st.config != nil {
		s.Name = NameOf(serverID, st.config)
		s.URL = EndpointOf(serverID, st.config)
	}
	for _, t := range st.catalog.tools {
		s.Tools = append(s.Tools, cloneTool(t))
	}
	if st.lastErr != nil {
		s.LastError = st.lastErr.Error()
	}
	return s
}

// Subscribe streams status transitions until cancel is called or ctx is done.
// A subscriber that falls behind misses events rather than stalling the
// manager.
func (m *Manager) Subscribe(ctx context.Context) (<-chan StatusEvent, func()) {
	return m.events.subscribe(ctx)
}

func (m *Manager) publish(serverID string, status, previous ConnectionStatus, err error) {
	m.events.publish(StatusEvent{
		ServerID: serverID,
		Status:   status,
		Previous: previous,
		Err:      err,
		At:       time.Now(),
	})
}

// RegisterServer connects to the server, performs the initialize handshake
// and discovers its tools. When cfg is nil the previously registered
// configuration is used. Registering an ID that is already connected replaces
// the old connection.
//
// On failure the server is kept with StatusError and an empty catalog, and the
// returned error wraps ErrRegistration.
func (m *Manager) RegisterServer(ctx context.Context, serverID string, cfg ServerConfig) (Server, error) {
	for {
		m.mu.Lock()
		st, ok := m.states[serverID]
		if !ok {
			if cfg == nil {
				m.mu.Unlock()
				return Server{}, fmt.Errorf("mcpmgr: %w %q", ErrUnknownServer, serverID)
			}
			st = newManagedState(cfg)
			m.states[serverID] = st
		}
		if st.connecting {
			ch := st.connectCh
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return Server{}, ctx.Err()
			case <-ch:
				continue
			}
		}
		if cfg != nil {
			st.config = cfg
		}
		if st.config == nil {
			m.mu.Unlock()
			return Server{}, fmt.Errorf("mcpmgr: missing configuration for %q", serverID)
		}

		old := st.conn
		previous := st.status
		st.conn = nil
		connectCtx, cancel := context.WithCancel(ctx)
		st.connecting = true
		st.connectCh = make(chan struct{})
		st.cancelConnect = cancel
		st.abandoned = false
		st.timeout = m.resolveTimeout(st.config.base())
		st.status = StatusConnecting
		st.lastErr = nil
		st.catalog = emptyCatalog()
		st.connectedAt = time.Time{}
		config, timeout, tracker := st.config, st.timeout, st.sessionTracker
		m.mu.Unlock()

		m.publish(serverID, StatusConnecting, previous, nil)
		if old != nil {
			m.logger.Info("replacing existing connection", "server", serverID)
			_ = old.close(errReplaced)
		}

		sc, cat, err := m.establish(connectCtx, serverID, config, timeout, tracker)
		snap, err := m.finishRegistration(serverID, st, sc, cat, err)
		cancel()
		return snap, err
	}
}

func (m *Manager) finishRegistration(serverID string, st *managedState, sc *serverConn, cat catalog, err error) (Server, error) {
	m.mu.Lock()
	st.connecting = false
	st.cancelConnect = nil
	close(st.connectCh)
	if current, ok := m.states[serverID]; !ok || current != st {
		m.mu.Unlock()
		if sc != nil {
			_ = sc.close(nil)
		}
		return Server{}, fmt.Errorf("mcpmgr: register %q: %w: server removed while connecting", serverID, ErrRegistration)
	}
	if st.abandoned {
		st.abandoned = false
		st.catalog = emptyCatalog()
		snap := snapshot(serverID, st)
		m.mu.Unlock()
		if sc != nil {
			_ = sc.close(nil)
		}
		m.logger.Info("registration abandoned", "server", serverID)
		return snap, fmt.Errorf("mcpmgr: register %q: %w: disconnected while connecting", serverID, ErrRegistration)
	}
	if err == nil && sc.isClosed() {
		err = fmt.Errorf("mcpmgr: %q closed during discovery: %w", serverID, ErrConnectionClosed)
	}
	if err != nil {
		st.status = StatusError
		st.lastErr = err
		st.catalog = emptyCatalog()
		snap := snapshot(serverID, st)
		m.mu.Unlock()
		if sc != nil {
			_ = sc.close(err)
		}
		m.logger.Error("server registration failed", "server", serverID, "error", err)
		m.publish(serverID, StatusError, StatusConnecting, err)
		return snap, fmt.Errorf("mcpmgr: register %q: %w: %w", serverID, ErrRegistration, err)
	}
	st.conn = sc
	st.status = StatusConnected
	st.catalog = cat
	st.connectedAt = time.Now()
	snap := snapshot(serverID, st)
	m.mu.Unlock()

	m.logger.Info("server registered",
		"server", serverID,
		"tools", len(cat.tools),
		"capabilities", len(cat.capabilities),
	)
	m.publish(serverID, StatusConnected, StatusConnecting, nil)
	return snap, nil
}

// establish tries each candidate transport in turn and returns the first
// connection that completes the handshake.
func (m *Manager) establish(ctx context.Context, serverID string, cfg ServerConfig, timeout time.Duration, tracker *sessionIDTracker) (*serverConn, catalog, error) {
	base := cfg.base()
	transports, err := m.transportsFor(serverID, cfg, tracker)
	if err != nil {
		return nil, catalog{}, err
	}
	rpcLogger := m.resolveRPCLogger(serverID, base)

	var errs []error
	for _, transport := range transports {
		if rpcLogger != nil {
			transport = &loggingTransport{serverID: serverID, delegate: transport, logger: rpcLogger}
		}
		sc, cat, err := m.attempt(ctx, serverID, transport, base, timeout)
		if err == nil {
			if id := sc.sessionID(); id != "" {
				tracker.Set(id)
			}
			return sc, cat, nil
		}
		m.logger.Debug("transport attempt failed", "server", serverID, "error", err)
		errs = append(errs, err)
	}
	return nil, catalog{}, errors.Join(errs...)
}

func (m *Manager) transportsFor(serverID string, cfg ServerConfig, tracker *sessionIDTracker) ([]mcp.Transport, error) {
	switch c := cfg.(type) {
	case *StdioServerConfig:
		t, err := m.buildStdioTransport(serverID, c)
		if err != nil {
			return nil, err
		}
		return []mcp.Transport{t}, nil
	case *HTTPServerConfig:
		tracker.Set(c.SessionID)
		return m.httpTransports(serverID, c, tracker)
	case *TransportServerConfig:
		if c.Transport == nil {
			return nil, fmt.Errorf("mcpmgr: transport missing for %q", serverID)
		}
		return []mcp.Transport{c.Transport}, nil
	default:
		return nil, fmt.Errorf("mcpmgr: unsupported config %T for %q", cfg, serverID)
	}
}

func (m *Manager) attempt(ctx context.Context, serverID string, transport mcp.Transport, base *BaseServerConfig, timeout time.Duration) (*serverConn, catalog, error) {
	conn, err := dial(ctx, transport, timeout)
	if err != nil {
		return nil, catalog{}, fmt.Errorf("connecting to %q: %w", serverID, err)
	}
	sc := newServerConn(serverID, conn, m.logger, m.onConnClosed)
	sc.start()

	res, err := m.handshake(ctx, serverID, sc, base, timeout)
	if err != nil {
		_ = sc.close(err)
		return nil, catalog{}, fmt.Errorf("initialize %q: %w", serverID, err)
	}
	cat := emptyCatalog()
	if res != nil {
		cat.capabilities = capabilitiesOf(res)
		cat.serverInfo = res.ServerInfo
		cat.instructions = res.Instructions
		cat.protocolVersion = res.ProtocolVersion
	}
	cat.tools = m.discoverTools(ctx, serverID, sc, base, timeout)
	return sc, cat, nil
}

// dial opens the connection detached from ctx, since the connection outlives
// the registration call, but stops waiting when ctx or the timeout expires.
func dial(ctx context.Context, transport mcp.Transport, timeout time.Duration) (mcp.Connection, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	type dialed struct {
		conn mcp.Connection
		err  error
	}
	ch := make(chan dialed, 1)
	go func() {
		conn, err := transport.Connect(context.WithoutCancel(ctx))
		ch <- dialed{conn, err}
	}()
	select {
	case d := <-ch:
		return d.conn, d.err
	case <-waitCtx.Done():
		go func() {
			if d := <-ch; d.conn != nil {
				_ = d.conn.Close()
			}
		}()
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("connect after %s: %w", timeout, ErrRequestTimeout)
		}
		return nil, waitCtx.Err()
	}
}

// onConnClosed runs once per connection, from whichever goroutine closed it.
func (m *Manager) onConnClosed(c *serverConn, cause error) {
	m.mu.Lock()
	st, ok := m.states[c.serverID]
	if !ok || st.conn != c {
		m.mu.Unlock()
		return
	}
	st.conn = nil
	previous := st.status
	st.status = StatusDisconnected
	st.lastErr = cause
	var onError func(error)
	if st.config != nil {
		onError = st.config.base().OnError
	}
	m.mu.Unlock()

	m.logger.Warn("connection lost", "server", c.serverID, "error", cause)
	m.publish(c.serverID, StatusDisconnected, previous, cause)
	if onError != nil && cause != nil {
		safeCall(m.logger, "OnError", func() { onError(cause) })
	}
}

// DisconnectServer closes the connection for serverID, failing any pending
// calls, and leaves the server disconnected. Calling it again, or for an
// unknown ID, is a no-op.
func (m *Manager) DisconnectServer(ctx context.Context, serverID string) error {
	m.mu.Lock()
	st, ok := m.states[serverID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	conn := st.conn
	previous := st.status
	cancelConnect := st.cancelConnect
	if st.connecting {
		st.abandoned = true
	}
	st.conn = nil
	st.status = StatusDisconnected
	st.lastErr = nil
	m.mu.Unlock()

	if cancelConnect != nil {
		cancelConnect()
	}
	if previous != StatusDisconnected {
		m.publish(serverID, StatusDisconnected, previous, nil)
	}
	if conn == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan error, 1)
	go func() {
		done <- conn.close(nil)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			m.logger.Debug("closing connection", "server", serverID, "error", err)
		}
		return nil
	}
}

// DisconnectAllServers closes connections for all servers.
func (m *Manager) DisconnectAllServers(ctx context.Context) error {
	var errs []error
	for _, id := range m.ListServers() {
		if err := m.DisconnectServer(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// RemoveServer disconnects serverID and forgets it.
func (m *Manager) RemoveServer(ctx context.Context, serverID string) error {
	if err := m.DisconnectServer(ctx, serverID); err != nil {
		return err
	}
	m.mu.Lock()
	if _, ok := m.states[serverID]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.states, serverID)
	handlers := append([]func(string){}, m.serverRemovedHandlers...)
	m.mu.Unlock()

	for _, h := range handlers {
		safeCall(m.logger, "OnServerRemoved", func() { h(serverID) })
	}
	return nil
}

// OnServerRemoved registers a callback invoked after RemoveServer deletes the
// server from the manager. Handlers run without the manager lock held.
func (m *Manager) OnServerRemoved(handler func(string)) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	m.serverRemovedHandlers = append(m.serverRemovedHandlers, handler)
	m.mu.Unlock()
}

// Send issues one request to a connected server and waits for its result.
// timeout <= 0 uses the server's configured timeout. Remote error objects are
// returned as *wire.RemoteError.
func (m *Manager) Send(ctx context.Context, serverID, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	conn, serverTimeout, err := m.connected(serverID)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = serverTimeout
	}
	return conn.call(ctx, method, params, timeout)
}

// PendingRequests reports how many calls are awaiting a response from
// serverID.
func (m *Manager) PendingRequests(serverID string) int {
	m.mu.RLock()
	st, ok := m.states[serverID]
	if !ok || st.conn == nil {
		m.mu.RUnlock()
		return 0
	}
	conn := st.conn
	m.mu.RUnlock()
	return conn.pendingCount()
}

// Ping sends a protocol-level ping.
func (m *Manager) Ping(ctx context.Context, serverID string) error {
	_, err := m.Send(ctx, serverID, "ping", &mcp.PingParams{}, 0)
	return err
}

// GetSessionID returns the transport session ID for an HTTP server, if any.
func (m *Manager) GetSessionID(serverID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[serverID]
	if !ok {
		return "", fmt.Errorf("mcpmgr: %w %q", ErrUnknownServer, serverID)
	}
	if st.conn != nil {
		if id := st.conn.sessionID(); id != "" {
			return id, nil
		}
	}
	return st.sessionTracker.Value(), nil
}

// connected returns the live connection for serverID or a descriptive error
// without touching the network.
func (m *Manager) connected(serverID string) (*serverConn, time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[serverID]
	if !ok {
		return nil, 0, fmt.Errorf("mcpmgr: %w %q", ErrUnknownServer, serverID)
	}
	if st.status != StatusConnected || st.conn == nil {
		return nil, 0, fmt.Errorf("mcpmgr: %w: %q is %s", ErrServerUnavailable, serverID, st.status)
	}
	return st.conn, st.timeout, nil
}

func (m *Manager) resolveTimeout(base *BaseServerConfig) time.Duration {
	if base.Timeout > 0 {
		return base.Timeout
	}
	return m.options.DefaultTimeout
}

func (m *Manager) effectiveClientName(serverID string) string {
	if m.options.DefaultClientName != "" {
		return m.options.DefaultClientName
	}
	return serverID
}

func (m *Manager) effectiveClientVersion(base *BaseServerConfig) string {
	if base.Version != "" {
		return base.Version
	}
	return m.options.DefaultClientVersion
}

func safeCall(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback panicked", "callback", name, "panic", r)
		}
	}()
	fn()
}
