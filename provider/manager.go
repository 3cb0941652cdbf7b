// Package provider connects to MCP tool providers, tracks their lifecycle
// and routes tool names to the provider that owns them.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/petal-labs/petalmcp/mcp"
	"github.com/petal-labs/petalmcp/observe"
)

const (
	// DefaultMaxRetries is the number of handshake attempts per provider.
	DefaultMaxRetries = 3

	defaultBaseBackoff      = time.Second
	defaultHandshakeTimeout = 30 * time.Second
	defaultCloseTimeout     = 5 * time.Second
)

// Dialer opens the transport for spec. The returned transport must be
// closed by the caller.
type Dialer func(ctx context.Context, spec Spec) (mcp.Transport, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ManagerOptions configures a Manager. The zero value is usable.
type ManagerOptions struct {
	Logger *slog.Logger
	// Dial defaults to stdio for command specs and HTTP for url specs.
	Dial Dialer
	// Sleep defaults to a context-aware timer.
	Sleep SleepFunc
	// BaseBackoff is multiplied by 2^attempt between attempts.
	BaseBackoff time.Duration
	// HandshakeTimeout bounds initialize plus tools/list per attempt.
	HandshakeTimeout time.Duration
	ClientInfo       mcp.Implementation
	// Stderr receives provider stderr for stdio specs.
	Stderr io.Writer
	// Parallelism caps concurrent handshakes in ConnectAll. Zero means
	// unlimited.
	Parallelism int
}

// Manager owns every provider connection and the registry built from
// them. All mutation of the connection table and the registry happens
// under the Manager's lock.
type Manager struct {
	opts     ManagerOptions
	logger   *slog.Logger
	registry *Registry
	flight   singleflight.Group
	watchers sync.WaitGroup

	mu     sync.Mutex
	conns  map[string]*Connection
	states map[string]State
	closed bool
}

// NewManager returns a Manager with no connections.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaultBaseBackoff
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	m := &Manager{
		opts:     opts,
		logger:   opts.Logger,
		registry: NewRegistry(),
		conns:    make(map[string]*Connection),
		states:   make(map[string]State),
	}
	if m.opts.Dial == nil {
		m.opts.Dial = m.dialDefault
	}
	return m
}

// Registry returns the tool registry fed by this manager.
func (m *Manager) Registry() *Registry { return m.registry }

// Connect handshakes with the provider described by spec, retrying up to
// maxRetries total attempts with a 2^attempt backoff, and registers it.
// A provider already registered under the same name is replaced. Concurrent
// calls for the same name share one handshake.
func (m *Manager) Connect(ctx context.Context, spec Spec, maxRetries int) (*Connection, error) {
	conn, err := m.establish(ctx, spec, maxRetries)
	if err != nil {
		return nil, err
	}
	if err := m.register(ctx, conn); err != nil {
		return nil, &ConnectError{Name: spec.Name, Attempts: conn.attempts, Fatal: true, Err: err}
	}
	return conn, nil
}

// ConnectAll connects every spec concurrently. Handshakes are independent:
// one provider failing never stops the others. Successful connections are
// registered in spec order so the registry does not depend on which
// handshake finished first. The returned error joins every failure.
func (m *Manager) ConnectAll(ctx context.Context, specs []Spec, maxRetries int) ([]*Connection, error) {
	established := make([]*Connection, len(specs))
	failures := make([]error, len(specs))

	var group errgroup.Group
	if m.opts.Parallelism > 0 {
		group.SetLimit(m.opts.Parallelism)
	}
	for i, spec := range specs {
		group.Go(func() error {
			established[i], failures[i] = m.establish(ctx, spec, maxRetries)
			return nil
		})
	}
	_ = group.Wait()

	var connected []*Connection
	for i, conn := range established {
		if conn == nil {
			continue
		}
		if err := m.register(ctx, conn); err != nil {
			failures[i] = &ConnectError{Name: conn.name, Attempts: conn.attempts, Fatal: true, Err: err}
			continue
		}
		connected = append(connected, conn)
	}
	return connected, errors.Join(failures...)
}

// Connection returns the registered connection for name.
func (m *Manager) Connection(name string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[name]
	return conn, ok
}

// Connections returns registered connections in registration order.
func (m *Manager) Connections() []*Connection {
	names := m.registry.Providers()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Connection, 0, len(names))
	for _, name := range names {
		if conn, ok := m.conns[name]; ok {
			out = append(out, conn)
		}
	}
	return out
}

// Names returns registered provider names in registration order.
func (m *Manager) Names() []string {
	return m.registry.Providers()
}

// State reports the lifecycle state of a provider name.
func (m *Manager) State(name string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.states[name]; ok {
		return state
	}
	return StateDisconnected
}

// Disconnect closes and unregisters one provider.
func (m *Manager) Disconnect(ctx context.Context, name string) error {
	m.mu.Lock()
	conn, ok := m.conns[name]
	if ok {
		delete(m.conns, name)
		m.registry.unpublish(conn)
		m.states[name] = StateDisconnected
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotConnected, name)
	}
	return conn.close(ctx, StateDisconnected)
}

// Close shuts down every connection and stops their processes. Later
// calls to Connect fail with ErrClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	names := m.registry.Providers()
	conns := make([]*Connection, 0, len(names))
	for _, name := range names {
		conn := m.conns[name]
		conns = append(conns, conn)
		m.registry.unpublish(conn)
		m.states[name] = StateClosed
	}
	m.conns = make(map[string]*Connection)
	m.mu.Unlock()

	var errs []error
	for _, conn := range conns {
		if err := conn.close(ctx, StateClosed); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", conn.name, err))
		}
	}
	m.watchers.Wait()
	return errors.Join(errs...)
}

func (m *Manager) establish(ctx context.Context, spec Spec, maxRetries int) (*Connection, error) {
	if err := spec.Validate(); err != nil {
		m.setState(spec.Name, StateFailed)
		return nil, &ConnectError{Name: spec.Name, Fatal: true, Err: err}
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	result, err, _ := m.flight.Do(spec.Name, func() (any, error) {
		return m.connectWithRetry(ctx, spec.Clone(), maxRetries)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Connection), nil
}

func (m *Manager) connectWithRetry(ctx context.Context, spec Spec, maxRetries int) (*Connection, error) {
	for attempt := 1; ; attempt++ {
		if m.isClosed() {
			return nil, &ConnectError{Name: spec.Name, Attempts: attempt - 1, Fatal: true, Err: ErrClosed}
		}
		m.setState(spec.Name, StateConnecting)

		started := time.Now()
		conn, err := m.handshake(ctx, spec, attempt)
		elapsed := time.Since(started)

		if err == nil {
			observe.Connect(observe.ConnectObservation{
				Provider: spec.Name,
				Attempt:  attempt,
				Duration: elapsed,
				Success:  true,
				Final:    true,
			})
			m.logger.Info("provider connected",
				"provider", spec.Name,
				"attempt", attempt,
				"tools", len(conn.tools),
				"server", conn.server.Name,
			)
			return conn, nil
		}

		fatal := isFatal(err)
		final := fatal || attempt >= maxRetries || ctx.Err() != nil
		observe.Connect(observe.ConnectObservation{
			Provider:  spec.Name,
			Attempt:   attempt,
			Duration:  elapsed,
			Final:     final,
			ErrorKind: errorKind(err),
		})
		m.logger.Warn("provider connect attempt failed",
			"provider", spec.Name,
			"attempt", attempt,
			"max_attempts", maxRetries,
			"error", err,
		)
		if final {
			m.setState(spec.Name, StateFailed)
			return nil, &ConnectError{Name: spec.Name, Attempts: attempt, Fatal: fatal, Err: err}
		}

		m.setState(spec.Name, StateRetrying)
		if err := m.opts.Sleep(ctx, m.backoff(attempt)); err != nil {
			m.setState(spec.Name, StateFailed)
			return nil, &ConnectError{Name: spec.Name, Attempts: attempt, Err: err}
		}
	}
}

// backoff is the delay after a failed attempt: base * 2^attempt.
func (m *Manager) backoff(attempt int) time.Duration {
	return m.opts.BaseBackoff * time.Duration(1<<attempt)
}

// handshake runs one attempt. Anything it opened is closed on failure.
func (m *Manager) handshake(ctx context.Context, spec Spec, attempt int) (*Connection, error) {
	transport, err := m.opts.Dial(ctx, spec)
	if err != nil {
		return nil, err
	}
	client := mcp.NewClient(transport, mcp.Options{ClientInfo: m.opts.ClientInfo})

	hctx, cancel := context.WithTimeout(ctx, m.opts.HandshakeTimeout)
	defer cancel()

	fail := func(err error) (*Connection, error) {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
		defer closeCancel()
		_ = client.Close(closeCtx)
		return nil, err
	}

	if _, err := client.Initialize(hctx); err != nil {
		return fail(err)
	}
	tools, err := client.ListTools(hctx)
	if err != nil {
		return fail(err)
	}

	conn := newConnection(spec, client, tools, attempt, time.Now())
	if exiter, ok := transport.(interface{ Done() <-chan struct{} }); ok {
		conn.exited = exiter.Done()
	}
	return conn, nil
}

func (m *Manager) register(ctx context.Context, conn *Connection) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.close(ctx, StateClosed)
		return ErrClosed
	}
	previous, replacing := m.conns[conn.name]
	if replacing && previous == conn {
		m.mu.Unlock()
		return nil
	}
	if replacing {
		m.registry.unpublish(previous)
	}
	m.conns[conn.name] = conn
	m.registry.publish(conn)
	conn.setState(StateConnected)
	m.states[conn.name] = StateConnected
	shadowed := m.registry.Shadowed(conn)
	m.mu.Unlock()

	if replacing {
		m.logger.Info("provider replaced", "provider", conn.name)
		_ = previous.close(ctx, StateDisconnected)
	}
	if len(shadowed) > 0 {
		m.logger.Warn("provider tools shadowed by an earlier provider",
			"provider", conn.name,
			"tools", shadowed,
		)
	}
	if conn.exited != nil {
		m.watchers.Add(1)
		go m.watchExit(conn)
	}
	return nil
}

func (m *Manager) watchExit(conn *Connection) {
	defer m.watchers.Done()
	select {
	case <-conn.closing:
		return
	case <-conn.exited:
	}

	m.mu.Lock()
	current, ok := m.conns[conn.name]
	if ok && current == conn {
		conn.setState(StateDisconnected)
		delete(m.conns, conn.name)
		m.registry.unpublish(conn)
		m.states[conn.name] = StateDisconnected
	}
	m.mu.Unlock()
	if !ok || current != conn {
		return
	}

	m.logger.Warn("provider process exited", "provider", conn.name)
	ctx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
	defer cancel()
	_ = conn.close(ctx, StateDisconnected)
}

func (m *Manager) dialDefault(ctx context.Context, spec Spec) (mcp.Transport, error) {
	if spec.URL != "" {
		return mcp.NewHTTPTransport(mcp.HTTPConfig{Endpoint: spec.URL, Headers: spec.Headers})
	}
	return mcp.NewStdioTransport(ctx, mcp.StdioConfig{
		Command: spec.Command,
		Args:    slices.Clone(spec.Args),
		Env:     spec.Env,
		Dir:     spec.Dir,
		Stderr:  m.opts.Stderr,
	})
}

func (m *Manager) setState(name string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.states[name] = state
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
