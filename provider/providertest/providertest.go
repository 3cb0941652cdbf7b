// Package providertest serves scripted MCP providers in-process for tests.
package providertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/petalmcp/mcp"
	"github.com/petal-labs/petalmcp/provider"
)

// Handler answers one tools/call.
type Handler func(args map[string]any) (mcp.ToolsCallResult, error)

// Tool is one scripted tool.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     Handler
}

// Call records one tools/call a provider received.
type Call struct {
	Tool string
	Args map[string]any
}

// Server is a scripted provider.
type Server struct {
	Name  string
	Tools []Tool
	// FailHandshakes makes the first n initialize requests fail.
	FailHandshakes int
	// DialErr, when set, is returned for every dial.
	DialErr error

	mu         sync.Mutex
	handshakes int
	calls      []Call
	failPings  bool
}

// SetFailPings makes later pings fail or succeed.
func (s *Server) SetFailPings(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPings = fail
}

// Calls returns the tools/call requests seen so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Text is a Handler that always returns text.
func Text(text string) Handler {
	return func(map[string]any) (mcp.ToolsCallResult, error) {
		return TextResult(text), nil
	}
}

// TextResult wraps text in a tools/call result.
func TextResult(text string) mcp.ToolsCallResult {
	return mcp.ToolsCallResult{Content: []mcp.ContentBlock{{Type: "text", Text: text}}}
}

func (s *Server) handle(req mcp.Message) mcp.Message {
	reply := mcp.Message{JSONRPC: "2.0", ID: req.ID}
	fail := func(code int, msg string) mcp.Message {
		reply.Error = &mcp.RPCError{Code: code, Message: msg}
		return reply
	}
	ok := func(result any) mcp.Message {
		raw, _ := json.Marshal(result)
		reply.Result = raw
		return reply
	}

	switch req.Method {
	case mcp.MethodInitialize:
		s.mu.Lock()
		s.handshakes++
		failing := s.handshakes <= s.FailHandshakes
		s.mu.Unlock()
		if failing {
			return fail(-32000, "provider not ready")
		}
		return ok(mcp.InitializeResult{
			ProtocolVersion: mcp.ProtocolVersion,
			ServerInfo:      mcp.Implementation{Name: s.Name, Version: "test"},
		})
	case mcp.MethodToolsList:
		tools := make([]mcp.Tool, 0, len(s.Tools))
		for _, tool := range s.Tools {
			tools = append(tools, mcp.Tool{Name: tool.Name, Description: tool.Description, InputSchema: tool.Schema})
		}
		return ok(mcp.ToolsListResult{Tools: tools})
	case mcp.MethodToolsCall:
		var params mcp.ToolsCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return fail(-32602, err.Error())
		}
		s.mu.Lock()
		s.calls = append(s.calls, Call{Tool: params.Name, Args: params.Arguments})
		s.mu.Unlock()
		for _, tool := range s.Tools {
			if tool.Name != params.Name {
				continue
			}
			if tool.Handler == nil {
				return ok(mcp.ToolsCallResult{})
			}
			result, err := tool.Handler(params.Arguments)
			if err != nil {
				return fail(-32001, err.Error())
			}
			return ok(result)
		}
		return fail(-32602, fmt.Sprintf("unknown tool %q", params.Name))
	case mcp.MethodPing:
		s.mu.Lock()
		failing := s.failPings
		s.mu.Unlock()
		if failing {
			return fail(-32000, "provider unhealthy")
		}
		return ok(map[string]any{})
	default:
		return fail(-32601, "method not found")
	}
}

// Transport is an in-process mcp.Transport bound to a Server.
type Transport struct {
	server *Server

	mu     sync.Mutex
	queue  []mcp.Message
	closed bool
	exit   sync.Once
	done   chan struct{}
}

// Send answers requests synchronously.
func (t *Transport) Send(ctx context.Context, message mcp.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return mcp.ErrTransportClosed
	}
	if message.IsNotification() {
		return nil
	}
	t.queue = append(t.queue, t.server.handle(message))
	return nil
}

// Receive returns the next queued reply.
func (t *Transport) Receive(ctx context.Context) (mcp.Message, error) {
	if err := ctx.Err(); err != nil {
		return mcp.Message{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return mcp.Message{}, mcp.ErrTransportClosed
	}
	if len(t.queue) == 0 {
		return mcp.Message{}, errors.New("providertest: no reply queued")
	}
	next := t.queue[0]
	t.queue = t.queue[1:]
	return next, nil
}

// Close marks the transport closed and the simulated process exited.
func (t *Transport) Close(context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.Exit()
	return nil
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Exit simulates the provider process exiting.
func (t *Transport) Exit() {
	t.exit.Do(func() { close(t.done) })
}

// Done is closed when the simulated process exits.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Network routes dials by provider name to scripted servers.
type Network struct {
	mu         sync.Mutex
	servers    map[string]*Server
	transports map[string][]*Transport
}

// NewNetwork returns a Network serving servers.
func NewNetwork(servers ...*Server) *Network {
	n := &Network{
		servers:    make(map[string]*Server),
		transports: make(map[string][]*Transport),
	}
	for _, server := range servers {
		n.servers[server.Name] = server
	}
	return n
}

// Dial implements provider.Dialer.
func (n *Network) Dial(ctx context.Context, spec provider.Spec) (mcp.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	server, ok := n.servers[spec.Name]
	if !ok {
		return nil, fmt.Errorf("providertest: no server named %q", spec.Name)
	}
	if server.DialErr != nil {
		n.transports[spec.Name] = append(n.transports[spec.Name], nil)
		return nil, server.DialErr
	}
	transport := &Transport{server: server, done: make(chan struct{})}
	n.transports[spec.Name] = append(n.transports[spec.Name], transport)
	return transport, nil
}

// Dials counts dial attempts for name.
func (n *Network) Dials(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transports[name])
}

// Transports returns every transport dialed for name, nil for failed dials.
func (n *Network) Transports(name string) []*Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Transport(nil), n.transports[name]...)
}

// Spec returns a command spec for a server so Validate passes.
func Spec(name string) provider.Spec {
	return provider.Spec{Name: name, Command: "providertest-" + name}
}

// NoSleep is a provider.SleepFunc that returns immediately.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Connect builds a Manager over servers and connects all of them. The
// manager is closed when the test ends.
func Connect(tb testing.TB, servers ...*Server) (*provider.Manager, *Network) {
	tb.Helper()
	network := NewNetwork(servers...)
	manager := provider.NewManager(provider.ManagerOptions{
		Dial:   network.Dial,
		Sleep:  NoSleep,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	specs := make([]provider.Spec, 0, len(servers))
	for _, server := range servers {
		specs = append(specs, Spec(server.Name))
	}
	if _, err := manager.ConnectAll(context.Background(), specs, 1); err != nil {
		tb.Fatalf("ConnectAll() error = %v", err)
	}
	tb.Cleanup(func() { _ = manager.Close(context.Background()) })
	return manager, network
}
