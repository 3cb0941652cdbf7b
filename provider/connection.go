package provider

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/petal-labs/petalmcp/mcp"
)

// ParamDescriptor is one input property of a tool.
type ParamDescriptor struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ToolDescriptor is a tool as discovered from its provider.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
	Params      []ParamDescriptor
	Provider    string
}

// Required returns the names of required params.
func (d ToolDescriptor) Required() []string {
	var out []string
	for _, p := range d.Params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

func describeTool(provider string, tool mcp.Tool) ToolDescriptor {
	required := make(map[string]bool)
	for _, name := range tool.Required() {
		required[name] = true
	}

	props := tool.Properties()
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	slices.Sort(names)

	params := make([]ParamDescriptor, 0, len(names))
	for _, name := range names {
		prop := props[name]
		typ, _ := prop["type"].(string)
		if typ == "" {
			typ = "any"
		}
		desc, _ := prop["description"].(string)
		params = append(params, ParamDescriptor{
			Name:        name,
			Type:        typ,
			Description: strings.TrimSpace(desc),
			Required:    required[name],
		})
	}

	return ToolDescriptor{
		Name:        tool.Name,
		Description: strings.TrimSpace(tool.Description),
		InputSchema: tool.InputSchema,
		Params:      params,
		Provider:    provider,
	}
}

// Connection is a live session with one provider. Its tool list is fixed
// at discovery time.
type Connection struct {
	name        string
	spec        Spec
	client      *mcp.Client
	server      mcp.Implementation
	tools       []ToolDescriptor
	attempts    int
	connectedAt time.Time

	closeOnce sync.Once
	closing   chan struct{}
	exited    <-chan struct{}

	mu         sync.RWMutex
	state      State
	lastPing   time.Time
	lastPingOK bool
}

func newConnection(spec Spec, client *mcp.Client, tools []mcp.Tool, attempts int, now time.Time) *Connection {
	descriptors := make([]ToolDescriptor, 0, len(tools))
	seen := make(map[string]bool, len(tools))
	for _, tool := range tools {
		if tool.Name == "" || seen[tool.Name] {
			continue
		}
		seen[tool.Name] = true
		descriptors = append(descriptors, describeTool(spec.Name, tool))
	}
	return &Connection{
		name:        spec.Name,
		spec:        spec,
		client:      client,
		server:      client.ServerInfo(),
		tools:       descriptors,
		attempts:    attempts,
		connectedAt: now,
		closing:     make(chan struct{}),
		state:       StateConnecting,
	}
}

// Name is the provider name the connection was registered under.
func (c *Connection) Name() string { return c.name }

// Spec returns the launch spec.
func (c *Connection) Spec() Spec { return c.spec.Clone() }

// ServerInfo is the identity the provider reported during initialize.
func (c *Connection) ServerInfo() mcp.Implementation { return c.server }

// Attempts is how many handshakes it took to connect.
func (c *Connection) Attempts() int { return c.attempts }

// ConnectedAt is when the handshake completed.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Tools returns the discovered tools in provider order.
func (c *Connection) Tools() []ToolDescriptor {
	return slices.Clone(c.tools)
}

// Tool looks up one discovered tool.
func (c *Connection) Tool(name string) (ToolDescriptor, bool) {
	for _, tool := range c.tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return ToolDescriptor{}, false
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastPing reports the time and outcome of the last health ping.
func (c *Connection) LastPing() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPing, c.lastPingOK
}

func (c *Connection) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// CallTool runs a tool on the provider. Only a Connected connection
// accepts calls.
func (c *Connection) CallTool(ctx context.Context, tool string, arguments map[string]any) (mcp.ToolsCallResult, error) {
	if state := c.State(); state != StateConnected {
		return mcp.ToolsCallResult{}, fmt.Errorf("%w: %q is %s", ErrNotConnected, c.name, state)
	}
	return c.client.CallTool(ctx, tool, arguments)
}

// Ping sends a protocol ping and records the outcome.
func (c *Connection) Ping(ctx context.Context) error {
	if state := c.State(); state != StateConnected {
		return fmt.Errorf("%w: %q is %s", ErrNotConnected, c.name, state)
	}
	err := c.client.Ping(ctx)

	c.mu.Lock()
	c.lastPing = time.Now()
	c.lastPingOK = err == nil
	c.mu.Unlock()
	return err
}

func (c *Connection) close(ctx context.Context, final State) error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(final)
		close(c.closing)
		err = c.client.Close(ctx)
	})
	return err
}
