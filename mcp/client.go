package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
)

const (
	// ProtocolVersion is the MCP revision offered during initialize.
	ProtocolVersion = "2025-06-18"

	defaultClientName    = "petalmcp"
	defaultClientVersion = "dev"
)

// ErrNilTransport is returned when a client has no transport to talk over.
var ErrNilTransport = errors.New("mcp: transport is nil")

// Transport moves JSON-RPC messages between the client and one provider.
type Transport interface {
	Send(ctx context.Context, message Message) error
	Receive(ctx context.Context) (Message, error)
	Close(ctx context.Context) error
}

// Options configures the identity the client presents.
type Options struct {
	ProtocolVersion string
	ClientInfo      Implementation
	Capabilities    map[string]any
}

// Client runs request/response exchanges over a Transport. Requests are
// serialized: the provider sees one outstanding request at a time.
type Client struct {
	transport Transport
	options   Options

	reqMu sync.Mutex

	mu          sync.Mutex
	nextID      int64
	initialized bool
	initResult  InitializeResult
}

// NewClient returns a client bound to transport.
func NewClient(transport Transport, options Options) *Client {
	if options.ProtocolVersion == "" {
		options.ProtocolVersion = ProtocolVersion
	}
	if options.ClientInfo.Name == "" {
		options.ClientInfo.Name = defaultClientName
	}
	if options.ClientInfo.Version == "" {
		options.ClientInfo.Version = defaultClientVersion
	}
	return &Client{
		transport: transport,
		options:   options,
		nextID:    1,
	}
}

// Initialize negotiates the session and sends the initialized notification.
// Calling it again returns the cached result.
func (c *Client) Initialize(ctx context.Context) (InitializeResult, error) {
	if c == nil {
		return InitializeResult{}, errors.New("mcp: client is nil")
	}

	c.mu.Lock()
	if c.initialized {
		cached := c.initResult
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	capabilities := maps.Clone(c.options.Capabilities)
	if capabilities == nil {
		capabilities = map[string]any{}
	}
	params := InitializeParams{
		ProtocolVersion: c.options.ProtocolVersion,
		Capabilities:    capabilities,
		ClientInfo:      c.options.ClientInfo,
	}

	var result InitializeResult
	if err := c.call(ctx, MethodInitialize, params, &result); err != nil {
		return InitializeResult{}, err
	}
	if err := c.notify(ctx, MethodInitialized, map[string]any{}); err != nil {
		return InitializeResult{}, err
	}

	c.mu.Lock()
	c.initialized = true
	c.initResult = result
	c.mu.Unlock()
	return result, nil
}

// ServerInfo returns the provider identity reported by Initialize.
func (c *Client) ServerInfo() Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initResult.ServerInfo
}

// ListTools returns every tool the provider advertises, following
// pagination cursors until the list is exhausted.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var (
		tools  []Tool
		cursor string
	)
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var page ToolsListResult
		if err := c.call(ctx, MethodToolsList, params, &page); err != nil {
			return nil, err
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool executes a tool by name.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (ToolsCallResult, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	var result ToolsCallResult
	if err := c.call(ctx, MethodToolsCall, ToolsCallParams{Name: name, Arguments: arguments}, &result); err != nil {
		return ToolsCallResult{}, err
	}
	return result, nil
}

// Ping checks that the provider still answers requests.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, map[string]any{}, nil)
}

// Close sends a best-effort close notification and closes the transport.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.transport == nil {
		return nil
	}
	_ = c.notify(ctx, MethodClose, map[string]any{})
	return c.transport.Close(ctx)
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if c == nil || c.transport == nil {
		return &RequestError{Method: method, Err: ErrNilTransport}
	}

	raw, err := marshalParams(params)
	if err != nil {
		return &RequestError{Method: method, Err: err}
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	id := c.nextRequestID()
	if err := c.transport.Send(ctx, Message{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: raw}); err != nil {
		return &RequestError{Method: method, Err: err}
	}

	for {
		response, err := c.transport.Receive(ctx)
		if err != nil {
			return &RequestError{Method: method, Err: err}
		}
		if response.JSONRPC != "" && response.JSONRPC != jsonRPCVersion {
			return &RequestError{Method: method, Err: fmt.Errorf("unsupported jsonrpc version %q", response.JSONRPC)}
		}
		// Server notifications and stale replies are skipped.
		if response.Method != "" || response.ID != id {
			continue
		}
		if response.Error != nil {
			return &RequestError{Method: method, Err: response.Error}
		}
		if out == nil || len(response.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(response.Result, out); err != nil {
			return &RequestError{Method: method, Err: fmt.Errorf("decode result: %w", err)}
		}
		return nil
	}
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return &RequestError{Method: method, Err: err}
	}
	return c.transport.Send(ctx, Message{JSONRPC: jsonRPCVersion, Method: method, Params: raw})
}

func (c *Client) nextRequestID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return data, nil
}
