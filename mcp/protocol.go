// Package mcp speaks the Model Context Protocol (JSON-RPC 2.0) to tool
// provider processes.
package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

const jsonRPCVersion = "2.0"

// Method names used by the client.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPing        = "ping"
	MethodClose       = "close"
)

// Message is a JSON-RPC 2.0 envelope.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsNotification reports whether the message expects no response.
func (m Message) IsNotification() bool {
	return m.Method != "" && m.ID == 0
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mcp: rpc error %d: %s", e.Code, e.Message)
}

// RequestError wraps a failed request with the method that was in flight.
type RequestError struct {
	Method string
	Err    error
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mcp: %s: %v", e.Method, e.Err)
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Implementation names a client or server in the initialize exchange.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams is sent in the initialize request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// InitializeResult is the server's answer to initialize.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      Implementation `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// Tool is one entry of a tools/list reply.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Required returns the schema's required property names.
func (t Tool) Required() []string {
	raw, _ := t.InputSchema["required"].([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if name, ok := item.(string); ok && name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Properties returns the schema's property objects keyed by name.
func (t Tool) Properties() map[string]map[string]any {
	raw, _ := t.InputSchema["properties"].(map[string]any)
	out := make(map[string]map[string]any, len(raw))
	for name, value := range raw {
		prop, _ := value.(map[string]any)
		if prop == nil {
			prop = map[string]any{}
		}
		out[name] = prop
	}
	return out
}

// ToolsListResult is the tools/list reply.
type ToolsListResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ToolsCallParams is sent in a tools/call request.
type ToolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ContentBlock is one item of a tools/call reply.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolsCallResult is the tools/call reply.
type ToolsCallResult struct {
	Content           []ContentBlock `json:"content,omitempty"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

// Text joins the content blocks into one string. Text blocks contribute
// their text; other blocks are summarized by type and MIME type.
func (r ToolsCallResult) Text() string {
	return JoinContent(r.Content)
}

// JoinContent renders content blocks as newline separated text.
func JoinContent(blocks []ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		switch {
		case block.Type == "text":
			parts = append(parts, block.Text)
		case block.MimeType != "":
			parts = append(parts, fmt.Sprintf("[%s %s]", block.Type, block.MimeType))
		case block.Type != "":
			parts = append(parts, "["+block.Type+"]")
		}
	}
	return strings.Join(parts, "\n")
}
