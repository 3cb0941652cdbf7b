package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

// fakeTransport answers requests synchronously through handler and records
// notifications separately.
type fakeTransport struct {
	mu            sync.Mutex
	closed        bool
	sendErr       error
	pending       []Message
	requests      []Message
	notifications []Message
	handler       func(req Message) []Message
}

func (f *fakeTransport) Send(ctx context.Context, message Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if message.IsNotification() {
		f.notifications = append(f.notifications, message)
		return nil
	}
	f.requests = append(f.requests, message)
	if f.handler != nil {
		f.pending = append(f.pending, f.handler(message)...)
	}
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return Message{}, errors.New("fake transport: nothing queued")
	}
	next := f.pending[0]
	f.pending = f.pending[1:]
	return next, nil
}

func (f *fakeTransport) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func reply(t *testing.T, req Message, result any) []Message {
	t.Helper()
	return []Message{{JSONRPC: jsonRPCVersion, ID: req.ID, Result: mustJSON(t, result)}}
}

func methodNotFound(req Message) []Message {
	return []Message{{
		JSONRPC: jsonRPCVersion,
		ID:      req.ID,
		Error:   &RPCError{Code: -32601, Message: "method not found"},
	}}
}

func TestClientInitializeSendsHandshake(t *testing.T) {
	transport := &fakeTransport{
		handler: func(req Message) []Message {
			if req.Method != MethodInitialize {
				return methodNotFound(req)
			}
			params := decodeParams(t, req.Params)
			if params["protocolVersion"] != ProtocolVersion {
				t.Fatalf("protocolVersion = %v, want %s", params["protocolVersion"], ProtocolVersion)
			}
			info, _ := params["clientInfo"].(map[string]any)
			if info["name"] != "petalmcp" {
				t.Fatalf("clientInfo.name = %v, want petalmcp", info["name"])
			}
			if _, ok := params["capabilities"].(map[string]any); !ok {
				t.Fatalf("capabilities = %v, want object", params["capabilities"])
			}
			return reply(t, req, InitializeResult{
				ProtocolVersion: ProtocolVersion,
				ServerInfo:      Implementation{Name: "files", Version: "1.2.0"},
			})
		},
	}

	client := NewClient(transport, Options{})
	result, err := client.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if result.ServerInfo.Name != "files" {
		t.Fatalf("ServerInfo.Name = %q, want files", result.ServerInfo.Name)
	}
	if got := client.ServerInfo().Version; got != "1.2.0" {
		t.Fatalf("ServerInfo().Version = %q, want 1.2.0", got)
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.notifications) != 1 || transport.notifications[0].Method != MethodInitialized {
		t.Fatalf("notifications = %+v, want one %s", transport.notifications, MethodInitialized)
	}
}

func TestClientInitializeIsCached(t *testing.T) {
	calls := 0
	transport := &fakeTransport{
		handler: func(req Message) []Message {
			calls++
			return reply(t, req, InitializeResult{ServerInfo: Implementation{Name: "files"}})
		},
	}

	client := NewClient(transport, Options{})
	for i := 0; i < 3; i++ {
		if _, err := client.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize() #%d error = %v", i, err)
		}
	}
	if calls != 1 {
		t.Fatalf("initialize requests = %d, want 1", calls)
	}
}

func TestClientListToolsFollowsCursor(t *testing.T) {
	transport := &fakeTransport{
		handler: func(req Message) []Message {
			if req.Method != MethodToolsList {
				return methodNotFound(req)
			}
			params := decodeParams(t, req.Params)
			if params["cursor"] == nil {
				return reply(t, req, ToolsListResult{
					Tools:      []Tool{{Name: "get_local_file_list"}},
					NextCursor: "page-2",
				})
			}
			return reply(t, req, ToolsListResult{Tools: []Tool{{Name: "read_file"}}})
		},
	}

	tools, err := NewClient(transport, Options{}).ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "get_local_file_list" || tools[1].Name != "read_file" {
		t.Fatalf("tools = %+v, want get_local_file_list then read_file", tools)
	}
}

func TestClientCallToolSkipsNotifications(t *testing.T) {
	transport := &fakeTransport{
		handler: func(req Message) []Message {
			params := decodeParams(t, req.Params)
			if params["name"] != "get_local_file_list" {
				t.Fatalf("params.name = %v, want get_local_file_list", params["name"])
			}
			args, _ := params["arguments"].(map[string]any)
			if args["path"] != "." {
				t.Fatalf("arguments.path = %v, want .", args["path"])
			}
			progress := Message{JSONRPC: jsonRPCVersion, Method: "notifications/progress"}
			stale := Message{JSONRPC: jsonRPCVersion, ID: req.ID + 100, Result: mustJSON(t, map[string]any{})}
			return append([]Message{progress, stale}, reply(t, req, ToolsCallResult{
				Content: []ContentBlock{{Type: "text", Text: "a.txt\nb.txt"}},
			})...)
		},
	}

	result, err := NewClient(transport, Options{}).CallTool(context.Background(), "get_local_file_list", map[string]any{"path": "."})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if got := result.Text(); got != "a.txt\nb.txt" {
		t.Fatalf("Text() = %q, want file names", got)
	}
}

func TestClientCallToolNilArgumentsEncodeAsObject(t *testing.T) {
	transport := &fakeTransport{
		handler: func(req Message) []Message {
			params := decodeParams(t, req.Params)
			if _, ok := params["arguments"].(map[string]any); !ok {
				t.Fatalf("arguments = %v, want empty object", params["arguments"])
			}
			return reply(t, req, ToolsCallResult{})
		},
	}
	if _, err := NewClient(transport, Options{}).CallTool(context.Background(), "noop", nil); err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
}

func TestClientRPCErrorIsWrapped(t *testing.T) {
	transport := &fakeTransport{
		handler: func(req Message) []Message {
			return []Message{{
				JSONRPC: jsonRPCVersion,
				ID:      req.ID,
				Error:   &RPCError{Code: -32001, Message: "disk unavailable"},
			}}
		},
	}

	_, err := NewClient(transport, Options{}).ListTools(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Method != MethodToolsList {
		t.Fatalf("error = %v, want *RequestError for %s", err, MethodToolsList)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32001 {
		t.Fatalf("error = %v, want wrapped rpc error -32001", err)
	}
}

func TestClientPing(t *testing.T) {
	transport := &fakeTransport{
		handler: func(req Message) []Message {
			if req.Method != MethodPing {
				return methodNotFound(req)
			}
			return reply(t, req, map[string]any{})
		},
	}
	if err := NewClient(transport, Options{}).Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestClientCloseNotifiesThenCloses(t *testing.T) {
	transport := &fakeTransport{}
	if err := NewClient(transport, Options{}).Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if !transport.closed {
		t.Fatal("transport.closed = false, want true")
	}
	if len(transport.notifications) != 1 || transport.notifications[0].Method != MethodClose {
		t.Fatalf("notifications = %+v, want one close", transport.notifications)
	}
}

func TestClientWithoutTransport(t *testing.T) {
	_, err := NewClient(nil, Options{}).ListTools(context.Background())
	if !errors.Is(err, ErrNilTransport) {
		t.Fatalf("ListTools() error = %v, want ErrNilTransport", err)
	}
}

func TestJoinContent(t *testing.T) {
	got := JoinContent([]ContentBlock{
		{Type: "text", Text: "first"},
		{Type: "image", MimeType: "image/png", Data: "AAAA"},
		{Type: "resource"},
		{Type: "text", Text: "last"},
	})
	want := "first\n[image image/png]\n[resource]\nlast"
	if got != want {
		t.Fatalf("JoinContent() = %q, want %q", got, want)
	}
}

func TestToolSchemaAccessors(t *testing.T) {
	tool := Tool{
		Name: "get_local_file_list",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"path"},
			"properties": map[string]any{
				"path":      map[string]any{"type": "string", "description": "directory"},
				"recursive": true,
			},
		},
	}
	if got := tool.Required(); len(got) != 1 || got[0] != "path" {
		t.Fatalf("Required() = %v, want [path]", got)
	}
	props := tool.Properties()
	if props["path"]["type"] != "string" {
		t.Fatalf("Properties()[path] = %v", props["path"])
	}
	if props["recursive"] == nil {
		t.Fatal("Properties() dropped non-object property")
	}
}

func mustJSON(t *testing.T, value any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return data
}

func decodeParams(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return obj
}
