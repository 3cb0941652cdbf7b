package conversation_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petal-labs/petalmcp/conversation"
	"github.com/petal-labs/petalmcp/executor"
	"github.com/petal-labs/petalmcp/llm"
	"github.com/petal-labs/petalmcp/mcp"
	"github.com/petal-labs/petalmcp/observe"
	"github.com/petal-labs/petalmcp/provider"
	"github.com/petal-labs/petalmcp/provider/providertest"
	"github.com/petal-labs/petalmcp/transcript"
)

// scriptedModel replies with canned answers in order and records every
// request it receives.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []llm.ChatRequest
}

func (m *scriptedModel) Chat(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return llm.ChatResponse{}, m.err
	}
	if len(m.replies) == 0 {
		return llm.ChatResponse{}, errors.New("no scripted reply left")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return llm.ChatResponse{Content: reply, Model: req.Model}, nil
}

func filesServer() *providertest.Server {
	return &providertest.Server{
		Name: "files",
		Tools: []providertest.Tool{{
			Name:        "get_local_file_list",
			Description: "List files in a directory",
			Schema: map[string]any{
				"type":     "object",
				"required": []any{"path"},
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "Directory to list"},
				},
			},
			Handler: providertest.Text("a.txt\nb.txt"),
		}},
	}
}

func newOrchestrator(t *testing.T, model llm.Client, opts conversation.Options) (*conversation.Orchestrator, *providertest.Server) {
	t.Helper()
	server := filesServer()
	manager, _ := providertest.Connect(t, server)
	exec := executor.New(manager.Registry(), executor.Options{})
	return conversation.New(model, exec, manager.Registry(), opts), server
}

func TestProcessQueryRunsToolAndFollowsUp(t *testing.T) {
	model := &scriptedModel{replies: []string{
		`Let me look. [TOOL]get_local_file_list{"path": "."}[/TOOL]`,
		"There are two files: a.txt and b.txt.",
	}}
	store := transcript.NewMemStore()
	orch, server := newOrchestrator(t, model, conversation.Options{Store: store})

	turn, err := orch.ProcessQuery(context.Background(), conversation.Query{Text: "What files are here?"})
	require.NoError(t, err)

	assert.NotEmpty(t, turn.ID)
	assert.Equal(t, "tag", turn.Grammar)
	require.Len(t, turn.Invocations, 1)
	require.Len(t, turn.Results, 1)
	assert.Equal(t, "get_local_file_list", turn.Invocations[0].Name)
	assert.Equal(t, map[string]any{"path": "."}, turn.Invocations[0].Parameters)
	assert.Equal(t, "files", turn.Results[0].Provider)
	assert.Equal(t, "There are two files: a.txt and b.txt.", turn.FinalText)
	assert.Contains(t, turn.Response, "[TOOL]")

	calls := server.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ".", calls[0].Args["path"])

	require.Len(t, model.requests, 2)
	first := model.requests[0]
	assert.Equal(t, llm.DefaultModel, first.Model)
	require.NotNil(t, first.Temperature)
	assert.Equal(t, llm.DefaultTemperature, *first.Temperature)
	require.Len(t, first.Messages, 2)
	assert.Equal(t, llm.RoleSystem, first.Messages[0].Role)
	assert.Contains(t, first.Messages[0].Content, "- get_local_file_list: List files in a directory")

	followUp := model.requests[1].Messages
	require.Len(t, followUp, 3)
	assert.Equal(t, first.Messages, followUp[:2])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "Tool 'get_local_file_list' result: a.txt\nb.txt"}, followUp[2])

	records, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, turn.ID, records[0].ID)
	assert.Equal(t, "a.txt\nb.txt", records[0].Invocations[0].Result)
}

func TestProcessQueryWithoutInvocationsSkipsFollowUp(t *testing.T) {
	model := &scriptedModel{replies: []string{"Hello! How can I help?"}}
	orch, _ := newOrchestrator(t, model, conversation.Options{})

	turn, err := orch.ProcessQuery(context.Background(), conversation.Query{Text: "hi"})
	require.NoError(t, err)
	assert.Empty(t, turn.Invocations)
	assert.Empty(t, turn.Results)
	assert.Equal(t, "Hello! How can I help?", turn.FinalText)
	assert.Len(t, model.requests, 1)
}

func TestProcessQueryRecordsFailuresAndContinues(t *testing.T) {
	model := &scriptedModel{replies: []string{
		"[TOOL]delete_everything{}[/TOOL] [TOOL]get_local_file_list{\"path\": \"/tmp\"}[/TOOL]",
		"done",
	}}
	orch, _ := newOrchestrator(t, model, conversation.Options{})

	turn, err := orch.ProcessQuery(context.Background(), conversation.Query{Text: "clean up"})
	require.NoError(t, err)
	require.Len(t, turn.Results, 2)
	assert.True(t, turn.Results[0].Failed())
	assert.Equal(t, `tool "delete_everything" not found, connected providers: files`, turn.Results[0].Error)
	assert.False(t, turn.Results[1].Failed())
	assert.Equal(t, 1, turn.Failures())

	followUp := model.requests[1].Messages
	require.Len(t, followUp, 4)
	assert.Equal(t, `Tool 'delete_everything' result: Error: tool "delete_everything" not found, connected providers: files`, followUp[2].Content)
	assert.Equal(t, "Tool 'get_local_file_list' result: a.txt\nb.txt", followUp[3].Content)
}

func TestProcessQueryOverrides(t *testing.T) {
	model := &scriptedModel{replies: []string{"plain"}}
	temp := 0.1
	orch, _ := newOrchestrator(t, model, conversation.Options{Model: "configured", Temperature: llm.Float64(0.3)})

	_, err := orch.ProcessQuery(context.Background(), conversation.Query{
		Text:         "hi",
		SystemPrompt: "custom system",
		Model:        "override",
		Temperature:  &temp,
	})
	require.NoError(t, err)
	req := model.requests[0]
	assert.Equal(t, "override", req.Model)
	assert.Equal(t, 0.1, *req.Temperature)
	assert.Equal(t, "custom system", req.Messages[0].Content)
}

func TestProcessQueryWithoutProviders(t *testing.T) {
	model := &scriptedModel{replies: []string{"unused"}}
	registry := provider.NewRegistry()
	orch := conversation.New(model, executor.New(registry, executor.Options{}), registry, conversation.Options{})

	turn, err := orch.ProcessQuery(context.Background(), conversation.Query{Text: "hi"})
	assert.ErrorIs(t, err, conversation.ErrNoActiveConnections)
	assert.Nil(t, turn)
	assert.Empty(t, model.requests)
}

func TestProcessQueryBackendErrors(t *testing.T) {
	boom := errors.New("model offline")

	model := &scriptedModel{err: boom}
	orch, _ := newOrchestrator(t, model, conversation.Options{})
	_, err := orch.ProcessQuery(context.Background(), conversation.Query{Text: "hi"})
	var backend *conversation.BackendError
	require.ErrorAs(t, err, &backend)
	assert.Equal(t, conversation.StageQuery, backend.Stage)
	assert.ErrorIs(t, err, boom)

	calls := 0
	failing := llm.ClientFunc(func(context.Context, llm.ChatRequest) (llm.ChatResponse, error) {
		calls++
		if calls == 1 {
			return llm.ChatResponse{Content: `[TOOL]get_local_file_list{"path": "."}[/TOOL]`}, nil
		}
		return llm.ChatResponse{}, boom
	})
	store := transcript.NewMemStore()
	orch, _ = newOrchestrator(t, failing, conversation.Options{Store: store})
	_, err = orch.ProcessQuery(context.Background(), conversation.Query{Text: "hi"})
	require.ErrorAs(t, err, &backend)
	assert.Equal(t, conversation.StageFollowUp, backend.Stage)

	records, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestProcessQueryCancelledMidBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var executed []string
	exec := executorFunc(func(_ context.Context, tool string, _ map[string]any) (executor.Result, error) {
		executed = append(executed, tool)
		cancel()
		return executor.Result{Tool: tool, Content: []mcp.ContentBlock{{Type: "text", Text: "ok"}}}, nil
	})
	model := &scriptedModel{replies: []string{"[TOOL]one{}[/TOOL][TOOL]two{}[/TOOL]", "unused"}}
	store := transcript.NewMemStore()
	manager, _ := providertest.Connect(t, filesServer())
	orch := conversation.New(model, exec, manager.Registry(), conversation.Options{Store: store})

	turn, err := orch.ProcessQuery(ctx, conversation.Query{Text: "go"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, turn)
	assert.Equal(t, []string{"one"}, executed)
	assert.Len(t, model.requests, 1)

	records, _ := store.List(context.Background(), 0)
	assert.Empty(t, records)
}

type executorFunc func(ctx context.Context, tool string, params map[string]any) (executor.Result, error)

func (f executorFunc) Execute(ctx context.Context, tool string, params map[string]any) (executor.Result, error) {
	return f(ctx, tool, params)
}

type turnRecorder struct {
	mu    sync.Mutex
	turns []observe.TurnObservation
}

func (r *turnRecorder) ObserveConnect(observe.ConnectObservation) {}
func (r *turnRecorder) ObserveExecute(observe.ExecuteObservation) {}
func (r *turnRecorder) ObserveHealth(observe.HealthObservation)   {}
func (r *turnRecorder) ObserveTurn(o observe.TurnObservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, o)
}

func TestProcessQueryObservesAndTraces(t *testing.T) {
	recorder := &turnRecorder{}
	observe.SetObserver(recorder)
	t.Cleanup(func() { observe.SetObserver(nil) })

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})

	model := &scriptedModel{replies: []string{"[TOOL]nope{}[/TOOL]", "sorry"}}
	orch, _ := newOrchestrator(t, model, conversation.Options{})
	_, err := orch.ProcessQuery(context.Background(), conversation.Query{Text: "hi"})
	require.NoError(t, err)

	require.Len(t, recorder.turns, 1)
	obs := recorder.turns[0]
	assert.True(t, obs.Success)
	assert.Equal(t, 1, obs.Invocations)
	assert.Equal(t, 1, obs.Failures)
	assert.Equal(t, llm.DefaultModel, obs.Model)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "conversation.process_query", spans[0].Name)
}

func TestBuildSystemPromptIsDeterministic(t *testing.T) {
	tools := []provider.ToolDescriptor{
		{
			Name:        "get_local_file_list",
			Description: "List files",
			Params: []provider.ParamDescriptor{
				{Name: "path", Type: "string", Description: "Directory", Required: true},
				{Name: "recursive", Type: "boolean", Description: "Descend"},
			},
		},
		{Name: "now", Description: "Current time"},
	}

	prompt := conversation.BuildSystemPrompt(tools)
	assert.Equal(t, prompt, conversation.BuildSystemPrompt(tools))
	assert.True(t, strings.HasPrefix(prompt, "You are a helpful AI assistant"))
	assert.Contains(t, prompt, `[TOOL]tool_name{"parameter1": "value1", "parameter2": "value2"}[/TOOL]`)
	assert.True(t, strings.HasSuffix(prompt, strings.Join([]string{
		"Available tools:",
		"- get_local_file_list: List files",
		"  Required parameters: path",
		"  - path (string): Directory",
		"  - recursive (boolean): Descend",
		"- now: Current time",
		"",
	}, "\n")))
}
