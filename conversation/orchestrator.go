// Package conversation runs one query through the model, the tools it asks
// for, and the follow-up answer.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/petalmcp/executor"
	"github.com/petal-labs/petalmcp/llm"
	"github.com/petal-labs/petalmcp/observe"
	"github.com/petal-labs/petalmcp/provider"
	"github.com/petal-labs/petalmcp/toolcall"
	"github.com/petal-labs/petalmcp/transcript"
)

const tracerName = "github.com/petal-labs/petalmcp/conversation"

// Catalog lists the reachable tools and the providers serving them.
type Catalog interface {
	DescribeAll() []provider.ToolDescriptor
	Providers() []string
}

// Executor runs one tool call.
type Executor interface {
	Execute(ctx context.Context, tool string, params map[string]any) (executor.Result, error)
}

// Query is one user request.
type Query struct {
	Text string
	// SystemPrompt overrides the prompt built from the tool catalog.
	SystemPrompt string
	Model        string
	Temperature  *float64
}

// Turn is the full record of one processed query. Results[i] is the
// outcome of Invocations[i].
type Turn struct {
	ID           string                `json:"id"`
	Query        string                `json:"query"`
	SystemPrompt string                `json:"system_prompt"`
	Model        string                `json:"model"`
	Temperature  float64               `json:"temperature"`
	Response     string                `json:"response"`
	Grammar      string                `json:"grammar,omitempty"`
	Invocations  []toolcall.Invocation `json:"tool_calls"`
	Results      []executor.Result     `json:"results"`
	FinalText    string                `json:"text"`
	StartedAt    time.Time             `json:"started_at"`
	Duration     time.Duration         `json:"duration_ns"`
}

// Failures counts failed results.
func (t *Turn) Failures() int {
	n := 0
	for _, r := range t.Results {
		if r.Failed() {
			n++
		}
	}
	return n
}

// Record converts the turn for the transcript store.
func (t *Turn) Record() transcript.Record {
	rec := transcript.Record{
		ID:          t.ID,
		Query:       t.Query,
		Model:       t.Model,
		Response:    t.Response,
		FinalText:   t.FinalText,
		Grammar:     t.Grammar,
		Invocations: make([]transcript.Invocation, 0, len(t.Invocations)),
		CreatedAt:   t.StartedAt,
		Duration:    t.Duration,
	}
	for i, inv := range t.Invocations {
		entry := transcript.Invocation{Tool: inv.Name, Parameters: inv.Parameters}
		if i < len(t.Results) {
			r := t.Results[i]
			entry.Provider = r.Provider
			entry.Error = r.Error
			entry.Duration = r.Duration
			if !r.Failed() {
				entry.Result = r.Text()
			}
		}
		rec.Invocations = append(rec.Invocations, entry)
	}
	return rec
}

// Event is a user-facing progress note for a running turn.
type Event struct {
	Message string
}

// Options configures an Orchestrator.
type Options struct {
	Logger *slog.Logger
	// Store, when set, receives every completed turn.
	Store transcript.Store
	// Parser defaults to the full grammar cascade.
	Parser *toolcall.Parser
	Model  string
	// Temperature defaults to llm.DefaultTemperature.
	Temperature *float64
	// Reporter receives progress notes. Nil drops them.
	Reporter func(Event)
}

// Orchestrator processes queries. It holds no per-turn state and may be
// reused, but turns are expected to run one at a time.
type Orchestrator struct {
	client   llm.Client
	exec     Executor
	catalog  Catalog
	logger   *slog.Logger
	store    transcript.Store
	parser   *toolcall.Parser
	model    string
	temp     float64
	reporter func(Event)
	tracer   trace.Tracer
}

// New builds an Orchestrator.
func New(client llm.Client, exec Executor, catalog Catalog, opts Options) *Orchestrator {
	o := &Orchestrator{
		client:   client,
		exec:     exec,
		catalog:  catalog,
		logger:   opts.Logger,
		store:    opts.Store,
		parser:   opts.Parser,
		model:    opts.Model,
		temp:     llm.DefaultTemperature,
		reporter: opts.Reporter,
		tracer:   otel.Tracer(tracerName),
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.parser == nil {
		o.parser = toolcall.NewParser()
	}
	if o.model == "" {
		o.model = llm.DefaultModel
	}
	if opts.Temperature != nil {
		o.temp = *opts.Temperature
	}
	if o.reporter == nil {
		o.reporter = func(Event) {}
	}
	return o
}

func (o *Orchestrator) report(format string, args ...any) {
	o.reporter(Event{Message: fmt.Sprintf(format, args...)})
}

// ProcessQuery sends the query to the model, executes every tool
// invocation in its reply in order, and, when there were any, asks the
// model for a follow-up answer that sees each result.
//
// Tool failures are recorded in the turn and never abort it. Model
// failures return a *BackendError. If ctx ends mid-turn the context error
// is returned and no turn is produced.
func (o *Orchestrator) ProcessQuery(ctx context.Context, q Query) (turn *Turn, err error) {
	started := time.Now()
	model := q.Model
	if model == "" {
		model = o.model
	}
	temp := o.temp
	if q.Temperature != nil {
		temp = *q.Temperature
	}

	ctx, span := o.tracer.Start(ctx, "conversation.process_query", trace.WithAttributes(
		attribute.String("llm.model", model),
	))
	defer func() {
		observation := observe.TurnObservation{
			Model:     model,
			Duration:  time.Since(started),
			Success:   err == nil,
			ErrorKind: errorKind(err),
		}
		if turn != nil {
			observation.Invocations = len(turn.Invocations)
			observation.Failures = turn.Failures()
			span.SetAttributes(
				attribute.Int("conversation.invocations", len(turn.Invocations)),
				attribute.Int("conversation.failures", turn.Failures()),
			)
		}
		observe.Turn(observation)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if len(o.catalog.Providers()) == 0 {
		return nil, ErrNoActiveConnections
	}

	system := q.SystemPrompt
	if system == "" {
		system = BuildSystemPrompt(o.catalog.DescribeAll())
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: q.Text},
	}

	turn = &Turn{
		ID:           uuid.NewString(),
		Query:        q.Text,
		SystemPrompt: system,
		Model:        model,
		Temperature:  temp,
		StartedAt:    started,
	}

	o.report("sending query to %s", model)
	o.logger.Debug("model request", "turn", turn.ID, "model", model, "query", q.Text)
	resp, err := o.client.Chat(ctx, llm.ChatRequest{Model: model, Messages: messages, Temperature: &temp})
	if err != nil {
		return nil, o.backendFailure(ctx, StageQuery, err)
	}
	turn.Response = resp.Content
	turn.FinalText = resp.Content
	o.logger.Debug("model response", "turn", turn.ID, "content", resp.Content)

	match := o.parser.ParseDetailed(resp.Content)
	turn.Grammar = match.Grammar
	turn.Invocations = match.Invocations
	turn.Results = make([]executor.Result, 0, len(match.Invocations))
	if len(match.Invocations) > 0 {
		o.logger.Debug("parsed tool calls", "turn", turn.ID, "grammar", match.Grammar, "count", len(match.Invocations))
	}

	total := len(match.Invocations)
	for i, inv := range match.Invocations {
		if total > 1 {
			o.report("tool call %d/%d: %s", i+1, total, inv.Name)
		}
		result, execErr := o.exec.Execute(ctx, inv.Name, inv.Parameters)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if execErr != nil {
			o.report("tool %s failed: %v", inv.Name, execErr)
			if result.Error == "" {
				result = executor.FailedResult(inv.Name, execErr)
			}
		}
		turn.Results = append(turn.Results, result)
	}

	if total > 0 {
		followUp := make([]llm.Message, 0, len(messages)+total)
		followUp = append(followUp, messages...)
		for i, inv := range turn.Invocations {
			followUp = append(followUp, llm.Message{
				Role:    llm.RoleUser,
				Content: FollowUpMessage(inv.Name, turn.Results[i]),
			})
		}
		o.report("sending tool results to %s", model)
		resp, err = o.client.Chat(ctx, llm.ChatRequest{Model: model, Messages: followUp, Temperature: &temp})
		if err != nil {
			return nil, o.backendFailure(ctx, StageFollowUp, err)
		}
		turn.FinalText = resp.Content
	}

	turn.Duration = time.Since(started)
	if o.store != nil {
		if storeErr := o.store.Append(ctx, turn.Record()); storeErr != nil {
			o.logger.Warn("transcript append failed", "turn", turn.ID, "error", storeErr)
		}
	}
	o.logger.Debug("turn complete", "turn", turn.ID, "invocations", total, "duration", turn.Duration)
	return turn, nil
}

func (o *Orchestrator) backendFailure(ctx context.Context, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	o.logger.Warn("model backend failed", "stage", stage, "error", err)
	return &BackendError{Stage: stage, Err: err}
}

// FollowUpMessage is the text that reports one tool result to the model.
func FollowUpMessage(tool string, result executor.Result) string {
	return fmt.Sprintf("Tool '%s' result: %s", tool, result.String())
}
