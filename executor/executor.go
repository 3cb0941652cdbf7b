// Package executor runs tool invocations against their owning provider.
//
// Every call goes through one execution function resolved when the
// Executor is built. The innermost layer is the default path: look up the
// owner, call the tool, time it. Interceptors specialize single tool
// names and are layered in installation order, each wrapping the function
// built before it. Middleware wraps everything, for all tool names.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/petal-labs/petalmcp/observe"
	"github.com/petal-labs/petalmcp/provider"
)

// Router resolves tool names to connections.
type Router interface {
	FindOwner(tool string) (*provider.Connection, bool)
	Providers() []string
}

// Call is one tool execution request.
type Call struct {
	Tool   string
	Params map[string]any
	// Verbose asks interceptors for detailed progress.
	Verbose bool

	report func(ProgressEvent)
}

// Progress emits a progress event for this call.
func (c Call) Progress(stage Stage, message string) {
	if c.report == nil {
		return
	}
	c.report(ProgressEvent{Tool: c.Tool, Stage: stage, Message: message})
}

// ExecFunc executes one call.
type ExecFunc func(ctx context.Context, call Call) (Result, error)

// Handler is an interceptor's specialized path. next is the default path.
type Handler func(ctx context.Context, call Call, next ExecFunc) (Result, error)

// CompletionPredicate reports whether a successful result ends a
// multi-call task, such as the last step of a reasoning chain.
type CompletionPredicate func(Result) bool

// Interceptor specializes execution of one tool name.
type Interceptor struct {
	Tool   string
	Handle Handler
	// Complete is optional.
	Complete CompletionPredicate
}

// Middleware wraps execution for every tool name.
type Middleware func(next ExecFunc) ExecFunc

// Options configures an Executor.
type Options struct {
	Logger *slog.Logger
	// Reporter receives progress events. Nil drops them.
	Reporter func(ProgressEvent)
	// Interceptors are layered in order; for one tool name the last
	// wins.
	Interceptors []Interceptor
	// Middleware wraps outside the interceptors, first entry outermost.
	Middleware []Middleware
	Verbose    bool
}

// Executor runs tools. It is immutable once built and safe for concurrent
// use.
type Executor struct {
	router   Router
	logger   *slog.Logger
	reporter func(ProgressEvent)
	verbose  bool
	exec     ExecFunc
	tools    map[string]bool
}

// New resolves the execution chain once.
func New(router Router, opts Options) *Executor {
	e := &Executor{
		router:   router,
		logger:   opts.Logger,
		reporter: opts.Reporter,
		verbose:  opts.Verbose,
		tools:    make(map[string]bool),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.reporter == nil {
		e.reporter = func(ProgressEvent) {}
	}

	base := e.defaultPath
	fn := ExecFunc(base)
	for _, ic := range opts.Interceptors {
		if ic.Tool == "" || ic.Handle == nil {
			continue
		}
		fn = e.layer(ic, fn, base)
		e.tools[ic.Tool] = true
	}
	for i := len(opts.Middleware) - 1; i >= 0; i-- {
		if opts.Middleware[i] != nil {
			fn = opts.Middleware[i](fn)
		}
	}
	e.exec = fn
	return e
}

// Intercepted reports whether an interceptor specializes tool.
func (e *Executor) Intercepted(tool string) bool {
	return e.tools[tool]
}

// Execute runs tool with params. On failure the returned Result carries
// the error message as well.
func (e *Executor) Execute(ctx context.Context, tool string, params map[string]any) (Result, error) {
	if params == nil {
		params = map[string]any{}
	}
	call := Call{
		Tool:    tool,
		Params:  maps.Clone(params),
		Verbose: e.verbose,
		report:  e.reporter,
	}
	result, err := e.exec(ctx, call)
	if result.Tool == "" {
		result.Tool = tool
	}
	if err != nil && result.Error == "" {
		result.Error = err.Error()
	}
	return result, err
}

func (e *Executor) layer(ic Interceptor, inner, base ExecFunc) ExecFunc {
	return func(ctx context.Context, call Call) (Result, error) {
		if call.Tool != ic.Tool {
			return inner(ctx, call)
		}
		result, err := ic.Handle(ctx, call, base)
		if err == nil && ic.Complete != nil && ic.Complete(result) {
			call.Progress(StageComplete, "")
			e.logger.Debug("tool task complete", "tool", call.Tool)
		}
		return result, err
	}
}

// defaultPath finds the owner, runs the tool and measures it.
func (e *Executor) defaultPath(ctx context.Context, call Call) (Result, error) {
	conn, ok := e.router.FindOwner(call.Tool)
	if !ok {
		err := &ToolNotFoundError{Tool: call.Tool, Providers: e.router.Providers()}
		observe.Execute(observe.ExecuteObservation{Tool: call.Tool, ErrorKind: errorKind(err)})
		e.logger.Warn("tool not found", "tool", call.Tool, "providers", err.Providers)
		return FailedResult(call.Tool, err), err
	}

	call.Progress(StageStart, "")
	started := time.Now()
	reply, err := conn.CallTool(ctx, call.Tool, call.Params)
	elapsed := time.Since(started)

	if err == nil && reply.IsError {
		err = errors.New(reply.Text())
	}
	result := Result{
		Tool:       call.Tool,
		Provider:   conn.Name(),
		Content:    reply.Content,
		Structured: reply.StructuredContent,
		Duration:   elapsed,
	}
	if err != nil {
		err = &ToolExecutionError{Tool: call.Tool, Provider: conn.Name(), Err: err}
		result.Error = err.Error()
	}

	observe.Execute(observe.ExecuteObservation{
		Tool:      call.Tool,
		Provider:  conn.Name(),
		Duration:  elapsed,
		Success:   err == nil,
		ErrorKind: errorKind(err),
	})
	if err != nil {
		e.reporter(ProgressEvent{Tool: call.Tool, Stage: StageFailed, Duration: elapsed, Err: err})
		e.logger.Warn("tool failed", "tool", call.Tool, "provider", conn.Name(), "duration", elapsed, "error", err)
		return result, err
	}
	e.reporter(ProgressEvent{Tool: call.Tool, Stage: StageDone, Duration: elapsed})
	e.logger.Debug("tool finished", "tool", call.Tool, "provider", conn.Name(), "duration", elapsed)
	return result, nil
}
