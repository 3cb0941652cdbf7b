package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/petalmcp/observe"
)

// Metric names.
const (
	MetricToolExecutions  = "petalmcp.tool.executions"
	MetricToolLatency     = "petalmcp.tool.latency"
	MetricConnectAttempts = "petalmcp.provider.connect.attempts"
	MetricHealthChecks    = "petalmcp.provider.health.checks"
	MetricTurnDuration    = "petalmcp.turn.duration"
)

// ToolObserver records connection, tool, health and turn signals into
// OpenTelemetry. Install it with observe.SetObserver.
type ToolObserver struct {
	tracer trace.Tracer

	executions metric.Int64Counter
	latency    metric.Float64Histogram
	connects   metric.Int64Counter
	health     metric.Int64Counter
	turns      metric.Float64Histogram
}

// NewToolObserver creates an observer bound to the provided meter/tracer.
// A nil tracer records metrics only.
func NewToolObserver(meter metric.Meter, tracer trace.Tracer) (*ToolObserver, error) {
	executions, err := meter.Int64Counter(MetricToolExecutions,
		metric.WithDescription("Number of tool executions"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(MetricToolLatency,
		metric.WithDescription("Tool latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	connects, err := meter.Int64Counter(MetricConnectAttempts,
		metric.WithDescription("Number of provider connection attempts"),
	)
	if err != nil {
		return nil, err
	}
	health, err := meter.Int64Counter(MetricHealthChecks,
		metric.WithDescription("Number of provider health checks"),
	)
	if err != nil {
		return nil, err
	}
	turns, err := meter.Float64Histogram(MetricTurnDuration,
		metric.WithDescription("Duration of a conversation turn in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ToolObserver{
		tracer:     tracer,
		executions: executions,
		latency:    latency,
		connects:   connects,
		health:     health,
		turns:      turns,
	}, nil
}

// ObserveExecute records one tool execution.
func (o *ToolObserver) ObserveExecute(observation observe.ExecuteObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", observation.Tool),
		attribute.String("provider", observation.Provider),
		attribute.Bool("success", observation.Success),
	}
	if observation.ErrorKind != "" {
		attrs = append(attrs, attribute.String("error_kind", observation.ErrorKind))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.executions.Add(ctx, 1, options)
	o.latency.Record(ctx, observation.Duration.Seconds(), options)

	o.span("tool.execute", observation.Duration, observation.ErrorKind, attrs)
}

// ObserveConnect records one connection attempt.
func (o *ToolObserver) ObserveConnect(observation observe.ConnectObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("provider", observation.Provider),
		attribute.Int("attempt", observation.Attempt),
		attribute.Bool("success", observation.Success),
		attribute.Bool("final", observation.Final),
	}
	if observation.ErrorKind != "" {
		attrs = append(attrs, attribute.String("error_kind", observation.ErrorKind))
	}
	o.connects.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	o.span("provider.connect", observation.Duration, observation.ErrorKind, attrs)
}

// ObserveHealth records one background health-check result.
func (o *ToolObserver) ObserveHealth(observation observe.HealthObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("provider", observation.Provider),
		attribute.Bool("healthy", observation.Healthy),
	}
	if observation.ErrorKind != "" {
		attrs = append(attrs, attribute.String("error_kind", observation.ErrorKind))
	}
	o.health.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	o.span("provider.health.check", observation.Duration, observation.ErrorKind, attrs)
}

// ObserveTurn records one conversation turn. The turn's own span is started
// by the orchestrator, so only the metric is recorded here.
func (o *ToolObserver) ObserveTurn(observation observe.TurnObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", observation.Model),
		attribute.Int("invocations", observation.Invocations),
		attribute.Int("failures", observation.Failures),
		attribute.Bool("success", observation.Success),
	}
	if observation.ErrorKind != "" {
		attrs = append(attrs, attribute.String("error_kind", observation.ErrorKind))
	}
	o.turns.Record(context.Background(), observation.Duration.Seconds(), metric.WithAttributes(attrs...))
}

// span records a completed operation that ended now and took d.
func (o *ToolObserver) span(name string, d time.Duration, errorKind string, attrs []attribute.KeyValue) {
	if o.tracer == nil {
		return
	}
	end := time.Now()
	_, span := o.tracer.Start(context.Background(), name,
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(end.Add(-d)),
	)
	if errorKind != "" {
		span.SetStatus(codes.Error, errorKind)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
}

var _ observe.Observer = (*ToolObserver)(nil)
