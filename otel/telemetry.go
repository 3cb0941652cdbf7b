// Package otel provides OpenTelemetry integration for provider connections,
// tool executions and conversation turns.
package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/petalmcp/observe"
)

const scopeName = "github.com/petal-labs/petalmcp"

// Config configures Setup.
type Config struct {
	// Endpoint is an OTLP/HTTP traces URL. Empty keeps spans in-process.
	Endpoint string
}

// Telemetry owns the process-wide providers installed by Setup.
type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	reader         *sdkmetric.ManualReader
	observer       *ToolObserver
}

// Setup installs global tracer and meter providers and registers a
// ToolObserver with observe.SetObserver. Metrics are kept in memory and
// read back with Summary.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	var opts []sdktrace.TracerProviderOption
	if cfg.Endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		if err != nil {
			return nil, fmt.Errorf("otel: create trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	observer, err := NewToolObserver(mp.Meter(scopeName), tp.Tracer(scopeName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("otel: create observer: %w", err)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	observe.SetObserver(observer)

	return &Telemetry{
		tracerProvider: tp,
		meterProvider:  mp,
		reader:         reader,
		observer:       observer,
	}, nil
}

// Observer returns the installed observer.
func (t *Telemetry) Observer() *ToolObserver {
	return t.observer
}

// Summary is a session-level tally of recorded metrics.
type Summary struct {
	ToolExecutions  int64 `json:"tool_executions"`
	ToolFailures    int64 `json:"tool_failures"`
	ConnectAttempts int64 `json:"connect_attempts"`
	HealthChecks    int64 `json:"health_checks"`
	Turns           int64 `json:"turns"`
}

// Summary collects the metrics recorded so far.
func (t *Telemetry) Summary(ctx context.Context) (Summary, error) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return Summary{}, fmt.Errorf("otel: collect metrics: %w", err)
	}
	return summarize(&rm), nil
}

func summarize(rm *metricdata.ResourceMetrics) Summary {
	var s Summary
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch m.Name {
			case MetricToolExecutions:
				sum, _ := m.Data.(metricdata.Sum[int64])
				for _, dp := range sum.DataPoints {
					s.ToolExecutions += dp.Value
					if v, ok := dp.Attributes.Value(attribute.Key("success")); ok && !v.AsBool() {
						s.ToolFailures += dp.Value
					}
				}
			case MetricConnectAttempts:
				s.ConnectAttempts += sumInt64(m.Data)
			case MetricHealthChecks:
				s.HealthChecks += sumInt64(m.Data)
			case MetricTurnDuration:
				hist, _ := m.Data.(metricdata.Histogram[float64])
				for _, dp := range hist.DataPoints {
					s.Turns += int64(dp.Count) // #nosec G115 -- counts fit in int64
				}
			}
		}
	}
	return s
}

func sumInt64(data metricdata.Aggregation) int64 {
	sum, _ := data.(metricdata.Sum[int64])
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

// Shutdown flushes pending spans and uninstalls the observer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	observe.SetObserver(nil)
	return errors.Join(
		t.tracerProvider.Shutdown(ctx),
		t.meterProvider.Shutdown(ctx),
	)
}
