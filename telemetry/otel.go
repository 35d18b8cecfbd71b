package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/routecc/rcc/core"
)

// tracerName identifies the gateway's instrumentation scope
const tracerName = "github.com/routecc/rcc"

// OTelTelemetry implements core.Telemetry on top of OpenTelemetry. It is
// the only place the gateway touches the otel API for tracing.
type OTelTelemetry struct {
	tracer  trace.Tracer
	metrics *MetricSet
	tp      *sdktrace.TracerProvider
}

// otelSpan adapts an otel span to core.Span
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}

// NewTelemetry bootstraps an otel tracer provider with a stdout exporter
// writing to w, registers it globally, and returns a core.Telemetry.
// Pass io.Discard to trace without emitting.
func NewTelemetry(w io.Writer) (*OTelTelemetry, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)

	metrics, err := NewMetricSet()
	if err != nil {
		return nil, err
	}

	return &OTelTelemetry{
		tracer:  tp.Tracer(tracerName),
		metrics: metrics,
		tp:      tp,
	}, nil
}

// StartSpan starts a child span of whatever span is in ctx
func (t *OTelTelemetry) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric routes a measurement to the matching instrument
func (t *OTelTelemetry) RecordMetric(name string, value float64, labels map[string]string) {
	t.metrics.Record(context.Background(), name, value, labels)
}

// Shutdown flushes pending spans
func (t *OTelTelemetry) Shutdown(ctx context.Context) error {
	return t.tp.Shutdown(ctx)
}
