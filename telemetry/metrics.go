package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metric names emitted by the gateway
const (
	MetricRequestsTotal   = "rcc.requests.total"
	MetricRequestDuration = "rcc.request.duration_ms"
	MetricAttemptsTotal   = "rcc.attempts.total"
	MetricRetriesTotal    = "rcc.retries.total"
	MetricBreakerOpens    = "rcc.breaker.opens"
	MetricCredentialCools = "rcc.credential.cooldowns"
)

// MetricSet holds the gateway's otel instruments
type MetricSet struct {
	requestsTotal   metric.Float64Counter
	requestDuration metric.Float64Histogram
	attemptsTotal   metric.Float64Counter
	retriesTotal    metric.Float64Counter
	breakerOpens    metric.Float64Counter
	credentialCools metric.Float64Counter
}

// NewMetricSet registers a meter provider and creates the instruments
func NewMetricSet() (*MetricSet, error) {
	provider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(provider)
	meter := provider.Meter(tracerName)

	m := &MetricSet{}
	var err error

	if m.requestsTotal, err = meter.Float64Counter(MetricRequestsTotal,
		metric.WithDescription("Requests received per virtual model and outcome")); err != nil {
		return nil, err
	}
	if m.requestDuration, err = meter.Float64Histogram(MetricRequestDuration,
		metric.WithDescription("End-to-end request duration in milliseconds")); err != nil {
		return nil, err
	}
	if m.attemptsTotal, err = meter.Float64Counter(MetricAttemptsTotal,
		metric.WithDescription("Adapter invocations per pipeline and classification")); err != nil {
		return nil, err
	}
	if m.retriesTotal, err = meter.Float64Counter(MetricRetriesTotal,
		metric.WithDescription("Retry attempts per virtual model")); err != nil {
		return nil, err
	}
	if m.breakerOpens, err = meter.Float64Counter(MetricBreakerOpens,
		metric.WithDescription("Circuit breaker open transitions per pipeline")); err != nil {
		return nil, err
	}
	if m.credentialCools, err = meter.Float64Counter(MetricCredentialCools,
		metric.WithDescription("Credential cooldown transitions per provider")); err != nil {
		return nil, err
	}
	return m, nil
}

// Record routes a named measurement to its instrument. Unknown names are
// dropped silently; metric emission never fails a request.
func (m *MetricSet) Record(ctx context.Context, name string, value float64, labels map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	opt := metric.WithAttributes(attrs...)

	switch name {
	case MetricRequestsTotal:
		m.requestsTotal.Add(ctx, value, opt)
	case MetricRequestDuration:
		m.requestDuration.Record(ctx, value, opt)
	case MetricAttemptsTotal:
		m.attemptsTotal.Add(ctx, value, opt)
	case MetricRetriesTotal:
		m.retriesTotal.Add(ctx, value, opt)
	case MetricBreakerOpens:
		m.breakerOpens.Add(ctx, value, opt)
	case MetricCredentialCools:
		m.credentialCools.Add(ctx, value, opt)
	}
}
