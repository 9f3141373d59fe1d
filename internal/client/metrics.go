package client

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "relaystore/client"

// metrics holds the client instruments.
type metrics struct {
	// publish decisions by outcome
	publishes metric.Int64Counter
	// records yielded by resolves
	resolved metric.Int64Counter
	// latency of single relay requests in milliseconds
	relayLatency metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	m := new(metrics)
	var err error

	if m.publishes, err = meter.Int64Counter(
		"relay_publish_count",
		metric.WithDescription("Total number of publish decisions by outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create publishes instrument, %w", err)
	}

	if m.resolved, err = meter.Int64Counter(
		"relay_resolve_record_count",
		metric.WithDescription("Total number of verified records returned by relays"),
	); err != nil {
		return nil, fmt.Errorf("failed to create resolved instrument, %w", err)
	}

	if m.relayLatency, err = meter.Float64Histogram(
		"relay_request_duration",
		metric.WithDescription("The latency of a single relay request in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create relayLatency instrument, %w", err)
	}

	return m, nil
}

func (m *metrics) recordPublish(ctx context.Context, outcome string) {
	m.publishes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) recordResolved(ctx context.Context) {
	m.resolved.Add(ctx, 1)
}

func (m *metrics) recordRelayRequest(ctx context.Context, method string, start time.Time, err error) {
	m.relayLatency.Record(ctx, float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.Bool("ok", err == nil),
		))
}
