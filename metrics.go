package shardq

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// storeMetrics holds the OpenTelemetry instruments of a store. Instrument
// creation errors leave nil instruments, which are skipped.
type storeMetrics struct {
	admitted       metric.Int64Counter
	discarded      metric.Int64Counter
	broadcasts     metric.Int64Counter
	serializations metric.Int64Counter
	drainDuration  metric.Float64Histogram
	registration   metric.Registration
}

func newStoreMetrics(meter metric.Meter, s *Store) *storeMetrics {
	m := &storeMetrics{}
	m.admitted, _ = meter.Int64Counter("shardq.store.admitted",
		metric.WithDescription("Number of events admitted to a channel"),
		metric.WithUnit("{event}"))
	m.discarded, _ = meter.Int64Counter("shardq.store.discarded",
		metric.WithDescription("Number of empty events discarded on admission"),
		metric.WithUnit("{event}"))
	m.broadcasts, _ = meter.Int64Counter("shardq.store.broadcasts",
		metric.WithDescription("Number of control broadcasts"),
		metric.WithUnit("{broadcast}"))
	m.serializations, _ = meter.Int64Counter("shardq.store.serializations",
		metric.WithDescription("Number of transitions into critical mode"))
	m.drainDuration, _ = meter.Float64Histogram("shardq.store.drain.duration",
		metric.WithDescription("Time spent waiting for all channels to drain"),
		metric.WithUnit("s"))

	active, err := meter.Int64ObservableGauge("shardq.store.active",
		metric.WithDescription("Events resident across all channels"),
		metric.WithUnit("{event}"))
	if err == nil {
		m.registration, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(active, s.active.load(), metric.WithAttributes(attribute.String("store", s.id)))
			return nil
		}, active)
	}
	return m
}

func (m *storeMetrics) add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *storeMetrics) drained(ctx context.Context, d time.Duration, reason string) {
	if m.drainDuration != nil {
		m.drainDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (m *storeMetrics) close() {
	if m.registration != nil {
		m.registration.Unregister()
	}
}
