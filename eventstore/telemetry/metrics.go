package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dynamicstreams/dcb-eventstore-go/eventstore/postgresengine"
)

// MetricsCollector implements postgresengine.MetricsCollector on top of
// an OpenTelemetry metric.Meter, creating one instrument per metric name
// the first time it is used and reusing it afterward.
//
//   - RecordDuration -> Float64Histogram, seconds
//   - IncrementCounter -> Int64Counter
//   - RecordValue -> Float64Gauge
type MetricsCollector struct {
	meter metric.Meter

	mu         sync.Mutex
	histograms map[string]metric.Float64Histogram
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Float64Gauge
}

// NewMetricsCollector builds a MetricsCollector from a meter obtained
// from the caller's MeterProvider.
func NewMetricsCollector(meter metric.Meter) *MetricsCollector {
	return &MetricsCollector{
		meter:      meter,
		histograms: make(map[string]metric.Float64Histogram),
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

func toAttrs(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// RecordDuration records duration, in seconds, on the histogram named metricName.
func (m *MetricsCollector) RecordDuration(metricName string, duration time.Duration, labels map[string]string) {
	h := m.getOrCreateHistogram(metricName)
	if h == nil {
		return
	}

	h.Record(context.Background(), duration.Seconds(), metric.WithAttributes(toAttrs(labels)...))
}

// IncrementCounter adds one to the counter named metricName.
func (m *MetricsCollector) IncrementCounter(metricName string, labels map[string]string) {
	c := m.getOrCreateCounter(metricName)
	if c == nil {
		return
	}

	c.Add(context.Background(), 1, metric.WithAttributes(toAttrs(labels)...))
}

// RecordValue sets the gauge named metricName to value.
func (m *MetricsCollector) RecordValue(metricName string, value float64, labels map[string]string) {
	g := m.getOrCreateGauge(metricName)
	if g == nil {
		return
	}

	g.Record(context.Background(), value, metric.WithAttributes(toAttrs(labels)...))
}

func (m *MetricsCollector) getOrCreateHistogram(name string) metric.Float64Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.histograms[name]; ok {
		return h
	}

	h, err := m.meter.Float64Histogram(name, metric.WithUnit("s"), metric.WithDescription("eventstore operation duration"))
	if err != nil {
		return nil
	}

	m.histograms[name] = h
	return h
}

func (m *MetricsCollector) getOrCreateCounter(name string) metric.Int64Counter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.counters[name]; ok {
		return c
	}

	c, err := m.meter.Int64Counter(name, metric.WithDescription("eventstore operation counter"))
	if err != nil {
		return nil
	}

	m.counters[name] = c
	return c
}

func (m *MetricsCollector) getOrCreateGauge(name string) metric.Float64Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.gauges[name]; ok {
		return g
	}

	g, err := m.meter.Float64Gauge(name, metric.WithDescription("eventstore current value"))
	if err != nil {
		return nil
	}

	m.gauges[name] = g
	return g
}

var _ postgresengine.MetricsCollector = (*MetricsCollector)(nil)
