package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/dynamicstreams/dcb-eventstore-go/eventstore/telemetry"
)

func Test_MetricsCollector_RecordDuration(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("test")

	collector := telemetry.NewMetricsCollector(meter)
	collector.RecordDuration("eventstore.append.duration", 150*time.Millisecond, map[string]string{"status": "ok"})

	histogram := collectHistogram(t, reader, "eventstore.append.duration")
	require.Len(t, histogram.DataPoints, 1)
	assert.InDelta(t, 0.15, histogram.DataPoints[0].Sum, 0.001)
}

func Test_MetricsCollector_IncrementCounter_AccumulatesAcrossCalls(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("test")

	collector := telemetry.NewMetricsCollector(meter)
	labels := map[string]string{"tenant": "acme"}
	collector.IncrementCounter("eventstore.concurrency_conflicts", labels)
	collector.IncrementCounter("eventstore.concurrency_conflicts", labels)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sum := findSum(t, rm, "eventstore.concurrency_conflicts")
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func Test_MetricsCollector_RecordValue(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("test")

	collector := telemetry.NewMetricsCollector(meter)
	collector.RecordValue("eventstore.pool.idle_connections", 4, nil)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	gauge := findGauge(t, rm, "eventstore.pool.idle_connections")
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, float64(4), gauge.DataPoints[0].Value)
}

func Test_MetricsCollector_ReusesInstrumentAcrossCalls(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("test")

	collector := telemetry.NewMetricsCollector(meter)
	collector.RecordDuration("eventstore.stream.duration", time.Second, map[string]string{"status": "ok"})
	collector.RecordDuration("eventstore.stream.duration", 2*time.Second, map[string]string{"status": "ok"})

	histogram := collectHistogram(t, reader, "eventstore.stream.duration")
	require.Len(t, histogram.DataPoints, 1)
	assert.Equal(t, uint64(2), histogram.DataPoints[0].Count)
}

func collectHistogram(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Histogram[float64] {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				h, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				return h
			}
		}
	}

	t.Fatalf("histogram %q not found", name)
	return metricdata.Histogram[float64]{}
}

func findSum(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Sum[int64] {
	t.Helper()

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				s, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				return s
			}
		}
	}

	t.Fatalf("counter %q not found", name)
	return metricdata.Sum[int64]{}
}

func findGauge(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Gauge[float64] {
	t.Helper()

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				g, ok := m.Data.(metricdata.Gauge[float64])
				require.True(t, ok)
				return g
			}
		}
	}

	t.Fatalf("gauge %q not found", name)
	return metricdata.Gauge[float64]{}
}
