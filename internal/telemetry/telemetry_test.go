package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNoopTracer(t *testing.T) {
	_, span := NoopTracer().Start(context.Background(), "test")
	assert.NotNil(t, span)
	span.End()
}

func TestNoopInstruments(t *testing.T) {
	inst := NoopInstruments()
	require.NotNil(t, inst)

	// Must not panic.
	inst.RecordImport(context.Background(), "monetdb", 12.5, 10, 2, false)
	inst.RecordScanDuration(context.Background(), 3)
}

func TestProvider_Shutdown_Nil(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSpanRecording(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tp.Tracer("test").Start(ctx, "import.scanning")
	span.SetAttributes(attribute.String("db.system", "duckdb"))
	span.End()

	require.NoError(t, tp.ForceFlush(ctx))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "import.scanning", spans[0].Name)
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordImport(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst := NewInstrumentsFromMeter(mp.Meter("test"))

	ctx := context.Background()
	inst.RecordImport(ctx, "monetdb", 20, 100, 3, false)
	inst.RecordImport(ctx, "monetdb", 5, -1, -1, true)

	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, metrics["csvload.import.count"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["csvload.import.errors"]))
	assert.Equal(t, int64(100), sumOf(t, metrics["csvload.rows.imported"]))
	assert.Equal(t, int64(3), sumOf(t, metrics["csvload.rows.rejected"]))
	assert.Contains(t, metrics, "csvload.import.duration")
}

func TestRecordImport_UnknownCountsSkipped(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst := NewInstrumentsFromMeter(mp.Meter("test"))

	inst.RecordImport(context.Background(), "postgres", 1, 7, -1, false)

	metrics := collect(t, reader)
	assert.Equal(t, int64(7), sumOf(t, metrics["csvload.rows.imported"]))
	assert.NotContains(t, metrics, "csvload.rows.rejected")
}
