package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/JonMunkholm/csvload"

// Instruments holds the import metric instruments.
type Instruments struct {
	ImportCount    metric.Int64Counter
	ImportErrors   metric.Int64Counter
	ImportDuration metric.Float64Histogram
	RowsImported   metric.Int64Counter
	RowsRejected   metric.Int64Counter
	ScanDuration   metric.Float64Histogram
}

// NewInstruments creates instruments from the global MeterProvider.
func NewInstruments() *Instruments {
	return NewInstrumentsFromMeter(otel.Meter(meterName))
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	return NewInstrumentsFromMeter(noop.NewMeterProvider().Meter(meterName))
}

// NewInstrumentsFromMeter creates instruments on meter.
func NewInstrumentsFromMeter(meter metric.Meter) *Instruments {
	// The SDK hands back working noop instruments alongside any error.
	importCount, _ := meter.Int64Counter("csvload.import.count",
		metric.WithDescription("Import runs started"),
	)
	importErrors, _ := meter.Int64Counter("csvload.import.errors",
		metric.WithDescription("Import runs that ended in failure"),
	)
	importDuration, _ := meter.Float64Histogram("csvload.import.duration",
		metric.WithDescription("Import run duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	rowsImported, _ := meter.Int64Counter("csvload.rows.imported",
		metric.WithDescription("Rows loaded by committed imports"),
	)
	rowsRejected, _ := meter.Int64Counter("csvload.rows.rejected",
		metric.WithDescription("Rows rejected by best-effort loads"),
	)
	scanDuration, _ := meter.Float64Histogram("csvload.scan.duration",
		metric.WithDescription("Full-file scan duration in milliseconds"),
		metric.WithUnit("ms"),
	)

	return &Instruments{
		ImportCount:    importCount,
		ImportErrors:   importErrors,
		ImportDuration: importDuration,
		RowsImported:   rowsImported,
		RowsRejected:   rowsRejected,
		ScanDuration:   scanDuration,
	}
}

// RecordImport records the outcome of one import run. Row counts below
// zero are unknown and skipped.
func (i *Instruments) RecordImport(ctx context.Context, dialect string, ms float64, imported, rejected int64, failed bool) {
	attrs := metric.WithAttributes(attribute.String("db.system", dialect))

	i.ImportCount.Add(ctx, 1, attrs)
	i.ImportDuration.Record(ctx, ms, attrs)
	if failed {
		i.ImportErrors.Add(ctx, 1, attrs)
		return
	}
	if imported > 0 {
		i.RowsImported.Add(ctx, imported, attrs)
	}
	if rejected > 0 {
		i.RowsRejected.Add(ctx, rejected, attrs)
	}
}

func (i *Instruments) RecordScanDuration(ctx context.Context, ms float64) {
	i.ScanDuration.Record(ctx, ms)
}
