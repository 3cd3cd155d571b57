package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/csvload/internal/telemetry"
)

// dropTimeout bounds the rollback DROP TABLE, which runs even after the
// caller's context is cancelled.
const dropTimeout = 30 * time.Second

// SQLLogger receives every statement an import executes.
type SQLLogger func(ctx context.Context, query string)

// Config describes a single import run.
type Config struct {
	Path   string
	Schema string // defaults to the dialect's default schema
	Table  string

	Options ImportOptions
	Dialect Dialect // defaults to MonetDB

	// Conn is a caller-owned connection; it is never closed. When nil,
	// Connect opens a connection owned and closed by the run.
	Conn    Conn
	Connect ConnectFunc

	Sniffer      Sniffer // defaults to DefaultSniffer
	SniffOptions SniffOptions
	LabelGen     LabelGenerator
	Normalize    LabelNormalizer

	SQLLog  SQLLogger
	Logger  *slog.Logger
	Metrics *telemetry.Instruments
	Tracer  trace.Tracer

	// OnPhase observes state transitions. Calls are serialized.
	OnPhase func(Phase)
	// OnProgress observes scan progress in bytes.
	OnProgress func(read, total int64)
}

// Importer runs the sniff, scan, create, load and verify sequence for one
// file and one target table.
type Importer struct {
	cfg    Config
	tbl    TableName
	logger *slog.Logger

	sampleOnce sync.Once
	sample     *Sample
	sampleErr  error

	phaseMu sync.Mutex
}

// New validates cfg and applies defaults. Only Path is required to
// sniff; Import also needs Table and a connection.
func New(cfg Config) (*Importer, error) {
	if cfg.Path == "" {
		return nil, errors.New("import path is required")
	}

	if cfg.Dialect == nil {
		cfg.Dialect = MonetDB{}
	}
	if cfg.Schema == "" {
		cfg.Schema = cfg.Dialect.DefaultSchema()
	}
	if cfg.Sniffer == nil {
		cfg.Sniffer = DefaultSniffer{}
	}
	if cfg.LabelGen == nil {
		cfg.LabelGen = DefaultLabel
	}
	if cfg.Normalize == nil {
		cfg.Normalize = NormalizeLabel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SQLLog == nil {
		logger := cfg.Logger
		cfg.SQLLog = func(ctx context.Context, query string) {
			logger.DebugContext(ctx, "sql", "query", query)
		}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NoopInstruments()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.Tracer()
	}
	cfg.Options = cfg.Options.withDefaults()

	tbl := TableName{Schema: cfg.Schema, Table: cfg.Table}
	return &Importer{
		cfg:    cfg,
		tbl:    tbl,
		logger: cfg.Logger.With("table", tbl.String(), "path", cfg.Path),
	}, nil
}

// Table returns the quoted target table.
func (imp *Importer) Table() TableName {
	return imp.tbl
}

// Sniff samples the file and infers its structure. Labels are reconciled
// against the widest sample row; they are advisory until Import reconciles
// them against the full scan. A nil opts uses Config.SniffOptions.
func (imp *Importer) Sniff(ctx context.Context, opts *SniffOptions) (*SniffResult, error) {
	sr, err := imp.sniff(ctx, opts)
	if err != nil {
		if errors.Is(err, ErrSampleFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w %s: %w", ErrSniffFailed, imp.cfg.Path, err)
	}
	return sr, nil
}

func (imp *Importer) sniff(ctx context.Context, opts *SniffOptions) (*SniffResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	imp.sampleOnce.Do(func() {
		imp.sample, imp.sampleErr = ReadSample(imp.cfg.Path, imp.cfg.Options.SampleSize)
	})
	if imp.sampleErr != nil {
		return nil, imp.sampleErr
	}

	o := imp.cfg.SniffOptions
	if opts != nil {
		o = *opts
	}
	o.Truncated = imp.sample.Truncated

	sr, err := imp.cfg.Sniffer.Sniff(imp.sample.Data, o)
	if err != nil {
		return nil, err
	}
	sr.Labels = ReconcileLabels(sr.Labels, widestRecord(sr.Records), imp.cfg.LabelGen, imp.cfg.Normalize)
	return sr, nil
}

// Import runs the full state machine. When prior is nil the file is
// sniffed first. On failure the returned error is an *ImportError and no
// table created by this run is left behind.
func (imp *Importer) Import(ctx context.Context, prior *SniffResult) (*ImportResult, error) {
	if imp.cfg.Table == "" {
		return nil, errors.New("target table is required")
	}
	if imp.cfg.Conn == nil && imp.cfg.Connect == nil {
		return nil, errors.New("a connection or connect function is required")
	}

	start := time.Now()
	ctx, span := imp.cfg.Tracer.Start(ctx, "csvload.import", trace.WithAttributes(
		attribute.String("db.system", imp.cfg.Dialect.Name()),
		attribute.String("csvload.table", imp.tbl.String()),
	))
	defer span.End()

	res, err := imp.run(ctx, prior)
	elapsed := time.Since(start)

	ms := float64(elapsed.Microseconds()) / 1000
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		imp.cfg.Metrics.RecordImport(ctx, imp.cfg.Dialect.Name(), ms, -1, -1, true)
		imp.logger.WarnContext(ctx, "import failed", "phase", PhaseOf(err), "error", err)
		return nil, err
	}

	res.Duration = elapsed
	imp.cfg.Metrics.RecordImport(ctx, imp.cfg.Dialect.Name(), ms, res.ImportedRows, res.RejectedRows, false)
	imp.logger.InfoContext(ctx, "import committed",
		"imported", res.ImportedRows,
		"rejected", res.RejectedRows,
		"duration_ms", elapsed.Milliseconds(),
	)
	return res, nil
}

func (imp *Importer) run(ctx context.Context, prior *SniffResult) (*ImportResult, error) {
	table := imp.tbl.String()
	opts := imp.cfg.Options

	conn := imp.cfg.Conn
	if conn == nil {
		owned, err := imp.cfg.Connect(ctx)
		if err != nil {
			imp.setPhase(PhaseFailed)
			return nil, newImportError(PhaseCheckExists, table, ErrConnect, err)
		}
		defer func() {
			if err := owned.Close(); err != nil {
				imp.logger.Warn("closing connection", "error", err)
			}
		}()
		conn = owned
	}

	sr, shape, err := imp.probeAndScan(ctx, conn, prior)
	if err != nil {
		imp.setPhase(PhaseFailed)
		return nil, err
	}
	if shape.Rows == 0 {
		imp.setPhase(PhaseFailed)
		return nil, newImportError(PhaseScanning, table, ErrScanFailed, ErrNoRows)
	}

	labels := ReconcileLabels(sr.Labels, shape.ColumnCount, imp.cfg.LabelGen, imp.cfg.Normalize)
	plan := LoadPlan{
		Path:          imp.cfg.Path,
		Delimiter:     sr.Delimiter,
		Quote:         sr.Quote,
		Newline:       sr.Newline,
		HasHeader:     sr.HasHeader,
		RowUpperBound: shape.RowUpperBound,
		Labels:        labels,
		Types:         shape.ColumnTypes,
		Options:       opts,
	}
	create, load := BuildStatements(imp.cfg.Dialect, imp.tbl, plan)

	if err := imp.step(ctx, PhaseCreatingTable, func(ctx context.Context) error {
		return imp.exec(ctx, conn, create)
	}); err != nil {
		imp.setPhase(PhaseFailed)
		return nil, newImportError(PhaseCreatingTable, table, ErrTableCreation, err)
	}

	if err := imp.step(ctx, PhaseBulkLoading, func(ctx context.Context) error {
		return imp.load(ctx, conn, load)
	}); err != nil {
		ie := newImportError(PhaseBulkLoading, table, ErrLoadFailed, err)
		ie.RolledBack = imp.rollback(ctx, conn)
		return nil, ie
	}

	result := &ImportResult{
		Table:         table,
		ImportedRows:  -1,
		RejectedRows:  -1,
		Labels:        labels,
		Types:         shape.ColumnTypes,
		RowUpperBound: shape.RowUpperBound,
	}

	if opts.BestEffort {
		_ = imp.step(ctx, PhaseHarvestingRejects, func(ctx context.Context) error {
			result.Rejects = imp.harvestRejects(ctx, conn)
			return nil
		})
	}

	_ = imp.step(ctx, PhaseVerifying, func(ctx context.Context) error {
		if q := imp.cfg.Dialect.RejectCountQuery(); q != "" {
			result.RejectedRows = imp.count(ctx, conn, q)
		}
		result.ImportedRows = imp.count(ctx, conn, imp.cfg.Dialect.CountRows(imp.tbl))
		return nil
	})

	if result.ImportedRows == 0 {
		ie := newImportError(PhaseVerifying, table, ErrAllRowsRejected, nil)
		ie.RolledBack = imp.rollback(ctx, conn)
		return nil, ie
	}

	imp.setPhase(PhaseCommitted)
	return result, nil
}

// probeAndScan checks that the target is absent while the file is sniffed
// and scanned. Finding the table cancels the scan.
func (imp *Importer) probeAndScan(ctx context.Context, conn Conn, prior *SniffResult) (*SniffResult, *FileShape, error) {
	table := imp.tbl.String()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var exists bool
		_ = imp.step(gctx, PhaseCheckExists, func(ctx context.Context) error {
			// Any failure of the probe means the table is absent.
			_, err := imp.query(ctx, conn, imp.cfg.Dialect.ExistsProbe(imp.tbl))
			exists = err == nil
			return nil
		})
		if exists {
			return newImportError(PhaseCheckExists, table, ErrTargetExists, nil)
		}
		return nil
	})

	var (
		sr    = prior
		shape *FileShape
	)
	g.Go(func() error {
		if sr == nil {
			err := imp.step(gctx, PhaseSniffing, func(ctx context.Context) error {
				var err error
				sr, err = imp.sniff(ctx, nil)
				return err
			})
			if err != nil {
				kind := ErrSniffFailed
				if errors.Is(err, ErrSampleFailed) {
					kind = ErrSampleFailed
				}
				return newImportError(PhaseSniffing, table, kind, err)
			}
		}

		err := imp.step(gctx, PhaseScanning, func(ctx context.Context) error {
			scanOpts := ScanOptionsFrom(sr, imp.cfg.Options.NullString)
			scanOpts.Accumulate = imp.cfg.Sniffer.AccumulateType
			scanOpts.Progress = imp.cfg.OnProgress

			start := time.Now()
			var err error
			shape, err = ScanFile(ctx, imp.cfg.Path, scanOpts)
			imp.cfg.Metrics.RecordScanDuration(ctx, float64(time.Since(start).Microseconds())/1000)
			return err
		})
		if err != nil {
			return newImportError(PhaseScanning, table, ErrScanFailed, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return sr, shape, nil
}

// load runs the bulk statement, streaming the source file through the
// connection when the dialect asks for it.
func (imp *Importer) load(ctx context.Context, conn Conn, stmt Statement) error {
	if stmt.Source == "" {
		return imp.exec(ctx, conn, stmt.SQL)
	}
	loader, ok := conn.(FileLoader)
	if !ok {
		return fmt.Errorf("%s loads from the client but the connection cannot stream files", imp.cfg.Dialect.Name())
	}
	imp.cfg.SQLLog(ctx, stmt.SQL)
	_, err := loader.LoadFile(ctx, stmt.SQL, stmt.Source)
	return err
}

// harvestRejects returns up to RejectsLimit rejected rows. Failures
// degrade to an empty list.
func (imp *Importer) harvestRejects(ctx context.Context, conn Conn) []map[string]any {
	rejects := []map[string]any{}
	q := imp.cfg.Dialect.RejectsQuery(imp.cfg.Options.RejectsLimit)
	if q == "" {
		return rejects
	}

	ctx, cancel := context.WithTimeout(ctx, imp.cfg.Options.VerifyTimeout)
	defer cancel()

	res, err := imp.query(ctx, conn, q)
	if err != nil {
		imp.logger.WarnContext(ctx, "could not harvest rejects", "error", err)
		return rejects
	}
	if recs := res.Records(); recs != nil {
		rejects = recs
	}
	return rejects
}

// count runs a single-value count under its own timeout; -1 means unknown.
func (imp *Importer) count(ctx context.Context, conn Conn, q string) int64 {
	ctx, cancel := context.WithTimeout(ctx, imp.cfg.Options.VerifyTimeout)
	defer cancel()

	res, err := imp.query(ctx, conn, q)
	if err != nil {
		imp.logger.WarnContext(ctx, "count query failed", "query", q, "error", err)
		return -1
	}
	n, err := res.Int64()
	if err != nil {
		imp.logger.WarnContext(ctx, "count query returned no number", "query", q, "error", err)
		return -1
	}
	return n
}

// rollback drops the table this run created. It runs detached from
// cancellation and reports whether the drop succeeded.
func (imp *Importer) rollback(ctx context.Context, conn Conn) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dropTimeout)
	defer cancel()

	if err := imp.exec(ctx, conn, imp.cfg.Dialect.DropTable(imp.tbl)); err != nil {
		imp.logger.ErrorContext(ctx, "rollback failed, table left behind", "error", err)
		imp.setPhase(PhaseFailed)
		return false
	}
	imp.setPhase(PhaseRolledBack)
	return true
}

// step reports phase and runs fn inside a span named after it.
func (imp *Importer) step(ctx context.Context, phase Phase, fn func(context.Context) error) error {
	imp.setPhase(phase)
	ctx, span := imp.cfg.Tracer.Start(ctx, "csvload."+string(phase))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (imp *Importer) setPhase(p Phase) {
	if imp.cfg.OnPhase == nil {
		return
	}
	imp.phaseMu.Lock()
	defer imp.phaseMu.Unlock()
	imp.cfg.OnPhase(p)
}

func (imp *Importer) exec(ctx context.Context, conn Conn, q string) error {
	imp.cfg.SQLLog(ctx, q)
	return conn.Exec(ctx, q)
}

func (imp *Importer) query(ctx context.Context, conn Conn, q string) (*QueryResult, error) {
	imp.cfg.SQLLog(ctx, q)
	return conn.Query(ctx, q)
}
