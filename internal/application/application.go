// Package application assembles the database pool, telemetry and import
// service from configuration. Both binaries start through it.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/csvload/internal/config"
	"github.com/JonMunkholm/csvload/internal/core"
	"github.com/JonMunkholm/csvload/internal/database"
	"github.com/JonMunkholm/csvload/internal/logging"
	"github.com/JonMunkholm/csvload/internal/telemetry"
)

// Version is reported to telemetry.
var Version = "dev"

// App owns everything an import needs.
type App struct {
	Config  *config.Config
	Pool    *database.Pool
	Service *core.Service

	telemetry *telemetry.Provider
	logger    *slog.Logger
}

// New opens the database, starts telemetry when enabled and builds the
// import service. Close releases what New acquired.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, logger: logger}

	metrics := telemetry.NoopInstruments()
	tracer := telemetry.NoopTracer()
	if cfg.Telemetry.Enabled {
		p, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, Version)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		app.telemetry = p
		metrics = telemetry.NewInstruments()
		tracer = telemetry.Tracer()
	}

	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		app.Close(context.Background())
		return nil, err
	}
	app.Pool = pool

	logger.Info("connected to database",
		"driver", pool.Driver(),
		"name", database.DatabaseName(cfg.Database.URL),
	)

	var sqlLog core.SQLLogger = logging.DiscardSQL
	if cfg.Import.LogSQL {
		sqlLog = logging.SQLSink(logger)
	}

	svc, err := core.NewService(core.ServiceConfig{
		Connect:       pool.Acquire,
		Dialect:       pool.Dialect(),
		Schema:        cfg.Import.Schema,
		Defaults:      ImportOptions(cfg.Import),
		SniffOptions:  core.SniffOptions{Delimiters: cfg.Import.DelimiterRunes()},
		ImportTimeout: cfg.Import.Timeout,
		ResultTTL:     cfg.Import.ResultTTL,
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWait:       cfg.Import.MaxWaitTime,
		SQLLog:        sqlLog,
		Logger:        logger,
		Metrics:       metrics,
		Tracer:        tracer,
	})
	if err != nil {
		app.Close(context.Background())
		return nil, err
	}
	app.Service = svc
	return app, nil
}

// ImportOptions converts the configured import defaults.
func ImportOptions(c config.ImportConfig) core.ImportOptions {
	return core.ImportOptions{
		SampleSize:    c.SampleSize,
		Locked:        core.Bool(c.Locked),
		NullString:    c.NullString,
		BestEffort:    c.BestEffort,
		RejectsLimit:  c.RejectsLimit,
		VerifyTimeout: c.VerifyTimeout,
	}
}

// Close flushes telemetry and closes the pool.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Pool != nil {
		if err := a.Pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pool: %w", err))
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
