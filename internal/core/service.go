package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/JonMunkholm/csvload/internal/telemetry"
)

const (
	// DefaultImportTimeout bounds a single asynchronous import run.
	DefaultImportTimeout = 30 * time.Minute

	// DefaultResultTTL is how long a finished run stays queryable.
	DefaultResultTTL = 5 * time.Minute
)

// ServiceConfig configures the import service.
type ServiceConfig struct {
	Connect ConnectFunc
	Dialect Dialect

	// Schema is used when a request names none.
	Schema string
	// Defaults are the options for requests that carry none.
	Defaults     ImportOptions
	SniffOptions SniffOptions
	Sniffer      Sniffer

	ImportTimeout time.Duration
	ResultTTL     time.Duration
	MaxConcurrent int
	MaxWait       time.Duration

	SQLLog  SQLLogger
	Logger  *slog.Logger
	Metrics *telemetry.Instruments
	Tracer  trace.Tracer
}

// Service runs imports asynchronously and tracks them in memory.
type Service struct {
	cfg     ServiceConfig
	limiter *ImportLimiter
	logger  *slog.Logger

	mu      sync.RWMutex
	imports map[string]*activeImport
	targets map[string]string // lowercased schema.table -> running import id
}

// NewService validates cfg and returns a ready service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Connect == nil {
		return nil, errors.New("service needs a connect function")
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
	if cfg.ImportTimeout <= 0 {
		cfg.ImportTimeout = DefaultImportTimeout
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NoopInstruments()
	}

	return &Service{
		cfg:     cfg,
		limiter: NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		logger:  cfg.Logger,
		imports: make(map[string]*activeImport),
		targets: make(map[string]string),
	}, nil
}

// Dialect returns the dialect imports are built for.
func (s *Service) Dialect() Dialect {
	return s.cfg.Dialect
}

// Defaults returns a copy of the import options used when a request
// carries none. Callers may decode into it freely.
func (s *Service) Defaults() ImportOptions {
	d := s.cfg.Defaults
	if d.Locked != nil {
		d.Locked = Bool(*d.Locked)
	}
	return d
}

// Sniff runs pre-flight checks and sniffs the file at path. A sampleSize
// of zero uses the service default.
func (s *Service) Sniff(ctx context.Context, path string, opts *SniffOptions, sampleSize int64) (*SniffResult, error) {
	if err := Preflight(path); err != nil {
		return nil, err
	}
	options := s.cfg.Defaults
	if sampleSize > 0 {
		options.SampleSize = sampleSize
	}
	if opts == nil {
		opts = &s.cfg.SniffOptions
	}

	imp, err := New(Config{
		Path:    path,
		Options: options,
		Dialect: s.cfg.Dialect,
		Sniffer: s.cfg.Sniffer,
		Logger:  s.logger,
	})
	if err != nil {
		return nil, err
	}
	return imp.Sniff(ctx, opts)
}

// LimiterStatus returns the current concurrency state.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until every running import finishes or ctx ends.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// Status returns a snapshot of an import's progress.
func (s *Service) Status(id string) (ImportProgress, error) {
	ai, err := s.lookup(id)
	if err != nil {
		return ImportProgress{}, err
	}
	return ai.snapshot(), nil
}

// List returns every tracked import, oldest first.
func (s *Service) List() []ImportProgress {
	s.mu.RLock()
	out := make([]ImportProgress, 0, len(s.imports))
	for _, ai := range s.imports {
		out = append(out, ai.snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Subscribe returns a channel of progress updates for id. The current
// state is delivered first and the channel closes when the run ends.
func (s *Service) Subscribe(id string) (<-chan ImportProgress, error) {
	ai, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return ai.subscribe(), nil
}

// Cancel stops a running import. Cancelling a finished run is a no-op.
func (s *Service) Cancel(id string) error {
	ai, err := s.lookup(id)
	if err != nil {
		return err
	}
	ai.cancel()
	return nil
}

// Wait blocks until the import finishes or ctx ends and returns its final
// state.
func (s *Service) Wait(ctx context.Context, id string) (ImportProgress, error) {
	ai, err := s.lookup(id)
	if err != nil {
		return ImportProgress{}, err
	}
	select {
	case <-ai.done:
		return ai.snapshot(), nil
	case <-ctx.Done():
		return ai.snapshot(), ctx.Err()
	}
}

func (s *Service) lookup(id string) (*activeImport, error) {
	s.mu.RLock()
	ai, ok := s.imports[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, id)
	}
	return ai, nil
}

// claimTarget records id as the only in-process run loading tbl.
func (s *Service) claimTarget(tbl TableName, id string) error {
	key := targetKey(tbl)
	s.mu.Lock()
	defer s.mu.Unlock()
	if other, busy := s.targets[key]; busy {
		return fmt.Errorf("%w: %s is being loaded by import %s", ErrTargetExists, tbl, other)
	}
	s.targets[key] = id
	return nil
}

func (s *Service) releaseTarget(tbl TableName, id string) {
	key := targetKey(tbl)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.targets[key] == id {
		delete(s.targets, key)
	}
}

func targetKey(tbl TableName) string {
	return strings.ToLower(tbl.Schema + "." + tbl.Table)
}

// forget drops a finished run after the result TTL.
func (s *Service) forget(id string) {
	time.AfterFunc(s.cfg.ResultTTL, func() {
		s.mu.Lock()
		delete(s.imports, id)
		s.mu.Unlock()
	})
}
