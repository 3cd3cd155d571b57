package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ImportRequest asks the service to load one file into a new table.
type ImportRequest struct {
	Path   string `json:"path"`
	Schema string `json:"schema,omitempty"`
	Table  string `json:"table"`

	// Options overrides the service defaults when set.
	Options *ImportOptions `json:"options,omitempty"`
	// Sniff is a prior sniff result; when nil the file is sniffed.
	Sniff *SniffResult `json:"sniff,omitempty"`

	// RemoveAfter deletes Path once the run ends. Used for uploads.
	RemoveAfter bool `json:"-"`
}

// ImportProgress is the observable state of an asynchronous run.
type ImportProgress struct {
	ImportID   string        `json:"import_id"`
	Table      string        `json:"table"`
	Path       string        `json:"path"`
	Phase      Phase         `json:"phase"`
	BytesRead  int64         `json:"bytes_read"`
	BytesTotal int64         `json:"bytes_total"`
	Percent    int           `json:"percent"`
	Error      string        `json:"error,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	RolledBack bool          `json:"rolled_back,omitempty"`
	Result     *ImportResult `json:"result,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

type activeImport struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	progress  ImportProgress
	listeners []chan ImportProgress
}

// StartImport validates req, waits for a limiter slot and starts the run
// in the background. It returns the import id immediately; use Subscribe
// or Wait to follow the run.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	if req.Table == "" {
		return "", errors.New("target table is required")
	}
	if err := Preflight(req.Path); err != nil {
		return "", err
	}

	schema := req.Schema
	if schema == "" {
		schema = s.cfg.Schema
	}
	tbl := TableName{Schema: schema, Table: req.Table}
	id := uuid.New().String()

	if err := s.claimTarget(tbl, id); err != nil {
		return "", err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		s.releaseTarget(tbl, id)
		return "", err
	}

	var size int64
	if info, err := os.Stat(req.Path); err == nil {
		size = info.Size()
	}

	runCtx, cancel := context.WithTimeout(ContextWithImportID(context.Background(), id), s.cfg.ImportTimeout)
	ai := &activeImport{
		cancel: cancel,
		done:   make(chan struct{}),
		progress: ImportProgress{
			ImportID:   id,
			Table:      tbl.String(),
			Path:       req.Path,
			Phase:      PhaseQueued,
			BytesTotal: size,
			StartedAt:  time.Now(),
		},
	}

	s.mu.Lock()
	s.imports[id] = ai
	s.mu.Unlock()

	go func() {
		defer s.limiter.Release()
		defer s.releaseTarget(tbl, id)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in import", "import_id", id, "table", tbl.String(), "panic", r)
				s.finish(ai, nil, fmt.Errorf("internal error: %v", r), req)
			}
		}()

		res, err := s.runImport(runCtx, ai, tbl, req)
		s.finish(ai, res, err, req)
	}()

	return id, nil
}

func (s *Service) runImport(ctx context.Context, ai *activeImport, tbl TableName, req ImportRequest) (*ImportResult, error) {
	opts := s.cfg.Defaults
	if req.Options != nil {
		opts = *req.Options
	}

	imp, err := New(Config{
		Path:         req.Path,
		Schema:       tbl.Schema,
		Table:        tbl.Table,
		Options:      opts,
		Dialect:      s.cfg.Dialect,
		Connect:      s.cfg.Connect,
		Sniffer:      s.cfg.Sniffer,
		SniffOptions: s.cfg.SniffOptions,
		SQLLog:       s.cfg.SQLLog,
		Logger:       s.logger.With("import_id", ImportIDFromContext(ctx)),
		Metrics:      s.cfg.Metrics,
		Tracer:       s.cfg.Tracer,
		OnPhase: func(p Phase) {
			// Terminal phases are reported by finish with the outcome.
			if p.Terminal() {
				return
			}
			ai.update(func(pr *ImportProgress) { pr.Phase = p })
		},
		OnProgress: func(read, total int64) {
			ai.update(func(pr *ImportProgress) {
				pr.BytesRead = read
				if total > 0 {
					pr.BytesTotal = total
				}
				pr.Percent = percent(read, pr.BytesTotal)
			})
		},
	})
	if err != nil {
		return nil, err
	}
	return imp.Import(ctx, req.Sniff)
}

// finish records the outcome, closes subscribers and schedules cleanup.
func (s *Service) finish(ai *activeImport, res *ImportResult, err error, req ImportRequest) {
	if req.RemoveAfter {
		if rmErr := os.Remove(req.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("removing uploaded file", "path", req.Path, "error", rmErr)
		}
	}

	now := time.Now()
	ai.update(func(pr *ImportProgress) {
		pr.FinishedAt = &now
		pr.Result = res
		if err == nil {
			pr.Phase = PhaseCommitted
			pr.Percent = 100
			return
		}

		msg := MapError(err)
		pr.Error = err.Error()
		pr.ErrorCode = msg.Code

		var ie *ImportError
		if errors.As(err, &ie) {
			pr.RolledBack = ie.RolledBack
		}
		switch {
		case errors.Is(err, context.Canceled):
			pr.Phase = PhaseCancelled
		case pr.RolledBack:
			pr.Phase = PhaseRolledBack
		default:
			pr.Phase = PhaseFailed
		}
	})

	ai.end()
	s.forget(ai.snapshot().ImportID)
}

func (ai *activeImport) snapshot() ImportProgress {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	return ai.progress
}

// update applies fn and fans the new state out to subscribers. Slow
// subscribers miss intermediate updates.
func (ai *activeImport) update(fn func(*ImportProgress)) {
	ai.mu.Lock()
	defer ai.mu.Unlock()

	fn(&ai.progress)
	for _, ch := range ai.listeners {
		select {
		case ch <- ai.progress:
		default:
		}
	}
}

func (ai *activeImport) subscribe() <-chan ImportProgress {
	ch := make(chan ImportProgress, 16)

	ai.mu.Lock()
	defer ai.mu.Unlock()

	ch <- ai.progress
	select {
	case <-ai.done:
		close(ch)
	default:
		ai.listeners = append(ai.listeners, ch)
	}
	return ch
}

// end closes subscribers and marks the run done under one lock, so a
// concurrent subscribe either registers first or sees done.
func (ai *activeImport) end() {
	ai.mu.Lock()
	defer ai.mu.Unlock()

	for _, ch := range ai.listeners {
		close(ch)
	}
	ai.listeners = nil
	close(ai.done)
}

func percent(read, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(read * 100 / total)
	if p > 100 {
		p = 100
	}
	return p
}
