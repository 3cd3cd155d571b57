package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ColumnType is the inferred type of a column. The zero value is the
// unset state; the remaining values form the lattice integer < float < string.
type ColumnType int

const (
	TypeUnknown ColumnType = iota
	TypeInteger
	TypeFloat
	TypeString
)

var columnTypeNames = [...]string{
	TypeUnknown: "",
	TypeInteger: "integer",
	TypeFloat:   "float",
	TypeString:  "string",
}

func (t ColumnType) String() string {
	if t < TypeUnknown || t > TypeString {
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
	return columnTypeNames[t]
}

// MarshalText implements encoding.TextMarshaler.
func (t ColumnType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ColumnType) UnmarshalText(b []byte) error {
	for i, name := range columnTypeNames {
		if name == string(b) {
			*t = ColumnType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown column type %q", string(b))
}

// SniffResult holds the structural metadata inferred from a sample.
// Labels and Types are provisional until reconciled against a full scan.
type SniffResult struct {
	Delimiter rune         `json:"delimiter" yaml:"delimiter"`
	Quote     rune         `json:"quote,omitempty" yaml:"quote,omitempty"` // 0 when absent
	Newline   string       `json:"newline" yaml:"newline"`
	HasHeader bool         `json:"has_header" yaml:"has_header"`
	Labels    []string     `json:"labels" yaml:"labels"`
	Types     []ColumnType `json:"types" yaml:"types"`

	// Records are the parsed sample rows, header included.
	Records [][]string `json:"-" yaml:"-"`
}

// FileShape is the authoritative structure of a file after a full scan.
type FileShape struct {
	ColumnCount   int           `json:"column_count"`
	ColumnTypes   []ColumnType  `json:"column_types"`
	RowUpperBound int64         `json:"row_upper_bound"`
	Rows          int64         `json:"rows"`
	Histogram     map[int]int64 `json:"histogram"`
}

// ImportOptions controls a single import run.
type ImportOptions struct {
	// SampleSize is the number of bytes sniffed; 0 sniffs the whole file.
	SampleSize int64 `json:"sample_size"`

	// Locked requests an exclusive bulk load. Nil means locked; use
	// IsLocked to read it.
	Locked *bool `json:"locked,omitempty"`

	// NullString is the sentinel loaded as NULL.
	NullString string `json:"null_string"`

	// BestEffort tolerates row-level rejects.
	BestEffort bool `json:"best_effort"`

	// RejectsLimit caps how many rejects are harvested (default 100).
	RejectsLimit int `json:"rejects_limit"`

	// VerifyTimeout bounds each diagnostic query after the load.
	VerifyTimeout time.Duration `json:"verify_timeout"`
}

const (
	DefaultRejectsLimit  = 100
	DefaultVerifyTimeout = 30 * time.Second
)

// DefaultImportOptions returns the options used when the caller sets none.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		Locked:        Bool(true),
		RejectsLimit:  DefaultRejectsLimit,
		VerifyTimeout: DefaultVerifyTimeout,
	}
}

// IsLocked reports whether the bulk load is exclusive. Unset means yes.
func (o ImportOptions) IsLocked() bool {
	return o.Locked == nil || *o.Locked
}

// Bool returns a pointer to b, for optional fields such as
// ImportOptions.Locked.
func Bool(b bool) *bool { return &b }

func (o ImportOptions) withDefaults() ImportOptions {
	if o.Locked == nil {
		o.Locked = Bool(true)
	}
	if o.SampleSize < 0 {
		o.SampleSize = 0
	}
	if o.RejectsLimit <= 0 {
		o.RejectsLimit = DefaultRejectsLimit
	}
	if o.VerifyTimeout <= 0 {
		o.VerifyTimeout = DefaultVerifyTimeout
	}
	return o
}

// ImportResult is the terminal artifact of a successful import.
type ImportResult struct {
	Table         string           `json:"table" yaml:"table"`
	ImportedRows  int64            `json:"imported_rows" yaml:"imported_rows"`
	RejectedRows  int64            `json:"rejected_rows" yaml:"rejected_rows"`
	Rejects       []map[string]any `json:"rejects,omitempty" yaml:"rejects,omitempty"`
	Labels        []string         `json:"labels" yaml:"labels"`
	Types         []ColumnType     `json:"types" yaml:"types"`
	RowUpperBound int64            `json:"row_upper_bound" yaml:"row_upper_bound"`
	Duration      time.Duration    `json:"duration" yaml:"duration"`
}

// Phase identifies a state of the import state machine.
type Phase string

const (
	PhaseQueued            Phase = "queued"
	PhaseCheckExists       Phase = "check_exists"
	PhaseSniffing          Phase = "sniffing"
	PhaseScanning          Phase = "scanning"
	PhaseCreatingTable     Phase = "creating_table"
	PhaseBulkLoading       Phase = "bulk_loading"
	PhaseHarvestingRejects Phase = "harvesting_rejects"
	PhaseVerifying         Phase = "verifying"
	PhaseCommitted         Phase = "committed"
	PhaseRolledBack        Phase = "rolled_back"
	PhaseFailed            Phase = "failed"
	PhaseCancelled         Phase = "cancelled"
)

// Terminal reports whether no further transitions can follow p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCommitted, PhaseRolledBack, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// Conn is the database transport an import run talks to.
// Satisfied by the sessions handed out by internal/database.
type Conn interface {
	Exec(ctx context.Context, query string) error
	Query(ctx context.Context, query string) (*QueryResult, error)
	Close() error
}

// FileLoader is implemented by connections that stream a local file to
// the server themselves, such as PostgreSQL COPY FROM STDIN.
type FileLoader interface {
	LoadFile(ctx context.Context, query, path string) (int64, error)
}

// ConnectFunc opens a connection owned by a single import run.
type ConnectFunc func(ctx context.Context) (Conn, error)

// QueryResult is a fully materialized result set.
type QueryResult struct {
	Columns []string
	Rows    [][]any
}

// Records converts rows into column name to value mappings.
func (r *QueryResult) Records() []map[string]any {
	if r == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		rec := make(map[string]any, len(r.Columns))
		for i, v := range row {
			if i < len(r.Columns) {
				rec[r.Columns[i]] = v
			}
		}
		out = append(out, rec)
	}
	return out
}

// Int64 returns the first column of the first row as an integer.
func (r *QueryResult) Int64() (int64, error) {
	if r == nil || len(r.Rows) == 0 || len(r.Rows[0]) == 0 {
		return 0, fmt.Errorf("empty result")
	}
	switch v := r.Rows[0][0].(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case []byte:
		return parseCount(string(v))
	case string:
		return parseCount(v)
	default:
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
}

func parseCount(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", s, err)
	}
	return n, nil
}
