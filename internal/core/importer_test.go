package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
)

// fakeConn mimics the slice of MonetDB behavior an import run relies on.
type fakeConn struct {
	mu       sync.Mutex
	tables   map[string]int64
	loadRows int64
	rejects  [][]any
	failExec map[string]error // statement prefix to error
	failQry  map[string]error
	stmts    []string
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{tables: make(map[string]int64)}
}

func (c *fakeConn) Exec(_ context.Context, q string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stmts = append(c.stmts, q)
	for prefix, err := range c.failExec {
		if strings.HasPrefix(q, prefix) {
			return err
		}
	}

	switch {
	case strings.HasPrefix(q, "CREATE TABLE "):
		name, _, _ := strings.Cut(strings.TrimPrefix(q, "CREATE TABLE "), " (")
		c.tables[name] = 0
	case strings.HasPrefix(q, "DROP TABLE "):
		delete(c.tables, strings.TrimPrefix(q, "DROP TABLE "))
	case strings.Contains(q, "COPY "):
		_, rest, _ := strings.Cut(q, "INTO ")
		name, _, _ := strings.Cut(rest, " \n")
		if _, ok := c.tables[name]; !ok {
			return errors.New("no such table " + name)
		}
		c.tables[name] = c.loadRows
	}
	return nil
}

func (c *fakeConn) Query(_ context.Context, q string) (*QueryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stmts = append(c.stmts, q)
	for prefix, err := range c.failQry {
		if strings.HasPrefix(q, prefix) {
			return nil, err
		}
	}

	switch {
	case strings.HasPrefix(q, "SELECT * FROM sys.rejects"):
		return &QueryResult{Columns: []string{"rowid", "fldid", "message", "input"}, Rows: c.rejects}, nil
	case strings.HasPrefix(q, "SELECT COUNT(DISTINCT rowid)"):
		return &QueryResult{Columns: []string{"n"}, Rows: [][]any{{int64(len(c.rejects))}}}, nil
	case strings.HasPrefix(q, "SELECT COUNT(*) FROM "):
		n, ok := c.tables[strings.TrimPrefix(q, "SELECT COUNT(*) FROM ")]
		if !ok {
			return nil, errors.New("no such table")
		}
		return &QueryResult{Columns: []string{"n"}, Rows: [][]any{{n}}}, nil
	}
	return nil, errors.New("unexpected query: " + q)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) executed(prefix string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.ContainsFunc(c.stmts, func(s string) bool { return strings.HasPrefix(s, prefix) })
}

func (c *fakeConn) has(table string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tables[table]
	return ok
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type phaseLog struct {
	mu     sync.Mutex
	phases []Phase
}

func (p *phaseLog) record(ph Phase) {
	p.mu.Lock()
	p.phases = append(p.phases, ph)
	p.mu.Unlock()
}

func (p *phaseLog) last() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.phases) == 0 {
		return ""
	}
	return p.phases[len(p.phases)-1]
}

func (p *phaseLog) saw(ph Phase) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Contains(p.phases, ph)
}

func newTestImporter(t *testing.T, path, table string, conn Conn, opts ImportOptions, phases *phaseLog) *Importer {
	t.Helper()
	cfg := Config{
		Path:    path,
		Table:   table,
		Options: opts,
		Conn:    conn,
		Logger:  quietLogger(),
	}
	if phases != nil {
		cfg.OnPhase = phases.record
	}
	imp, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return imp
}

func TestImport_NameAge(t *testing.T) {
	path := writeTemp(t, "people.csv", []byte("Name,Age\nAlice,30\nBob,25\n"))
	conn := newFakeConn()
	conn.loadRows = 2
	phases := &phaseLog{}

	imp := newTestImporter(t, path, "people", conn, DefaultImportOptions(), phases)
	res, err := imp.Import(context.Background(), nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	if res.Table != `"sys"."people"` {
		t.Errorf("Table = %s", res.Table)
	}
	if !reflect.DeepEqual(res.Labels, []string{"name", "age"}) {
		t.Errorf("Labels = %q", res.Labels)
	}
	if !reflect.DeepEqual(res.Types, []ColumnType{TypeString, TypeInteger}) {
		t.Errorf("Types = %v", res.Types)
	}
	if res.ImportedRows != 2 || res.RejectedRows != 0 {
		t.Errorf("imported %d rejected %d, want 2 and 0", res.ImportedRows, res.RejectedRows)
	}
	if res.RowUpperBound != 4 {
		t.Errorf("RowUpperBound = %d, want 4", res.RowUpperBound)
	}
	if res.Rejects != nil {
		t.Errorf("Rejects harvested without best effort: %v", res.Rejects)
	}

	wantCreate := "CREATE TABLE \"sys\".\"people\" (\"name\" STRING,\n\"age\" BIGINT)"
	wantCopy := "CALL sys.clearrejects();\n" +
		"COPY 4 OFFSET 2 RECORDS \n" +
		"INTO \"sys\".\"people\" \n" +
		"FROM ('" + path + "') \n" +
		"DELIMITERS ',', '\\n'\n" +
		"NULL AS '' LOCKED"
	if !slices.Contains(conn.stmts, wantCreate) {
		t.Errorf("CREATE not executed; got %q", conn.stmts)
	}
	if !slices.Contains(conn.stmts, wantCopy) {
		t.Errorf("COPY not executed; got %q", conn.stmts)
	}

	for _, ph := range []Phase{PhaseCheckExists, PhaseSniffing, PhaseScanning, PhaseCreatingTable, PhaseBulkLoading, PhaseVerifying} {
		if !phases.saw(ph) {
			t.Errorf("phase %s not reported", ph)
		}
	}
	if phases.saw(PhaseHarvestingRejects) {
		t.Error("rejects harvested without best effort")
	}
	if got := phases.last(); got != PhaseCommitted {
		t.Errorf("last phase = %s, want committed", got)
	}
}

func TestImport_Labels(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantLabels []string
		wantTypes  []ColumnType
	}{
		{
			name:       "duplicates",
			content:    "Total,Total,total\n1,2,3\n",
			wantLabels: []string{"total", "total(1)", "total(2)"},
			wantTypes:  []ColumnType{TypeInteger, TypeInteger, TypeInteger},
		},
		{
			name:       "text widens integer column",
			content:    "Name,Age\nAlice,30\nBob,foo\n",
			wantLabels: []string{"name", "age"},
			wantTypes:  []ColumnType{TypeString, TypeString},
		},
		{
			name:       "ragged rows pad labels",
			content:    "a,b\n1,2,x\n4,5,y\n",
			wantLabels: []string{"a", "b", "c3"},
			wantTypes:  []ColumnType{TypeInteger, TypeInteger, TypeString},
		},
		{
			name:       "whitespace and quotes",
			content:    "First Name,'Zip'\nann,0150\n",
			wantLabels: []string{"first_name", "zip"},
			wantTypes:  []ColumnType{TypeString, TypeInteger},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "in.csv", []byte(tt.content))
			conn := newFakeConn()
			conn.loadRows = 1

			res, err := newTestImporter(t, path, "t", conn, DefaultImportOptions(), nil).Import(context.Background(), nil)
			if err != nil {
				t.Fatalf("Import: %v", err)
			}
			if !reflect.DeepEqual(res.Labels, tt.wantLabels) {
				t.Errorf("Labels = %q, want %q", res.Labels, tt.wantLabels)
			}
			if !reflect.DeepEqual(res.Types, tt.wantTypes) {
				t.Errorf("Types = %v, want %v", res.Types, tt.wantTypes)
			}
		})
	}
}

func TestImport_PriorSniff(t *testing.T) {
	path := writeTemp(t, "raw.txt", []byte("1;2\n3;4\n"))
	conn := newFakeConn()
	conn.loadRows = 2
	phases := &phaseLog{}

	prior := &SniffResult{Delimiter: ';', Newline: "\n"}
	res, err := newTestImporter(t, path, "raw", conn, DefaultImportOptions(), phases).Import(context.Background(), prior)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if !reflect.DeepEqual(res.Labels, []string{"c1", "c2"}) {
		t.Errorf("Labels = %q", res.Labels)
	}
	if phases.saw(PhaseSniffing) {
		t.Error("file sniffed despite a prior result")
	}
	if !conn.executed("CALL sys.clearrejects();\nCOPY 3 OFFSET 1 RECORDS") {
		t.Errorf("unexpected statements %q", conn.stmts)
	}
}

func TestImport_Failures(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		setup        func(*fakeConn)
		wantKind     error
		wantPhase    Phase
		wantRollback bool
		wantLast     Phase
		wantDropped  bool // a DROP TABLE was issued
	}{
		{
			name:      "target exists",
			content:   "a\n1\n",
			setup:     func(c *fakeConn) { c.tables[`"sys"."t"`] = 5 },
			wantKind:  ErrTargetExists,
			wantPhase: PhaseCheckExists,
			wantLast:  PhaseFailed,
		},
		{
			name:      "create fails",
			content:   "a\n1\n",
			setup:     func(c *fakeConn) { c.failExec = map[string]error{"CREATE TABLE": errors.New("permission denied")} },
			wantKind:  ErrTableCreation,
			wantPhase: PhaseCreatingTable,
			wantLast:  PhaseFailed,
		},
		{
			name:         "load fails",
			content:      "a\n1\n",
			setup:        func(c *fakeConn) { c.failExec = map[string]error{"CALL sys.clearrejects": errors.New("line 2: bad value")} },
			wantKind:     ErrLoadFailed,
			wantPhase:    PhaseBulkLoading,
			wantRollback: true,
			wantLast:     PhaseRolledBack,
			wantDropped:  true,
		},
		{
			name:         "every row rejected",
			content:      "a\n1\n",
			setup:        func(c *fakeConn) { c.loadRows = 0 },
			wantKind:     ErrAllRowsRejected,
			wantPhase:    PhaseVerifying,
			wantRollback: true,
			wantLast:     PhaseRolledBack,
			wantDropped:  true,
		},
		{
			name:    "rollback fails",
			content: "a\n1\n",
			setup: func(c *fakeConn) {
				c.failExec = map[string]error{
					"CALL sys.clearrejects": errors.New("boom"),
					"DROP TABLE":            errors.New("locked"),
				}
			},
			wantKind:    ErrLoadFailed,
			wantPhase:   PhaseBulkLoading,
			wantLast:    PhaseFailed,
			wantDropped: true,
		},
		{
			name:      "unsniffable file",
			content:   "\n\n",
			wantKind:  ErrSniffFailed,
			wantPhase: PhaseSniffing,
			wantLast:  PhaseFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "in.csv", []byte(tt.content))
			conn := newFakeConn()
			conn.loadRows = 1
			if tt.setup != nil {
				tt.setup(conn)
			}
			phases := &phaseLog{}

			res, err := newTestImporter(t, path, "t", conn, DefaultImportOptions(), phases).Import(context.Background(), nil)
			if err == nil {
				t.Fatalf("Import succeeded: %+v", res)
			}
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("err = %v, want %v", err, tt.wantKind)
			}
			var ie *ImportError
			if !errors.As(err, &ie) {
				t.Fatalf("err is %T, want *ImportError", err)
			}
			if ie.Phase != tt.wantPhase {
				t.Errorf("Phase = %s, want %s", ie.Phase, tt.wantPhase)
			}
			if ie.RolledBack != tt.wantRollback {
				t.Errorf("RolledBack = %v, want %v", ie.RolledBack, tt.wantRollback)
			}
			if got := phases.last(); got != tt.wantLast {
				t.Errorf("last phase = %s, want %s", got, tt.wantLast)
			}
			if got := conn.executed("DROP TABLE"); got != tt.wantDropped {
				t.Errorf("DROP issued = %v, want %v", got, tt.wantDropped)
			}
			if tt.wantRollback && conn.has(`"sys"."t"`) {
				t.Error("table left behind after rollback")
			}
		})
	}
}

func TestImport_ScanFailure(t *testing.T) {
	path := writeTemp(t, "blank.csv", []byte("\n  \n"))
	conn := newFakeConn()

	prior := &SniffResult{Delimiter: ',', Newline: "\n"}
	_, err := newTestImporter(t, path, "t", conn, DefaultImportOptions(), nil).Import(context.Background(), prior)
	if !errors.Is(err, ErrScanFailed) || !errors.Is(err, ErrNoRows) {
		t.Fatalf("err = %v, want ErrScanFailed wrapping ErrNoRows", err)
	}
	if conn.executed("CREATE TABLE") {
		t.Error("table created for an empty file")
	}
}

func TestImport_MultiByteQuoteRejected(t *testing.T) {
	path := writeTemp(t, "q.csv", []byte("«a»,1\n«b»,2\n"))
	conn := newFakeConn()

	prior := &SniffResult{Delimiter: ',', Quote: '«', Newline: "\n"}
	_, err := newTestImporter(t, path, "t", conn, DefaultImportOptions(), nil).Import(context.Background(), prior)
	if !errors.Is(err, ErrScanFailed) {
		t.Fatalf("err = %v, want ErrScanFailed", err)
	}
	if conn.executed("CREATE TABLE") {
		t.Error("table created with an unusable quote")
	}
}

func TestImport_BestEffort(t *testing.T) {
	path := writeTemp(t, "scores.csv", []byte("player,score\nann,10\nbo,oops\n"))
	conn := newFakeConn()
	conn.loadRows = 1
	conn.rejects = [][]any{{int64(3), int64(2), "column 2: 'oops' is not a number", "bo,oops"}}

	opts := DefaultImportOptions()
	opts.BestEffort = true
	opts.RejectsLimit = 10
	phases := &phaseLog{}

	res, err := newTestImporter(t, path, "scores", conn, opts, phases).Import(context.Background(), nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.ImportedRows != 1 || res.RejectedRows != 1 {
		t.Errorf("imported %d rejected %d, want 1 and 1", res.ImportedRows, res.RejectedRows)
	}
	if len(res.Rejects) != 1 || res.Rejects[0]["input"] != "bo,oops" {
		t.Errorf("Rejects = %v", res.Rejects)
	}
	if !phases.saw(PhaseHarvestingRejects) {
		t.Error("harvesting phase not reported")
	}
	if !conn.executed("SELECT * FROM sys.rejects LIMIT 10") {
		t.Errorf("rejects limit not applied: %q", conn.stmts)
	}
	// The bad value widens its column to STRING.
	if !reflect.DeepEqual(res.Types, []ColumnType{TypeString, TypeString}) {
		t.Errorf("Types = %v", res.Types)
	}
	if !conn.executed("CALL sys.clearrejects();") {
		t.Error("rejects not cleared before the load")
	}
	for _, s := range conn.stmts {
		if strings.Contains(s, "COPY ") && !strings.HasSuffix(s, " LOCKED BEST EFFORT") {
			t.Errorf("COPY lacks BEST EFFORT: %q", s)
		}
	}
}

func TestImport_LockedByDefault(t *testing.T) {
	tests := []struct {
		name       string
		opts       ImportOptions
		wantSuffix string
	}{
		{"zero options", ImportOptions{}, "NULL AS '' LOCKED"},
		{"unset lock, best effort", ImportOptions{BestEffort: true}, "NULL AS '' LOCKED BEST EFFORT"},
		{"explicit unlock", ImportOptions{Locked: Bool(false)}, "NULL AS ''"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "l.csv", []byte("a,b\n1,2\n"))
			conn := newFakeConn()
			conn.loadRows = 1

			if _, err := newTestImporter(t, path, "l", conn, tt.opts, nil).Import(context.Background(), nil); err != nil {
				t.Fatalf("Import: %v", err)
			}
			var copyStmt string
			for _, s := range conn.stmts {
				if strings.Contains(s, "COPY ") {
					copyStmt = s
				}
			}
			if !strings.HasSuffix(copyStmt, tt.wantSuffix) {
				t.Errorf("COPY = %q, want suffix %q", copyStmt, tt.wantSuffix)
			}
		})
	}
}

func TestImport_DiagnosticsDegrade(t *testing.T) {
	path := writeTemp(t, "d.csv", []byte("a\n1\n2\n"))
	conn := newFakeConn()
	conn.loadRows = 2
	conn.failQry = map[string]error{
		"SELECT * FROM sys.rejects":    errors.New("no access"),
		"SELECT COUNT(DISTINCT rowid)": errors.New("no access"),
	}

	opts := DefaultImportOptions()
	opts.BestEffort = true

	res, err := newTestImporter(t, path, "d", conn, opts, nil).Import(context.Background(), nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.RejectedRows != -1 {
		t.Errorf("RejectedRows = %d, want -1 when unknown", res.RejectedRows)
	}
	if res.Rejects == nil || len(res.Rejects) != 0 {
		t.Errorf("Rejects = %v, want an empty list", res.Rejects)
	}
	if res.ImportedRows != 2 {
		t.Errorf("ImportedRows = %d", res.ImportedRows)
	}
}

func TestImport_OwnedConnection(t *testing.T) {
	path := writeTemp(t, "o.csv", []byte("a\n1\n"))
	conn := newFakeConn()
	conn.loadRows = 1

	imp, err := New(Config{
		Path:    path,
		Table:   "o",
		Options: DefaultImportOptions(),
		Connect: func(context.Context) (Conn, error) { return conn, nil },
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := imp.Import(context.Background(), nil); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if !conn.closed {
		t.Error("owned connection not closed")
	}

	// A caller-owned connection is left open.
	shared := newFakeConn()
	shared.loadRows = 1
	if _, err := newTestImporter(t, path, "o", shared, DefaultImportOptions(), nil).Import(context.Background(), nil); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if shared.closed {
		t.Error("caller-owned connection closed")
	}
}

func TestImport_ConnectFailure(t *testing.T) {
	path := writeTemp(t, "c.csv", []byte("a\n1\n"))
	imp, err := New(Config{
		Path:    path,
		Table:   "c",
		Connect: func(context.Context) (Conn, error) { return nil, errors.New("connection refused") },
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = imp.Import(context.Background(), nil)
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("err = %v, want ErrConnect", err)
	}
}

func TestImport_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New without a path succeeded")
	}

	path := writeTemp(t, "v.csv", []byte("a\n1\n"))
	imp, err := New(Config{Path: path, Conn: newFakeConn(), Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := imp.Import(context.Background(), nil); err == nil {
		t.Error("Import without a table succeeded")
	}

	imp, err = New(Config{Path: path, Table: "v", Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := imp.Import(context.Background(), nil); err == nil {
		t.Error("Import without a connection succeeded")
	}
}

func TestImporter_Sniff(t *testing.T) {
	t.Run("labels reconciled to the widest row", func(t *testing.T) {
		path := writeTemp(t, "s.csv", []byte("id,id\n1,2,3\n"))
		imp, err := New(Config{Path: path, Logger: quietLogger()})
		if err != nil {
			t.Fatal(err)
		}
		sr, err := imp.Sniff(context.Background(), nil)
		if err != nil {
			t.Fatalf("Sniff: %v", err)
		}
		if !reflect.DeepEqual(sr.Labels, []string{"id", "id(1)", "c3"}) {
			t.Errorf("Labels = %q", sr.Labels)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		imp, err := New(Config{Path: "/nonexistent/file.csv", Logger: quietLogger()})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := imp.Sniff(context.Background(), nil); !errors.Is(err, ErrSampleFailed) {
			t.Errorf("err = %v, want ErrSampleFailed", err)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := writeTemp(t, "e.csv", nil)
		imp, err := New(Config{Path: path, Logger: quietLogger()})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := imp.Sniff(context.Background(), nil); !errors.Is(err, ErrSniffFailed) {
			t.Errorf("err = %v, want ErrSniffFailed", err)
		}
	})

	t.Run("sample size limits the read", func(t *testing.T) {
		path := writeTemp(t, "big.csv", []byte("a|b\n1|2\n3|4444444444"))
		imp, err := New(Config{Path: path, Options: ImportOptions{SampleSize: 12}, Logger: quietLogger()})
		if err != nil {
			t.Fatal(err)
		}
		sr, err := imp.Sniff(context.Background(), nil)
		if err != nil {
			t.Fatalf("Sniff: %v", err)
		}
		if sr.Delimiter != '|' || len(sr.Records) != 2 {
			t.Errorf("Delimiter %q, %d records", sr.Delimiter, len(sr.Records))
		}
	})
}
