package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// TableName identifies the import target.
type TableName struct {
	Schema string
	Table  string
}

// Quoted returns "schema"."table". Double quotes inside either part are
// stripped, never escaped.
func (t TableName) Quoted() string {
	return QuoteIdent(t.Schema) + "." + QuoteIdent(t.Table)
}

func (t TableName) String() string {
	return t.Quoted()
}

// QuoteIdent wraps name in double quotes after stripping any it contains.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, "") + `"`
}

// LoadPlan is everything a dialect needs to build the bulk-load statement.
type LoadPlan struct {
	Path          string
	Delimiter     rune
	Quote         rune
	Newline       string
	HasHeader     bool
	RowUpperBound int64
	Labels        []string
	Types         []ColumnType
	Options       ImportOptions
}

// Statement is a bulk-load statement. When Source is set the client
// streams that file to the server (see FileLoader); otherwise the server
// reads the path named in SQL.
type Statement struct {
	SQL    string
	Source string
}

// Dialect builds the SQL an import run executes against one kind of
// database. Implementations are pure and safe for concurrent use.
type Dialect interface {
	Name() string
	DefaultSchema() string
	ColumnType(t ColumnType) string

	CreateTable(tbl TableName, labels []string, types []ColumnType) string
	BulkLoad(tbl TableName, plan LoadPlan) Statement
	DropTable(tbl TableName) string

	// ExistsProbe succeeds only when the table exists.
	ExistsProbe(tbl TableName) string
	CountRows(tbl TableName) string

	// RejectsQuery and RejectCountQuery return "" when the database keeps
	// no record of rejected rows.
	RejectsQuery(limit int) string
	RejectCountQuery() string
}

// createTableSQL renders CREATE TABLE with one quoted column per label.
func createTableSQL(d Dialect, tbl TableName, labels []string, types []ColumnType) string {
	cols := make([]string, len(labels))
	for i, label := range labels {
		t := TypeUnknown
		if i < len(types) {
			t = types[i]
		}
		cols[i] = QuoteIdent(label) + " " + d.ColumnType(t)
	}
	return "CREATE TABLE " + tbl.Quoted() + " (" + strings.Join(cols, ",\n") + ")"
}

// BuildStatements returns the CREATE TABLE and bulk-load statements for a plan.
func BuildStatements(d Dialect, tbl TableName, plan LoadPlan) (string, Statement) {
	return d.CreateTable(tbl, plan.Labels, plan.Types), d.BulkLoad(tbl, plan)
}

var (
	dialectsMu sync.RWMutex
	dialects   = make(map[string]Dialect)
)

// RegisterDialect makes a dialect available by name.
// It panics if name is already registered.
func RegisterDialect(name string, d Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	if _, dup := dialects[name]; dup {
		panic("core: dialect registered twice: " + name)
	}
	dialects[name] = d
}

// DialectFor looks up a registered dialect.
func DialectFor(name string) (Dialect, error) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q (available: %s)", name, strings.Join(dialectNames(), ", "))
	}
	return d, nil
}

func dialectNames() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterDialect("monetdb", MonetDB{})
	RegisterDialect("postgres", Postgres{})
	RegisterDialect("pgx", Postgres{})
	RegisterDialect("duckdb", DuckDB{})
}
