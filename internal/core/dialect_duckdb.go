package core

import (
	"strconv"
	"strings"
)

// DuckDB loads through read_csv with an explicit column list, so the
// inferred schema is authoritative. In best-effort mode rejected lines
// land in the reject_errors temp table.
type DuckDB struct{}

func (DuckDB) Name() string          { return "duckdb" }
func (DuckDB) DefaultSchema() string { return "main" }

func (DuckDB) ColumnType(t ColumnType) string {
	switch t {
	case TypeInteger:
		return "BIGINT"
	case TypeFloat:
		return "DOUBLE"
	default:
		return "VARCHAR"
	}
}

func (d DuckDB) CreateTable(tbl TableName, labels []string, types []ColumnType) string {
	return createTableSQL(d, tbl, labels, types)
}

func (d DuckDB) BulkLoad(tbl TableName, plan LoadPlan) Statement {
	args := []string{sqlLiteral(plan.Path)}
	if plan.Delimiter != 0 {
		args = append(args, "delim="+sqlLiteral(string(plan.Delimiter)))
	}
	if plan.Quote != 0 {
		args = append(args, "quote="+sqlLiteral(string(plan.Quote)))
	} else {
		args = append(args, "quote=''")
	}
	args = append(args,
		"header="+strconv.FormatBool(plan.HasHeader),
		"nullstr="+sqlLiteral(plan.Options.NullString),
		"columns="+d.columnsStruct(plan.Labels, plan.Types),
	)
	if plan.Options.BestEffort {
		args = append(args, "ignore_errors=true", "store_rejects=true")
	}

	return Statement{
		SQL: "INSERT INTO " + tbl.Quoted() + " SELECT * FROM read_csv(" + strings.Join(args, ", ") + ")",
	}
}

// columnsStruct renders {'label': 'TYPE', ...} in column order.
func (d DuckDB) columnsStruct(labels []string, types []ColumnType) string {
	cols := make([]string, len(labels))
	for i, label := range labels {
		t := TypeUnknown
		if i < len(types) {
			t = types[i]
		}
		cols[i] = sqlLiteral(label) + ": " + sqlLiteral(d.ColumnType(t))
	}
	return "{" + strings.Join(cols, ", ") + "}"
}

func (DuckDB) DropTable(tbl TableName) string   { return "DROP TABLE " + tbl.Quoted() }
func (DuckDB) ExistsProbe(tbl TableName) string { return "SELECT COUNT(*) FROM " + tbl.Quoted() }
func (DuckDB) CountRows(tbl TableName) string   { return "SELECT COUNT(*) FROM " + tbl.Quoted() }

func (DuckDB) RejectsQuery(limit int) string {
	if limit <= 0 {
		limit = DefaultRejectsLimit
	}
	return "SELECT * FROM reject_errors LIMIT " + strconv.Itoa(limit)
}

func (DuckDB) RejectCountQuery() string {
	return "SELECT COUNT(DISTINCT line) FROM reject_errors"
}
