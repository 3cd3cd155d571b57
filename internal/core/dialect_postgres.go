package core

import "strings"

// Postgres streams the file from the client with COPY ... FROM STDIN.
// PostgreSQL keeps no table of rejected rows, so rejects are never
// harvested and the reject count is reported as unknown. BestEffort maps
// to ON_ERROR ignore, which needs PostgreSQL 17 or later.
type Postgres struct{}

func (Postgres) Name() string          { return "postgres" }
func (Postgres) DefaultSchema() string { return "public" }

func (Postgres) ColumnType(t ColumnType) string {
	switch t {
	case TypeInteger:
		return "BIGINT"
	case TypeFloat:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

func (d Postgres) CreateTable(tbl TableName, labels []string, types []ColumnType) string {
	return createTableSQL(d, tbl, labels, types)
}

func (Postgres) BulkLoad(tbl TableName, plan LoadPlan) Statement {
	opts := []string{"FORMAT csv"}
	if plan.Delimiter != 0 {
		opts = append(opts, "DELIMITER "+sqlLiteral(string(plan.Delimiter)))
	}
	if plan.Quote != 0 {
		opts = append(opts, "QUOTE "+sqlLiteral(string(plan.Quote)))
	} else {
		// FORMAT csv always quotes; without a quote the file is read with
		// the same neutral byte the scan used, so '"' stays literal.
		opts = append(opts, `QUOTE E'\x1f'`)
	}
	if plan.HasHeader {
		opts = append(opts, "HEADER true")
	} else {
		opts = append(opts, "HEADER false")
	}
	opts = append(opts, "NULL "+sqlLiteral(plan.Options.NullString))
	if plan.Options.BestEffort {
		opts = append(opts, "ON_ERROR ignore")
	}

	return Statement{
		SQL:    "COPY " + tbl.Quoted() + " FROM STDIN WITH (" + strings.Join(opts, ", ") + ")",
		Source: plan.Path,
	}
}

func (Postgres) DropTable(tbl TableName) string   { return "DROP TABLE " + tbl.Quoted() }
func (Postgres) ExistsProbe(tbl TableName) string { return "SELECT COUNT(*) FROM " + tbl.Quoted() }
func (Postgres) CountRows(tbl TableName) string   { return "SELECT COUNT(*) FROM " + tbl.Quoted() }
func (Postgres) RejectsQuery(int) string          { return "" }
func (Postgres) RejectCountQuery() string         { return "" }

// sqlLiteral quotes s as a standard SQL string literal.
func sqlLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
