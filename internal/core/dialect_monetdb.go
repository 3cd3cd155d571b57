package core

import (
	"strconv"
	"strings"
)

// MonetDB builds COPY INTO directives for MonetDB's bulk loader. The
// directive text is consumed by tooling that parses it, so its layout
// must not change.
type MonetDB struct{}

func (MonetDB) Name() string          { return "monetdb" }
func (MonetDB) DefaultSchema() string { return "sys" }

func (MonetDB) ColumnType(t ColumnType) string {
	switch t {
	case TypeInteger:
		return "BIGINT"
	case TypeFloat:
		return "DOUBLE"
	default:
		return "STRING"
	}
}

func (d MonetDB) CreateTable(tbl TableName, labels []string, types []ColumnType) string {
	return createTableSQL(d, tbl, labels, types)
}

// BulkLoad renders:
//
//	CALL sys.clearrejects();
//	COPY <n> OFFSET <2|1> RECORDS
//	INTO "schema"."table"
//	FROM ('<path>')
//	DELIMITERS '<d>', '<newline>', '<quote>'
//	NULL AS '<null>' LOCKED BEST EFFORT
//
// The DELIMITERS line is omitted without a delimiter; the newline needs a
// delimiter and the quote needs a newline.
func (MonetDB) BulkLoad(tbl TableName, plan LoadPlan) Statement {
	offset := "1"
	if plan.HasHeader {
		offset = "2"
	}

	var b strings.Builder
	b.WriteString("CALL sys.clearrejects();\n")
	b.WriteString("COPY " + strconv.FormatInt(plan.RowUpperBound, 10) + " OFFSET " + offset + " RECORDS \n")
	b.WriteString("INTO " + tbl.Quoted() + " \n")
	b.WriteString("FROM (" + sqlLiteral(plan.Path) + ") \n")
	if delims := monetDelimiters(plan); delims != "" {
		b.WriteString("DELIMITERS " + delims + "\n")
	}
	b.WriteString("NULL AS " + sqlLiteral(plan.Options.NullString))
	if plan.Options.IsLocked() {
		b.WriteString(" LOCKED")
	}
	if plan.Options.BestEffort {
		b.WriteString(" BEST EFFORT")
	}
	return Statement{SQL: b.String()}
}

func monetDelimiters(plan LoadPlan) string {
	if plan.Delimiter == 0 {
		return ""
	}
	s := "'" + string(plan.Delimiter) + "'"
	if plan.Newline == "" {
		return s
	}
	nl := strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(plan.Newline)
	s += ", '" + nl + "'"
	if plan.Quote == 0 {
		return s
	}
	q := strings.ReplaceAll(string(plan.Quote), "'", `\'`)
	return s + ", '" + q + "'"
}

func (MonetDB) DropTable(tbl TableName) string   { return "DROP TABLE " + tbl.Quoted() }
func (MonetDB) ExistsProbe(tbl TableName) string { return "SELECT COUNT(*) FROM " + tbl.Quoted() }
func (MonetDB) CountRows(tbl TableName) string   { return "SELECT COUNT(*) FROM " + tbl.Quoted() }

func (MonetDB) RejectsQuery(limit int) string {
	if limit <= 0 {
		limit = DefaultRejectsLimit
	}
	return "SELECT * FROM sys.rejects LIMIT " + strconv.Itoa(limit)
}

func (MonetDB) RejectCountQuery() string {
	return "SELECT COUNT(DISTINCT rowid) FROM sys.rejects"
}
