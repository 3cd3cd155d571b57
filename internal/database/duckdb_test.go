package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvload/internal/config"
	"github.com/JonMunkholm/csvload/internal/core"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func openDuckDB(t *testing.T) *Pool {
	t.Helper()
	pool, err := Open(context.Background(), config.DatabaseConfig{
		Driver:   "duckdb",
		URL:      filepath.Join(t.TempDir(), "test.duckdb"),
		MaxConns: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func importFile(t *testing.T, pool *Pool, path, table string, opts core.ImportOptions) (*core.ImportResult, error) {
	t.Helper()
	imp, err := core.New(core.Config{
		Path:    path,
		Table:   table,
		Options: opts,
		Dialect: pool.Dialect(),
		Connect: pool.Acquire,
	})
	require.NoError(t, err)
	return imp.Import(context.Background(), nil)
}

func tableExists(t *testing.T, pool *Pool, tbl core.TableName) bool {
	t.Helper()
	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Query(ctx, pool.Dialect().ExistsProbe(tbl))
	return err == nil
}

func TestDuckDB_Import(t *testing.T) {
	pool := openDuckDB(t)
	path := writeCSV(t, "Name,Age\nAlice,30\nBob,25\n")

	res, err := importFile(t, pool, path, "people", core.DefaultImportOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.ImportedRows)
	assert.Equal(t, []string{"name", "age"}, res.Labels)
	assert.Equal(t, []core.ColumnType{core.TypeString, core.TypeInteger}, res.Types)

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Close()

	rows, err := conn.Query(ctx, `SELECT "name", "age" FROM "main"."people" ORDER BY "age"`)
	require.NoError(t, err)
	require.Len(t, rows.Rows, 2)
	assert.Equal(t, "Bob", rows.Rows[0][0])
	assert.Equal(t, int64(25), rows.Rows[0][1])
}

func TestDuckDB_TargetExists(t *testing.T) {
	pool := openDuckDB(t)
	path := writeCSV(t, "a;b\n1;2\n")

	_, err := importFile(t, pool, path, "once", core.DefaultImportOptions())
	require.NoError(t, err)

	_, err = importFile(t, pool, path, "once", core.DefaultImportOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTargetExists)
}

func TestDuckDB_LoadFailureRollsBack(t *testing.T) {
	pool := openDuckDB(t)
	path := writeCSV(t, "Name,Age\nAlice,30\nBob,25\nCarol,41,extra\n")

	_, err := importFile(t, pool, path, "broken", core.DefaultImportOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrLoadFailed)

	var ie *core.ImportError
	require.ErrorAs(t, err, &ie)
	assert.True(t, ie.RolledBack)
	assert.False(t, tableExists(t, pool, core.TableName{Schema: "main", Table: "broken"}))
}

func TestDuckDB_BestEffortSkipsBadRows(t *testing.T) {
	pool := openDuckDB(t)
	path := writeCSV(t, "Name,Age\nAlice,30\nBob,25\nCarol,41,extra\n")

	opts := core.DefaultImportOptions()
	opts.BestEffort = true

	res, err := importFile(t, pool, path, "lenient", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.ImportedRows)
	assert.Equal(t, int64(1), res.RejectedRows)
	assert.NotNil(t, res.Rejects)
}
