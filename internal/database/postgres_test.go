package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JonMunkholm/csvload/internal/config"
	"github.com/JonMunkholm/csvload/internal/core"
)

func openPostgres(t *testing.T) *Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("csvload"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Open(ctx, config.DatabaseConfig{Driver: "postgres", URL: connStr, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestPostgres_ImportStreamsFile(t *testing.T) {
	pool := openPostgres(t)
	path := writeCSV(t, "Name,Age,Score\nAlice,30,1.5\nBob,25,\n")

	res, err := importFile(t, pool, path, "people", core.DefaultImportOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.ImportedRows)
	assert.Equal(t, int64(-1), res.RejectedRows, "postgres keeps no reject log")
	assert.Equal(t, []core.ColumnType{core.TypeString, core.TypeInteger, core.TypeFloat}, res.Types)

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Close()

	rows, err := conn.Query(ctx, `SELECT "score" FROM "public"."people" WHERE "name" = 'Bob'`)
	require.NoError(t, err)
	require.Len(t, rows.Rows, 1)
	assert.Nil(t, rows.Rows[0][0], "blank loads as NULL")
}

func TestPostgres_ZeroRowsRollsBack(t *testing.T) {
	pool := openPostgres(t)
	path := writeCSV(t, "Name,Age\n")

	imp, err := core.New(core.Config{
		Path:    path,
		Table:   "empty",
		Options: core.DefaultImportOptions(),
		Dialect: pool.Dialect(),
		Connect: pool.Acquire,
	})
	require.NoError(t, err)

	// A single line never sniffs as a header, so the caller supplies one.
	prior := &core.SniffResult{
		Delimiter: ',',
		Quote:     '"',
		Newline:   "\n",
		HasHeader: true,
		Labels:    []string{"Name", "Age"},
	}
	_, err = imp.Import(context.Background(), prior)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAllRowsRejected)

	var ie *core.ImportError
	require.ErrorAs(t, err, &ie)
	assert.True(t, ie.RolledBack)
	assert.False(t, tableExists(t, pool, core.TableName{Schema: "public", Table: "empty"}))
}
