package database

import (
	"context"
	"database/sql"
	"fmt"

	// Drivers registered with database/sql.
	_ "github.com/MonetDB/MonetDB-Go/v2"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/JonMunkholm/csvload/internal/config"
	"github.com/JonMunkholm/csvload/internal/core"
)

type sqlBackend struct {
	db *sql.DB
}

func openSQL(driver, dsn string, cfg config.DatabaseConfig) (*sqlBackend, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	return &sqlBackend{db: db}, nil
}

// FromDB wraps an already opened *sql.DB. The pool takes ownership and
// closes db on Close.
func FromDB(db *sql.DB, dialect core.Dialect) *Pool {
	return &Pool{driver: dialect.Name(), dialect: dialect, be: &sqlBackend{db: db}}
}

func (b *sqlBackend) acquire(ctx context.Context) (core.Conn, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConn{conn: conn}, nil
}

func (b *sqlBackend) ping(ctx context.Context) error { return b.db.PingContext(ctx) }
func (b *sqlBackend) close() error                   { return b.db.Close() }

// sqlConn is one database/sql session.
type sqlConn struct {
	conn *sql.Conn
}

func (c *sqlConn) Exec(ctx context.Context, query string) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if _, err := c.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

func (c *sqlConn) Query(ctx context.Context, query string) (*core.QueryResult, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	rows, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	res := &core.QueryResult{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return res, nil
}

// Close returns the session to the pool.
func (c *sqlConn) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
