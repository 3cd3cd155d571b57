package database

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/csvload/internal/config"
	"github.com/JonMunkholm/csvload/internal/core"
)

type pgxBackend struct {
	pool *pgxpool.Pool
}

func openPgx(ctx context.Context, cfg config.DatabaseConfig) (*pgxBackend, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	poolConfig.MinConns = int32(cfg.MinConns)
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	return &pgxBackend{pool: pool}, nil
}

func (b *pgxBackend) acquire(ctx context.Context) (core.Conn, error) {
	c, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxConn{c: c}, nil
}

func (b *pgxBackend) ping(ctx context.Context) error { return b.pool.Ping(ctx) }

func (b *pgxBackend) close() error {
	b.pool.Close()
	return nil
}

// pgxConn is one pooled PostgreSQL session. It streams files to the
// server with COPY FROM STDIN.
type pgxConn struct {
	c *pgxpool.Conn
}

func (p *pgxConn) Exec(ctx context.Context, query string) error {
	if p.c == nil {
		return ErrNotConnected
	}
	if _, err := p.c.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

func (p *pgxConn) Query(ctx context.Context, query string) (*core.QueryResult, error) {
	if p.c == nil {
		return nil, ErrNotConnected
	}
	rows, err := p.c.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	res := &core.QueryResult{Columns: make([]string, len(fields))}
	for i, f := range fields {
		res.Columns[i] = f.Name
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return res, nil
}

// LoadFile streams the file at path through a COPY ... FROM STDIN query
// and returns the number of rows copied.
func (p *pgxConn) LoadFile(ctx context.Context, query, path string) (int64, error) {
	if p.c == nil {
		return 0, ErrNotConnected
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	tag, err := p.c.Conn().PgConn().CopyFrom(ctx, f, query)
	if err != nil {
		return 0, fmt.Errorf("copy from %s: %w", path, err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the session back to the pool.
func (p *pgxConn) Close() error {
	if p.c != nil {
		p.c.Release()
		p.c = nil
	}
	return nil
}
