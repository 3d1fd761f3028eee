// Package postgres builds the connection pool shared by the PostgreSQL
// backed components, with tracing and query logging attached.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes NewPool. The zero value is usable.
type PoolOptions struct {
	MaxConns int32
	Observer QueryObserver
	// SlowQuery is the threshold above which successful queries are logged.
	SlowQuery time.Duration
}

// NewPool parses url, attaches the otel and logging tracers and verifies the
// server is reachable.
func NewPool(ctx context.Context, url string, opts PoolOptions) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		pc.MaxConns = opts.MaxConns
	}
	pc.ConnConfig.Tracer = newQueryTracer(otelpgx.NewTracer(), opts.Observer, opts.SlowQuery)

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
