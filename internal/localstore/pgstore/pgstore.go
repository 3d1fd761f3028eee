// Package pgstore provides a PostgreSQL implementation of localstore.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tracer = otel.Tracer("github.com/linnemanlabs/ccgate/internal/localstore/pgstore")

//go:embed schema.sql
var schema string

// Store persists local storage entries in PostgreSQL. Entries are scoped by
// namespace so several sessions can share one table.
type Store struct {
	pool      *pgxpool.Pool
	namespace string
}

// New applies the schema on pool and returns a Store scoped to namespace.
func New(ctx context.Context, pool *pgxpool.Pool, namespace string) (*Store, error) {
	if namespace == "" {
		return nil, errors.New("pgstore: namespace is required")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, namespace: namespace}, nil
}

func (s *Store) startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Get returns the value stored at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := s.startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	var v []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM local_storage WHERE namespace = $1 AND key = $2`,
		s.namespace, key,
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("get %q: %w", key, err))
	}
	return v, true, nil
}

// Set upserts value at key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	ctx, span := s.startSpan(ctx, "pgstore.Set", "UPSERT")
	defer span.End()

	if value == nil {
		value = []byte{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO local_storage (namespace, key, value, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (namespace, key) DO UPDATE SET
			value      = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`,
		s.namespace, key, value,
	)
	if err != nil {
		return fail(span, fmt.Errorf("set %q: %w", key, err))
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, span := s.startSpan(ctx, "pgstore.Delete", "DELETE")
	defer span.End()

	if _, err := s.pool.Exec(ctx,
		`DELETE FROM local_storage WHERE namespace = $1 AND key = $2`, s.namespace, key,
	); err != nil {
		return fail(span, fmt.Errorf("delete %q: %w", key, err))
	}
	return nil
}

// Keys lists the keys starting with prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := s.startSpan(ctx, "pgstore.Keys", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT key FROM local_storage
		 WHERE namespace = $1 AND left(key, length($2)) = $2
		 ORDER BY key COLLATE "C"`,
		s.namespace, prefix,
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("list keys: %w", err))
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fail(span, fmt.Errorf("scan keys: %w", err))
	}
	return keys, nil
}
