package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/ccgate/internal/cfg"
	"github.com/linnemanlabs/ccgate/internal/localstore"
	"github.com/linnemanlabs/ccgate/internal/localstore/filestore"
	"github.com/linnemanlabs/ccgate/internal/localstore/memstore"
	"github.com/linnemanlabs/ccgate/internal/localstore/pgstore"
	"github.com/linnemanlabs/ccgate/internal/localstore/sqlitestore"
	"github.com/linnemanlabs/ccgate/internal/postgres"
)

// pgNamespace scopes this gateway's rows in a shared local_storage table.
const pgNamespace = appName

// openLocalStore builds the local storage backend the config selects. The
// returned close func releases it and is never nil.
func openLocalStore(ctx context.Context, c *vc.Config, reg prometheus.Registerer, L log.Logger) (localstore.Store, func(), error) {
	noop := func() {}

	switch c.StorageBackend() {
	case "postgres":
		// per-query duration histogram fed by the pool tracer
		dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ccgate_db_query_duration_seconds",
			Help:    "Duration of individual local storage queries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "route", "outcome"})
		reg.MustRegister(dbQueryDuration)

		pool, err := postgres.NewPool(ctx, c.DatabaseURL, postgres.PoolOptions{
			Observer: postgres.QueryObserverFunc(func(_ context.Context, op, route, outcome string, dur time.Duration) {
				dbQueryDuration.WithLabelValues(op, route, outcome).Observe(dur.Seconds())
			}),
			SlowQuery: 250 * time.Millisecond,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("postgres pool: %w", err)
		}
		st, err := pgstore.New(ctx, pool, pgNamespace)
		if err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres local storage", "namespace", pgNamespace)
		return st, pool.Close, nil

	case "sqlite":
		st, err := sqlitestore.New(ctx, c.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		L.Info(ctx, "using sqlite local storage", "path", c.SQLitePath)
		return st, func() {
			if err := st.Close(); err != nil {
				L.Error(context.Background(), err, "closing sqlite local storage")
			}
		}, nil

	case "file":
		st, err := filestore.New(c.StateDir)
		if err != nil {
			return nil, noop, err
		}
		L.Info(ctx, "using file local storage", "dir", c.StateDir)
		return st, noop, nil

	default:
		L.Info(ctx, "using in-memory local storage (no storage backend configured)")
		return memstore.New(), noop, nil
	}
}
