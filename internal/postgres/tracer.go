package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// QueryObserver receives one observation per finished query.
type QueryObserver interface {
	ObserveQuery(ctx context.Context, operation, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, operation, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, operation, route, outcome string, dur time.Duration) {
	f(ctx, operation, route, outcome, dur)
}

type queryStartKey struct{}

type queryStart struct {
	sql    string
	at     time.Time
	caller string
}

// queryTracer wraps another pgx.QueryTracer (otelpgx in production) with a
// structured log line and a metrics observation per query.
type queryTracer struct {
	inner    pgx.QueryTracer
	observer QueryObserver
	// successful queries faster than this are not logged
	slow time.Duration
}

func newQueryTracer(inner pgx.QueryTracer, observer QueryObserver, slow time.Duration) *queryTracer {
	return &queryTracer{inner: inner, observer: observer, slow: slow}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	// inner tracer opens its span first so the caller lands on it
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	caller := queryCaller()
	if span := trace.SpanFromContext(ctx); caller != "" && span.IsRecording() {
		span.SetAttributes(attribute.String("db.caller", caller))
	}
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, at: time.Now(), caller: caller})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qs, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	dur := time.Since(qs.at)
	op := operationName(data.CommandTag, qs.sql)

	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	if t.observer != nil {
		t.observer.ObserveQuery(ctx, op, routeFromContext(ctx), outcome, dur)
	}

	if data.Err == nil && dur < t.slow {
		return
	}

	fields := []any{
		"db.statement", qs.sql,
		"db.operation.name", op,
		"db.duration", dur.Seconds(),
	}
	if qs.caller != "" {
		fields = append(fields, "db.caller", qs.caller)
	}
	if rows := data.CommandTag.RowsAffected(); data.Err == nil && rows >= 0 {
		fields = append(fields, "db.rows", rows)
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

// operationName prefers the command tag and falls back to the first SQL
// keyword when the query failed before producing one.
func operationName(tag pgconn.CommandTag, sql string) string {
	src := strings.TrimSpace(tag.String())
	if src == "" {
		src = strings.TrimSpace(sql)
	}
	if fields := strings.Fields(src); len(fields) > 0 {
		return strings.ToUpper(fields[0])
	}
	return "UNKNOWN"
}

func routeFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "background"
}

// queryCaller returns the first application frame that is not part of the
// driver, its tracing or this package.
func queryCaller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		fn := fr.Function
		switch {
		case fn == "":
		case strings.HasPrefix(fn, "runtime."),
			strings.Contains(fn, "github.com/jackc/"),
			strings.Contains(fn, "github.com/exaring/otelpgx"),
			strings.Contains(fn, "ccgate/internal/postgres."):
		default:
			return shortenFuncName(fn)
		}
		if !more {
			return ""
		}
	}
}

func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
