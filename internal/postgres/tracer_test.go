package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/ccgate/internal/localstore/pgstore.(*Store).Get", "(*Store).Get"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := shortenFuncName(tt.in); got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOperationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tag  pgconn.CommandTag
		sql  string
		want string
	}{
		{"from tag", pgconn.NewCommandTag("INSERT 0 1"), "insert into x", "INSERT"},
		{"fallback to sql", pgconn.CommandTag{}, "  select value from local_storage", "SELECT"},
		{"nothing", pgconn.CommandTag{}, "", "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := operationName(tt.tag, tt.sql); got != tt.want {
				t.Errorf("operationName = %q, want %q", got, tt.want)
			}
		})
	}
}

type observation struct {
	op, route, outcome string
}

func TestQueryTracer_Observes(t *testing.T) {
	t.Parallel()

	var got []observation
	obs := QueryObserverFunc(func(_ context.Context, op, route, outcome string, _ time.Duration) {
		got = append(got, observation{op, route, outcome})
	})
	tr := newQueryTracer(nil, obs, time.Hour)

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	rctx := chi.NewRouteContext()
	rctx.RoutePatterns = []string{"/api/v1/recent-worksites"}
	ctx = context.WithValue(context.Background(), chi.RouteCtxKey, rctx)
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "DELETE FROM local_storage"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("conn reset")})

	want := []observation{
		{"SELECT", "background", "ok"},
		{"DELETE", "/api/v1/recent-worksites", "error"},
	}
	if len(got) != len(want) {
		t.Fatalf("observations = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("observation[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestQueryTracer_EndWithoutStart(t *testing.T) {
	t.Parallel()

	called := false
	tr := newQueryTracer(nil, QueryObserverFunc(func(context.Context, string, string, string, time.Duration) {
		called = true
	}), 0)

	// must not panic or observe without start data
	tr.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})
	if called {
		t.Error("observer called without a matching start")
	}
}

func TestQueryCaller_SkipsOwnPackage(t *testing.T) {
	t.Parallel()

	got := queryCaller()
	if got == "" || strings.Contains(got, "TestQueryCaller") {
		t.Errorf("queryCaller = %q, want first frame outside this package", got)
	}
}

func TestNewPool_BadURL(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(context.Background(), "postgres://ccgate@localhost:notaport/ccgate", PoolOptions{}); err == nil {
		t.Fatal("expected error for malformed url")
	}
}
