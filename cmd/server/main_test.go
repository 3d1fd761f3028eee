package main

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	vc "github.com/linnemanlabs/ccgate/internal/cfg"
	"github.com/linnemanlabs/ccgate/internal/localstore/filestore"
	"github.com/linnemanlabs/ccgate/internal/localstore/memstore"
	"github.com/linnemanlabs/ccgate/internal/localstore/sqlitestore"
)

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func TestOpenLocalStore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, c *vc.Config)
		check func(t *testing.T, st any)
	}{
		{
			name:  "memory by default",
			setup: func(*testing.T, *vc.Config) {},
			check: func(t *testing.T, st any) {
				if _, ok := st.(*memstore.Store); !ok {
					t.Errorf("store = %T, want *memstore.Store", st)
				}
			},
		},
		{
			name:  "file",
			setup: func(t *testing.T, c *vc.Config) { c.StateDir = t.TempDir() },
			check: func(t *testing.T, st any) {
				if _, ok := st.(*filestore.Store); !ok {
					t.Errorf("store = %T, want *filestore.Store", st)
				}
			},
		},
		{
			name:  "sqlite",
			setup: func(t *testing.T, c *vc.Config) { c.SQLitePath = filepath.Join(t.TempDir(), "state.db") },
			check: func(t *testing.T, st any) {
				if _, ok := st.(*sqlitestore.Store); !ok {
					t.Errorf("store = %T, want *sqlitestore.Store", st)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var c vc.Config
			tt.setup(t, &c)
			ctx := context.Background()

			st, closeStore, err := openLocalStore(ctx, &c, prometheus.NewRegistry(), log.Nop())
			if err != nil {
				t.Fatalf("openLocalStore: %v", err)
			}
			t.Cleanup(closeStore)
			tt.check(t, st)

			// every backend round-trips a value
			if err := st.Set(ctx, "recent_worksites", []byte(`{}`)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, ok, err := st.Get(ctx, "recent_worksites")
			if err != nil || !ok || string(got) != `{}` {
				t.Errorf("Get = %q, %v, %v", got, ok, err)
			}
		})
	}
}

func TestOpenLocalStore_BadPostgresURL(t *testing.T) {
	t.Parallel()

	c := vc.Config{DatabaseURL: "postgres://ccgate@localhost:notaport/ccgate"}
	_, closeStore, err := openLocalStore(context.Background(), &c, prometheus.NewRegistry(), log.Nop())
	if err == nil {
		t.Fatal("expected error for malformed database url")
	}
	if closeStore == nil {
		t.Fatal("close func is nil on error")
	}
	closeStore()
}
