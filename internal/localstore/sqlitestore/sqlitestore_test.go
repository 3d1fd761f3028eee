package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/linnemanlabs/ccgate/internal/localstore/storetest"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := New(context.Background(), path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Contract(t *testing.T) {
	t.Parallel()
	storetest.Run(t, openStore(t, filepath.Join(t.TempDir(), "local.db")))
}

func TestStore_InMemory(t *testing.T) {
	t.Parallel()
	storetest.Run(t, openStore(t, ":memory:"))
}

func TestStore_SurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "local.db")
	ctx := context.Background()

	s, err := New(ctx, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Set(ctx, "recent_worksites", []byte(`{}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_ = s.Close()

	reopened := openStore(t, path)
	if _, ok, err := reopened.Get(ctx, "recent_worksites"); err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
}
