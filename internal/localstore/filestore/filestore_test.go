package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/linnemanlabs/ccgate/internal/localstore/storetest"
)

func TestStore_Contract(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	storetest.Run(t, s)
}

func TestStore_SurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Set(ctx, "cachedLocalizations:en-US", []byte(`{"a":"b"}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, ok, err := reopened.Get(ctx, "cachedLocalizations:en-US")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if string(got) != `{"a":"b"}` {
		t.Errorf("value = %q", got)
	}
}

func TestStore_KeysIgnoresForeignFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	keys, err := s.Keys(context.Background(), "")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys = %v, want none", keys)
	}
}

func TestNew_RequiresDir(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty dir")
	}
}
