// Package storetest holds the behaviour every localstore.Store backend must
// share, run from each backend's tests.
package storetest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/linnemanlabs/ccgate/internal/localstore"
)

// Run exercises s against the localstore.Store contract. s must start empty.
func Run(t *testing.T, s localstore.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		_, ok, err := s.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok {
			t.Fatal("expected ok=false for missing key")
		}
	})

	t.Run("SetAndGet", func(t *testing.T) {
		if err := s.Set(ctx, localstore.KeyRecentWorksites, []byte(`{"1":{}}`)); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, ok, err := s.Get(ctx, localstore.KeyRecentWorksites)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !ok {
			t.Fatal("expected value to be found")
		}
		if string(got) != `{"1":{}}` {
			t.Errorf("value = %q, want %q", got, `{"1":{}}`)
		}
	})

	t.Run("SetOverwrites", func(t *testing.T) {
		_ = s.Set(ctx, "k", []byte("one"))
		_ = s.Set(ctx, "k", []byte("two"))
		got, _, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != "two" {
			t.Errorf("value = %q, want %q", got, "two")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = s.Set(ctx, "gone", []byte("x"))
		if err := s.Delete(ctx, "gone"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, ok, _ := s.Get(ctx, "gone"); ok {
			t.Error("key still present after Delete")
		}
		if err := s.Delete(ctx, "gone"); err != nil {
			t.Errorf("Delete missing key: %v", err)
		}
	})

	t.Run("KeysByPrefix", func(t *testing.T) {
		for _, loc := range []string{"es-MX", "en-US"} {
			_ = s.Set(ctx, localstore.CachedLocalizationsKey(loc), []byte("{}"))
			_ = s.Set(ctx, localstore.LocalizationsUpdatedKey(loc), []byte("0"))
		}
		keys, err := s.Keys(ctx, "cachedLocalizations:")
		if err != nil {
			t.Fatalf("Keys: %v", err)
		}
		want := []string{"cachedLocalizations:en-US", "cachedLocalizations:es-MX"}
		if !slices.Equal(keys, want) {
			t.Errorf("Keys = %v, want %v", keys, want)
		}

		n, err := localstore.DeletePrefix(ctx, s, "localizationsUpdated:")
		if err != nil {
			t.Fatalf("DeletePrefix: %v", err)
		}
		if n != 2 {
			t.Errorf("DeletePrefix removed %d, want 2", n)
		}
		left, _ := s.Keys(ctx, "localizationsUpdated:")
		if len(left) != 0 {
			t.Errorf("keys left after DeletePrefix: %v", left)
		}
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		const n = 20
		var wg sync.WaitGroup
		wg.Add(n * 2)
		for i := range n {
			key := fmt.Sprintf("c-%d", i)
			go func() {
				defer wg.Done()
				_ = s.Set(ctx, key, []byte(key))
			}()
			go func() {
				defer wg.Done()
				_, _, _ = s.Get(ctx, key)
			}()
		}
		wg.Wait()
	})
}
