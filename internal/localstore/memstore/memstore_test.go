package memstore

import (
	"context"
	"testing"

	"github.com/linnemanlabs/ccgate/internal/localstore/storetest"
)

func TestStore_Contract(t *testing.T) {
	t.Parallel()
	storetest.Run(t, New())
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	in := []byte("abc")
	_ = s.Set(ctx, "k", in)
	in[0] = 'x'

	got, _, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("value = %q, want %q (Set must copy)", got, "abc")
	}
	got[1] = 'y'
	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("value = %q, want %q (Get must copy)", again, "abc")
	}
}
