package modelcache

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	teams := New("teams", func(_ context.Context, id int64) (string, error) {
		return "team", nil
	}, Options{})
	roles := New("roles", func(_ context.Context, id int64) (int, error) {
		return int(id) * 10, nil
	}, Options{})
	r := NewRegistry(teams, roles)
	ctx := context.Background()

	if diff := cmp.Diff([]string{"roles", "teams"}, r.Models()); diff != "" {
		t.Errorf("Models mismatch (-want +got):\n%s", diff)
	}

	v, err := r.Get(ctx, "roles", 3)
	if err != nil || v != 30 {
		t.Fatalf("Get(roles, 3) = %v, %v", v, err)
	}
	if _, err := r.Get(ctx, "spaceships", 1); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Get(unknown) err = %v, want ErrUnknownModel", err)
	}

	if !r.Invalidate("roles", 3) {
		t.Error("Invalidate(roles) = false")
	}
	if r.Invalidate("spaceships", 3) {
		t.Error("Invalidate(unknown) = true")
	}

	_, _ = teams.Get(ctx, 1)
	r.ClearAll()
	if _, ok := teams.Peek(1); ok {
		t.Error("teams still resident after ClearAll")
	}
	if st := roles.Status(3); st.State != StateIdle {
		t.Errorf("roles state after ClearAll = %s", st.State)
	}
}
