package incident

import (
	"context"
	"errors"
	"testing"

	"github.com/linnemanlabs/ccgate/internal/model"
	"github.com/linnemanlabs/ccgate/internal/modelcache"
)

func TestCurrentUser_SeedsPreference(t *testing.T) {
	t.Parallel()

	users := modelcache.New(model.Users, func(_ context.Context, id int64) (model.User, error) {
		return model.User{ID: id, FirstName: "Ana", States: model.UserStates{Incident: 151}}, nil
	}, modelcache.Options{})
	prefs := &fakePrefs{}
	r := NewResolver(prefs, Options{})
	cu := NewCurrentUser(func(context.Context) (int64, error) { return 12, nil }, users, r, nil)

	u, err := cu.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r.Wait()

	if u.ID != 12 {
		t.Errorf("user id = %d, want 12", u.ID)
	}
	if got := r.Current(); got.ID != 151 || got.Source != SourcePreference {
		t.Errorf("Current = %+v, want preference 151", got)
	}
	if _, ok := users.Peek(12); !ok {
		t.Error("user not resident in cache")
	}
	if n := len(prefs.saved()); n != 0 {
		t.Errorf("writes = %d, want 0 with no route set", n)
	}
}

func TestCurrentUser_MeFailureReported(t *testing.T) {
	t.Parallel()

	users := modelcache.New(model.Users, func(context.Context, int64) (model.User, error) {
		t.Error("users fetch called without an id")
		return model.User{}, nil
	}, modelcache.Options{})
	rep := &fakeReporter{}
	boom := errors.New("401 unauthorized")
	cu := NewCurrentUser(func(context.Context) (int64, error) { return 0, boom }, users, nil, rep)

	if _, err := cu.Resolve(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(rep.msgs) != 1 {
		t.Errorf("reports = %v, want one", rep.msgs)
	}
}
