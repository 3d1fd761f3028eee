package incident

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/ccgate/internal/model"
	"github.com/linnemanlabs/ccgate/internal/modelcache"
)

// MeFunc returns the id of the logged-in user.
type MeFunc func(ctx context.Context) (int64, error)

// CurrentUser resolves the logged-in user through the users cache and seeds
// the incident preference from the user's saved states.
type CurrentUser struct {
	me       MeFunc
	users    *modelcache.Cache[model.User]
	resolver *Resolver
	reporter Reporter
}

// NewCurrentUser wires the current-user lookup.
func NewCurrentUser(me MeFunc, users *modelcache.Cache[model.User], resolver *Resolver, reporter Reporter) *CurrentUser {
	return &CurrentUser{me: me, users: users, resolver: resolver, reporter: reporter}
}

// Resolve fetches the logged-in user (from cache when resident) and feeds
// states.incident into the resolver as the preference.
func (c *CurrentUser) Resolve(ctx context.Context) (model.User, error) {
	id, err := c.me(ctx)
	if err != nil {
		if c.reporter != nil {
			c.reporter.Report(ctx, err, "Could not load the current user")
		}
		return model.User{}, fmt.Errorf("current user: %w", err)
	}
	u, err := c.users.Get(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if c.resolver != nil && u.States.Incident != 0 {
		c.resolver.SetPreference(ctx, u.States.Incident)
	}
	return u, nil
}
