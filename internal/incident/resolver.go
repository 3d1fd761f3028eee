// Package incident reconciles the route, the user's stored preference and
// the store default into the one incident the session is working on.
package incident

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/linnemanlabs/go-core/log"
)

// Source names where the current incident id came from.
type Source string

const (
	SourceNone       Source = ""
	SourceExplicit   Source = "explicit"
	SourceRoute      Source = "route"
	SourcePreference Source = "preference"
	SourceDefault    Source = "default"
)

// Resolution is the current incident and the input that decided it.
type Resolution struct {
	ID     int64  `json:"incident_id"`
	Source Source `json:"source"`
}

// PreferenceStore persists the user's incident preference.
type PreferenceStore interface {
	SaveIncidentPreference(ctx context.Context, incidentID int64) error
}

// Reporter receives persistence failures for the notification channel.
type Reporter interface {
	Report(ctx context.Context, err error, msg string)
}

// Options configures a Resolver.
type Options struct {
	Logger   log.Logger
	Reporter Reporter
	Default  int64
}

// Resolver holds the inputs of current-incident resolution. An id of 0
// means the input is unset.
type Resolver struct {
	prefs    PreferenceStore
	logger   log.Logger
	reporter Reporter

	mu         sync.Mutex
	pending    int64
	selectSeq  uint64
	route      int64
	preference int64
	def        int64
	current    Resolution
	// changes not yet delivered, in the order they happened
	queued []Resolution

	notifyMu  sync.Mutex
	observers map[int]func(Resolution)
	nextObs   int

	writeMu  sync.Mutex
	writeSeq uint64
	wg       sync.WaitGroup
}

// NewResolver returns a Resolver writing preferences to prefs.
func NewResolver(prefs PreferenceStore, opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	r := &Resolver{
		prefs:     prefs,
		logger:    opts.Logger,
		reporter:  opts.Reporter,
		def:       opts.Default,
		observers: make(map[int]func(Resolution)),
	}
	r.current = r.resolveLocked()
	return r
}

// Current returns the resolved incident.
func (r *Resolver) Current() Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Subscribe registers fn for changes of the resolved incident and returns a
// function removing it. Observers run after the change, in change order, and
// may call Current but must not mutate the resolver or subscribe.
func (r *Resolver) Subscribe(fn func(Resolution)) func() {
	r.notifyMu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	r.notifyMu.Unlock()
	return func() {
		r.notifyMu.Lock()
		delete(r.observers, id)
		r.notifyMu.Unlock()
	}
}

// SetRoute records the incident id carried by the current route. When it
// differs from the stored preference the preference is rewritten in the
// background to follow the route.
func (r *Resolver) SetRoute(ctx context.Context, id int64) Resolution {
	r.mu.Lock()
	r.route = id
	follow := id != 0 && id != r.preference
	var wseq uint64
	if follow {
		r.preference = id
		wseq = r.reserveWriteLocked()
	}
	res := r.updateAndUnlock()
	if follow {
		r.persist(ctx, id, wseq)
	}
	return res
}

// SetPreference records the preference loaded from the user profile. A
// route that disagrees wins and is written back.
func (r *Resolver) SetPreference(ctx context.Context, id int64) Resolution {
	r.mu.Lock()
	r.preference = id
	route := r.route
	follow := route != 0 && route != id
	var wseq uint64
	if follow {
		r.preference = route
		wseq = r.reserveWriteLocked()
	}
	res := r.updateAndUnlock()
	if follow {
		r.persist(ctx, route, wseq)
	}
	return res
}

// SetDefault records the store-resident fallback.
func (r *Resolver) SetDefault(id int64) Resolution {
	r.mu.Lock()
	r.def = id
	return r.updateAndUnlock()
}

// Select is an explicit user choice of incident. It takes effect at once,
// counts as navigation to id and holds precedence until its preference write
// finishes. A newer Select supersedes an older one; only the newest clears
// the in-flight slot.
func (r *Resolver) Select(ctx context.Context, id int64) Resolution {
	r.mu.Lock()
	r.selectSeq++
	seq := r.selectSeq
	r.pending = id
	r.route = id
	wseq := r.reserveWriteLocked()
	res := r.updateAndUnlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx := context.WithoutCancel(ctx)
		saved, _ := r.write(ctx, id, wseq)

		r.mu.Lock()
		if seq != r.selectSeq {
			r.mu.Unlock()
			return
		}
		r.pending = 0
		if saved {
			r.preference = id
		}
		r.updateAndUnlock()
	}()
	return res
}

// Wait blocks until background preference writes have finished.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

// persist writes id as the preference in the background.
func (r *Resolver) persist(ctx context.Context, id int64, seq uint64) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _ = r.write(context.WithoutCancel(ctx), id, seq)
	}()
}

// reserveWriteLocked orders a preference write at the moment its change is
// made. Caller holds r.mu.
func (r *Resolver) reserveWriteLocked() uint64 {
	r.writeSeq++
	return r.writeSeq
}

// write saves id unless a newer write was reserved meanwhile and reports
// whether it did. Failures are logged and reported, never returned to a
// caller that is navigating.
func (r *Resolver) write(ctx context.Context, id int64, seq uint64) (bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	superseded := seq != r.writeSeq
	r.mu.Unlock()
	if superseded || r.prefs == nil {
		return false, nil
	}

	if err := r.prefs.SaveIncidentPreference(ctx, id); err != nil {
		r.logger.Error(ctx, err, "saving incident preference failed", "incident_id", id)
		if r.reporter != nil {
			r.reporter.Report(ctx, err, fmt.Sprintf("Could not save incident %d as your current incident", id))
		}
		return false, err
	}
	r.logger.Info(ctx, "incident preference saved", "incident_id", id)
	return true, nil
}

func (r *Resolver) resolveLocked() Resolution {
	switch {
	case r.pending != 0:
		return Resolution{ID: r.pending, Source: SourceExplicit}
	case r.route != 0:
		return Resolution{ID: r.route, Source: SourceRoute}
	case r.preference != 0:
		return Resolution{ID: r.preference, Source: SourcePreference}
	case r.def != 0:
		return Resolution{ID: r.def, Source: SourceDefault}
	}
	return Resolution{}
}

// updateAndUnlock recomputes the resolution, releases r.mu and delivers the
// change to observers if the resolved id changed.
func (r *Resolver) updateAndUnlock() Resolution {
	next := r.resolveLocked()
	changed := next.ID != r.current.ID
	r.current = next
	if changed {
		r.queued = append(r.queued, next)
	}
	r.mu.Unlock()
	if changed {
		r.deliver()
	}
	return next
}

// deliver drains queued changes to observers under notifyMu. r.mu is only
// taken briefly to pop, never while waiting for notifyMu, so observers may
// read the resolver.
func (r *Resolver) deliver() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	for {
		r.mu.Lock()
		if len(r.queued) == 0 {
			r.mu.Unlock()
			return
		}
		next := r.queued[0]
		r.queued = r.queued[1:]
		r.mu.Unlock()

		for _, id := range slices.Sorted(maps.Keys(r.observers)) {
			r.observers[id](next)
		}
	}
}
