// Package modelcache is the session-wide store of backend entities fetched
// by id. It remembers what it has, shares one in-flight request among
// everyone asking for the same key and drops responses that were
// superseded while in flight.
package modelcache

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// State is where one (model, id) pair is in its fetch lifecycle.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateLoaded  State = "loaded"
	StateErrored State = "errored"
)

// FetchFunc loads one instance from the backend.
type FetchFunc[T any] func(ctx context.Context, id int64) (T, error)

// Status is the observable state of one key. Err is the error slot: set when
// the last fetch failed, cleared by the next success.
type Status struct {
	State     State
	Err       error
	UpdatedAt time.Time
}

// Event is pushed to observers after every state change.
type Event[T any] struct {
	Model string
	ID    int64
	State State
	Value T
	Err   error
}

// Reporter receives fetch failures for the user-visible notification channel.
type Reporter interface {
	Report(ctx context.Context, err error, msg string)
}

// Hooks are optional callbacks for instrumentation.
type Hooks struct {
	OnHit   func(model string)
	OnFetch func(model, outcome string, seconds float64)
	OnStale func(model string)
}

type entry[T any] struct {
	value T
	has   bool
	stale bool
	state State
	err   error
	gen   uint64
	at    time.Time
}

// Cache holds instances of one model keyed by id.
type Cache[T any] struct {
	model    string
	fetch    FetchFunc[T]
	logger   log.Logger
	reporter Reporter
	hooks    Hooks

	mu      sync.Mutex
	entries map[int64]*entry[T]
	queued  []Event[T]

	// held while observers run so they see events in mutation order
	notifyMu  sync.Mutex
	observers map[int]func(Event[T])
	nextObs   int

	group singleflight.Group
	bg    sync.WaitGroup
}

// Options configures a Cache.
type Options struct {
	Logger   log.Logger
	Reporter Reporter
	Hooks    Hooks
}

// New creates a cache for model backed by fetch.
func New[T any](model string, fetch FetchFunc[T], opts Options) *Cache[T] {
	if fetch == nil {
		panic(xerrors.New("modelcache: fetch func is required"))
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Cache[T]{
		model:     model,
		fetch:     fetch,
		logger:    opts.Logger.With("model", model),
		reporter:  opts.Reporter,
		hooks:     opts.Hooks,
		entries:   make(map[int64]*entry[T]),
		observers: make(map[int]func(Event[T])),
	}
}

// Model is the model name this cache serves.
func (c *Cache[T]) Model() string { return c.model }

// Subscribe registers fn for state changes and returns a function removing
// it. Observers run synchronously in mutation order. They may read the cache
// with Peek or Status but must not mutate it or subscribe.
func (c *Cache[T]) Subscribe(fn func(Event[T])) func() {
	c.notifyMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.notifyMu.Unlock()
	return func() {
		c.notifyMu.Lock()
		delete(c.observers, id)
		c.notifyMu.Unlock()
	}
}

// Get returns the resident instance for id, fetching it when it is missing,
// stale or errored. Concurrent callers share one fetch.
func (c *Cache[T]) Get(ctx context.Context, id int64) (T, error) {
	c.mu.Lock()
	e := c.entryLocked(id)
	if e.has && !e.stale && e.state != StateLoading {
		v := e.value
		c.mu.Unlock()
		if c.hooks.OnHit != nil {
			c.hooks.OnHit(c.model)
		}
		return v, nil
	}
	gen := e.gen
	var ev *Event[T]
	if e.state != StateLoading {
		e.state = StateLoading
		e.at = time.Now()
		ev = &Event[T]{Model: c.model, ID: id, State: StateLoading, Value: e.value}
	}
	ch := c.group.DoChan(flightKey(id, gen), func() (any, error) {
		return c.run(context.WithoutCancel(ctx), id, gen)
	})
	c.notifyAndUnlock(ev)

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Load requests id in the background unless it is already resident. It never
// reports failure to the caller; watch Status or Subscribe instead.
func (c *Cache[T]) Load(ctx context.Context, id int64) {
	c.mu.Lock()
	e, ok := c.entries[id]
	resident := ok && e.has && !e.stale
	c.mu.Unlock()
	if resident {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		_, _ = c.Get(context.WithoutCancel(ctx), id)
	}()
}

// Refresh supersedes any in-flight request for id and fetches it again.
func (c *Cache[T]) Refresh(ctx context.Context, id int64) (T, error) {
	c.mu.Lock()
	e := c.entryLocked(id)
	e.gen++
	e.stale = true
	if e.state == StateLoading {
		// the superseded flight will find its generation outdated
		e.state = StateIdle
	}
	c.mu.Unlock()
	return c.Get(ctx, id)
}

// Invalidate marks id stale so the next Get fetches it again. The old value
// stays visible through Peek until then.
func (c *Cache[T]) Invalidate(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return
	}
	e.gen++
	e.stale = true
	if e.state == StateLoading {
		e.state = StateIdle
	}
}

// Put merges v into the cache as the current value of id, superseding any
// in-flight fetch.
func (c *Cache[T]) Put(id int64, v T) {
	c.mu.Lock()
	e := c.entryLocked(id)
	e.gen++
	e.value, e.has, e.stale = v, true, false
	e.state, e.err, e.at = StateLoaded, nil, time.Now()
	c.notifyAndUnlock(&Event[T]{Model: c.model, ID: id, State: StateLoaded, Value: v})
}

// Peek returns the resident value for id without fetching.
func (c *Cache[T]) Peek(id int64) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || !e.has {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Status reports the lifecycle state and error slot of id.
func (c *Cache[T]) Status(id int64) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return Status{State: StateIdle}
	}
	return Status{State: e.state, Err: e.err, UpdatedAt: e.at}
}

// Wait blocks until background loads started by Load have finished.
func (c *Cache[T]) Wait() {
	c.bg.Wait()
}

// run performs one fetch for generation gen and records its outcome unless
// the generation was superseded meanwhile.
func (c *Cache[T]) run(ctx context.Context, id int64, gen uint64) (T, error) {
	start := time.Now()
	v, err := c.fetch(ctx, id)
	dur := time.Since(start).Seconds()

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if c.hooks.OnFetch != nil {
		c.hooks.OnFetch(c.model, outcome, dur)
	}

	c.mu.Lock()
	e := c.entryLocked(id)
	if e.gen != gen {
		c.mu.Unlock()
		if c.hooks.OnStale != nil {
			c.hooks.OnStale(c.model)
		}
		c.logger.Info(ctx, "dropping superseded response", "id", id, "generation", gen)
		return v, err
	}

	var ev Event[T]
	if err != nil {
		e.state, e.err, e.at = StateErrored, err, time.Now()
		ev = Event[T]{Model: c.model, ID: id, State: StateErrored, Value: e.value, Err: err}
	} else {
		e.value, e.has, e.stale = v, true, false
		e.state, e.err, e.at = StateLoaded, nil, time.Now()
		ev = Event[T]{Model: c.model, ID: id, State: StateLoaded, Value: v}
	}
	c.notifyAndUnlock(&ev)

	if err != nil {
		c.logger.Error(ctx, err, "fetch failed", "id", id)
		if c.reporter != nil {
			c.reporter.Report(ctx, err, fmt.Sprintf("Could not load %s %d", c.model, id))
		}
		return v, fmt.Errorf("fetch %s %d: %w", c.model, id, err)
	}
	return v, nil
}

// entryLocked returns the entry for id, creating an idle one. Caller holds c.mu.
func (c *Cache[T]) entryLocked(id int64) *entry[T] {
	e, ok := c.entries[id]
	if !ok {
		e = &entry[T]{state: StateIdle}
		c.entries[id] = e
	}
	return e
}

// notifyAndUnlock queues ev (if any) in mutation order, releases c.mu and
// drains the queue to observers.
func (c *Cache[T]) notifyAndUnlock(ev *Event[T]) {
	if ev != nil {
		c.queued = append(c.queued, *ev)
	}
	c.mu.Unlock()
	if ev != nil {
		c.flush()
	}
}

// flush delivers queued events under notifyMu. c.mu is only held to pop an
// event, never while waiting for notifyMu.
func (c *Cache[T]) flush() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for {
		c.mu.Lock()
		if len(c.queued) == 0 {
			c.mu.Unlock()
			return
		}
		ev := c.queued[0]
		c.queued = c.queued[1:]
		c.mu.Unlock()

		for _, id := range slices.Sorted(maps.Keys(c.observers)) {
			c.observers[id](ev)
		}
	}
}

func flightKey(id int64, gen uint64) string {
	return strconv.FormatInt(id, 10) + "/" + strconv.FormatUint(gen, 10)
}
