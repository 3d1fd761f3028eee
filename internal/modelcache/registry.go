package modelcache

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ErrUnknownModel is returned by Registry lookups for unregistered models.
var ErrUnknownModel = errors.New("unknown model")

// Entity is the model-agnostic view of a Cache used where the model is only
// known at runtime.
type Entity interface {
	Model() string
	GetAny(ctx context.Context, id int64) (any, error)
	PeekAny(id int64) (any, bool)
	Load(ctx context.Context, id int64)
	Invalidate(id int64)
	Status(id int64) Status
	Clear()
	Wait()
}

// GetAny is Get without the type parameter.
func (c *Cache[T]) GetAny(ctx context.Context, id int64) (any, error) {
	return c.Get(ctx, id)
}

// PeekAny is Peek without the type parameter.
func (c *Cache[T]) PeekAny(id int64) (any, bool) {
	return c.Peek(id)
}

// Clear forgets every entry. In-flight fetches complete but are discarded.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	// entries keep a bumped generation so running flights are discarded
	for id, e := range c.entries {
		c.entries[id] = &entry[T]{state: StateIdle, gen: e.gen + 1}
	}
}

// Registry indexes caches by model name.
type Registry struct {
	mu     sync.RWMutex
	caches map[string]Entity
}

// NewRegistry returns a registry holding caches.
func NewRegistry(caches ...Entity) *Registry {
	r := &Registry{caches: make(map[string]Entity, len(caches))}
	for _, c := range caches {
		r.Register(c)
	}
	return r
}

// Register adds c, replacing any cache with the same model name.
func (r *Registry) Register(c Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches[c.Model()] = c
}

// Lookup returns the cache for model.
func (r *Registry) Lookup(model string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caches[model]
	return c, ok
}

// Get fetches (model, id) through the matching cache.
func (r *Registry) Get(ctx context.Context, model string, id int64) (any, error) {
	c, ok := r.Lookup(model)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	return c.GetAny(ctx, id)
}

// Invalidate marks (model, id) stale. Unknown models are ignored.
func (r *Registry) Invalidate(model string, id int64) bool {
	c, ok := r.Lookup(model)
	if !ok {
		return false
	}
	c.Invalidate(id)
	return true
}

// Models lists registered model names, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.caches))
}

// ClearAll empties every registered cache.
func (r *Registry) ClearAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.caches {
		c.Clear()
	}
}

// Wait blocks until background loads of every registered cache finish.
func (r *Registry) Wait() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.caches {
		c.Wait()
	}
}
