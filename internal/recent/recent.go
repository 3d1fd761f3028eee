// Package recent keeps the short list of worksites a user opened most
// recently, persisted to local storage so it survives restarts.
package recent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/ccgate/internal/localstore"
	"github.com/linnemanlabs/ccgate/internal/model"
)

// DefaultLimit is how many worksites are kept when Options.Limit is unset.
const DefaultLimit = 4

// Entry is one remembered worksite and when it was last added, in epoch
// milliseconds.
type Entry struct {
	Worksite  model.Worksite `json:"worksite"`
	Timestamp int64          `json:"timestamp"`
}

// Options configures a Store.
type Options struct {
	Limit  int
	Key    string
	Now    func() time.Time
	Logger log.Logger
}

// Store is an ordered id to Entry mapping bounded by a limit. Iteration
// follows insertion order; eviction removes the oldest timestamps.
type Store struct {
	mu      sync.Mutex
	kv      localstore.Store
	key     string
	limit   int
	now     func() time.Time
	logger  log.Logger
	order   []string
	entries map[string]Entry
}

// Open returns a Store backed by kv, rehydrated from whatever was persisted.
// An unreadable blob is logged and discarded rather than failing startup.
func Open(ctx context.Context, kv localstore.Store, opts Options) (*Store, error) {
	if kv == nil {
		return nil, errors.New("recent: local store is required")
	}
	s := &Store{
		kv:      kv,
		key:     opts.Key,
		limit:   opts.Limit,
		now:     opts.Now,
		logger:  opts.Logger,
		entries: make(map[string]Entry),
	}
	if s.key == "" {
		s.key = localstore.KeyRecentWorksites
	}
	if s.limit <= 0 {
		s.limit = DefaultLimit
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = log.Nop()
	}

	raw, ok, err := kv.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("recent: load: %w", err)
	}
	if !ok {
		return s, nil
	}
	order, entries, err := decode(raw)
	if err != nil {
		s.logger.Warn(ctx, "discarding unreadable recent worksites", "key", s.key, "error", err)
		return s, nil
	}
	s.order, s.entries = order, entries
	if s.trim() > 0 {
		if err := s.persist(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add records w as just visited. When this pushes the store over its limit
// the entries with the oldest timestamps are evicted until it fits again.
func (s *Store) Add(ctx context.Context, w model.Worksite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strconv.FormatInt(w.ID, 10)
	if _, ok := s.entries[id]; !ok {
		s.order = append(s.order, id)
	}
	s.entries[id] = Entry{Worksite: w, Timestamp: s.now().UnixMilli()}
	s.trim()
	return s.persist(ctx)
}

// Get returns the entry for worksite id.
func (s *Store) Get(id int64) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[strconv.FormatInt(id, 10)]
	return e, ok
}

// Delete forgets worksite id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strconv.FormatInt(id, 10)
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	s.order = slices.DeleteFunc(s.order, func(k string) bool { return k == key })
	return s.persist(ctx)
}

// Clear forgets everything and persists the empty mapping immediately.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.entries = make(map[string]Entry)
	return s.persist(ctx)
}

// List returns a copy of the entries in insertion order.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

// Len is the number of remembered worksites.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Limit is the configured bound.
func (s *Store) Limit() int {
	return s.limit
}

// trim evicts oldest-timestamp entries until len <= limit and returns how
// many it removed. Equal timestamps evict the earlier inserted entry first.
// Caller holds s.mu.
func (s *Store) trim() int {
	removed := 0
	for len(s.order) > s.limit {
		oldest := 0
		for i := 1; i < len(s.order); i++ {
			if s.entries[s.order[i]].Timestamp < s.entries[s.order[oldest]].Timestamp {
				oldest = i
			}
		}
		delete(s.entries, s.order[oldest])
		s.order = slices.Delete(s.order, oldest, oldest+1)
		removed++
	}
	return removed
}

// persist writes the whole mapping. Caller holds s.mu.
func (s *Store) persist(ctx context.Context) error {
	raw, err := encode(s.order, s.entries)
	if err != nil {
		return fmt.Errorf("recent: encode: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, raw); err != nil {
		return fmt.Errorf("recent: persist: %w", err)
	}
	return nil
}

// encode writes the mapping as a JSON object whose member order is the
// insertion order.
func encode(order []string, entries map[string]Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(entries[id])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decode reads a JSON object of entries keeping member order.
func decode(raw []byte) ([]string, map[string]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("expected object, got %v", tok)
	}

	var order []string
	entries := make(map[string]Entry)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		id, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected key, got %v", tok)
		}
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, nil, fmt.Errorf("entry %s: %w", id, err)
		}
		if _, dup := entries[id]; !dup {
			order = append(order, id)
		}
		entries[id] = e
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return order, entries, nil
}
