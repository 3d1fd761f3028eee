package filters

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
)

// Set holds the active filters of one search view, keyed by filter name.
type Set map[string]*Filter

// Add registers f under its name, replacing any filter with the same name.
func (s Set) Add(f *Filter) {
	s[f.Name] = f
}

// names returns the filter names in a stable order so merges are
// deterministic.
func (s Set) names() []string {
	return slices.Sorted(maps.Keys(s))
}

// Query merges the packed parameters of every filter into one set of query
// values. When two filters emit the same parameter the later name wins.
func (s Set) Query() (url.Values, error) {
	q := url.Values{}
	for _, name := range s.names() {
		packed, err := s[name].Pack()
		if err != nil {
			return nil, err
		}
		for k, v := range packed {
			q.Set(k, v)
		}
	}
	return q, nil
}

// Count is the number of active fields across all filters.
func (s Set) Count() (int, error) {
	total := 0
	for _, name := range s.names() {
		n, err := s[name].Count()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Labels returns the chip labels of every filter, grouped by filter name.
// Filters with nothing active are left out.
func (s Set) Labels(lc LabelContext) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string, len(s))
	for _, name := range s.names() {
		labels, err := s[name].Labels(lc)
		if err != nil {
			return nil, err
		}
		if len(labels) > 0 {
			out[name] = labels
		}
	}
	return out, nil
}

// RemoveField removes one chip from the named filter and drops the filter
// once nothing in it is active.
func (s Set) RemoveField(name, id string) error {
	f, ok := s[name]
	if !ok {
		return nil
	}
	if err := f.RemoveField(id); err != nil {
		return err
	}
	n, err := f.Count()
	if err != nil {
		return err
	}
	if n == 0 {
		delete(s, name)
	}
	return nil
}

// Prune drops every filter whose count is zero.
func (s Set) Prune() error {
	for _, name := range s.names() {
		n, err := s[name].Count()
		if err != nil {
			return fmt.Errorf("prune %q: %w", name, err)
		}
		if n == 0 {
			delete(s, name)
		}
	}
	return nil
}
