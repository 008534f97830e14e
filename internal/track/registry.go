package track

import (
	"sort"
	"sync/atomic"
)

// Registry holds the current set of line indexes. Readers never block; a
// reload replaces the whole set at once.
type Registry struct {
	lines atomic.Pointer[map[string]*Index]
}

func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]*Index{}
	r.lines.Store(&empty)
	return r
}

// Swap installs a new set of indexes and returns how many lines it holds.
func (r *Registry) Swap(lines map[string]*Index) int {
	m := make(map[string]*Index, len(lines))
	for id, ix := range lines {
		if ix != nil {
			m[id] = ix
		}
	}
	r.lines.Store(&m)
	return len(m)
}

func (r *Registry) Get(lineID string) (*Index, bool) {
	ix, ok := (*r.lines.Load())[lineID]
	return ix, ok
}

// Lines returns the registered line identifiers in sorted order.
func (r *Registry) Lines() []string {
	m := *r.lines.Load()
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
