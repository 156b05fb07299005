package mbe

import (
	"sort"
	"sync"
	"time"
)

// Results is the latest value of every decoded variable. It is shared by the
// poll loop and readers such as the web feed.
type Results struct {
	mu      sync.RWMutex
	values  map[string]*DecodedValue
	updated time.Time
}

func NewResults() *Results {
	return &Results{values: make(map[string]*DecodedValue)}
}

// Merge stores vals. A name seen before only has its value and raw field
// replaced; the description and units stay as first recorded.
func (r *Results) Merge(vals []DecodedValue) {
	if len(vals) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range vals {
		if cur, ok := r.values[v.Name]; ok {
			cur.Value = v.Value
			cur.Raw = v.Raw
			continue
		}
		v := v
		r.values[v.Name] = &v
	}
	r.updated = time.Now()
}

// Get returns the current value for name.
func (r *Results) Get(name string) (DecodedValue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[name]
	if !ok {
		return DecodedValue{}, false
	}
	return *v, true
}

// Snapshot copies every value, sorted by name.
func (r *Results) Snapshot() []DecodedValue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DecodedValue, 0, len(r.values))
	for _, v := range r.values {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Updated is the time of the last merge that changed anything.
func (r *Results) Updated() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updated
}

func (r *Results) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}
