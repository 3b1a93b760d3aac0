// Package registry holds the canonical in-memory collection of map markers.
// Identity is the marker pointer; deduplication is by normalized position.
package registry

import (
	"sync"

	"github.com/geodiary/mapcore/internal/geo"
	"github.com/geodiary/mapcore/internal/model/core"
)

// Layer is the rendered map layer kept in lockstep with the registry.
type Layer interface {
	Attach(m *core.Marker)
	Detach(m *core.Marker)
}

// ChangeKind describes a registry mutation
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind   ChangeKind
	Marker *core.Marker
}

// Registry is the canonical marker collection
type Registry struct {
	mu          sync.RWMutex
	markers     []*core.Marker
	byKey       map[string]*core.Marker
	layer       Layer
	subscribers []func(Change)
}

// New creates an empty registry bound to layer. layer may be nil.
func New(layer Layer) *Registry {
	return &Registry{
		byKey: make(map[string]*core.Marker),
		layer: layer,
	}
}

// Subscribe registers fn to be called after every mutation.
func (r *Registry) Subscribe(fn func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Add inserts m. A marker already occupying the same normalized position is
// removed first and returned.
func (r *Registry) Add(m *core.Marker) (evicted *core.Marker) {
	r.mu.Lock()
	var changes []Change
	key := geo.Key(m.Position())
	if prev, ok := r.byKey[key]; ok {
		if prev == m {
			r.mu.Unlock()
			return nil
		}
		r.removeLocked(prev)
		evicted = prev
		changes = append(changes, Change{Kind: Removed, Marker: prev})
	}
	r.markers = append(r.markers, m)
	r.byKey[key] = m
	changes = append(changes, Change{Kind: Added, Marker: m})
	r.mu.Unlock()

	r.publish(changes)
	return evicted
}

// Remove deletes m by identity. It reports whether m was present.
func (r *Registry) Remove(m *core.Marker) bool {
	r.mu.Lock()
	if !r.containsLocked(m) {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(m)
	r.mu.Unlock()

	r.publish([]Change{{Kind: Removed, Marker: m}})
	return true
}

// Replace swaps the whole content for the deduplicated ms.
func (r *Registry) Replace(ms []*core.Marker) {
	unique := Unique(ms)

	r.mu.Lock()
	var changes []Change
	for _, old := range r.markers {
		changes = append(changes, Change{Kind: Removed, Marker: old})
	}
	r.markers = nil
	r.byKey = make(map[string]*core.Marker, len(unique))
	for _, m := range unique {
		r.markers = append(r.markers, m)
		r.byKey[geo.Key(m.Position())] = m
		changes = append(changes, Change{Kind: Added, Marker: m})
	}
	r.mu.Unlock()

	r.publish(changes)
}

// Markers returns the markers in insertion order.
func (r *Registry) Markers() []*core.Marker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Marker, len(r.markers))
	copy(out, r.markers)
	return out
}

// UniqueView returns the deduplicated marker set.
func (r *Registry) UniqueView() []*core.Marker {
	return Unique(r.Markers())
}

// Len returns the number of markers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markers)
}

// Contains reports whether m is a live member.
func (r *Registry) Contains(m *core.Marker) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.containsLocked(m)
}

// At returns the marker occupying pos.
func (r *Registry) At(pos core.Position) (*core.Marker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byKey[geo.Key(pos)]
	return m, ok
}

// Find returns the persisted marker with the given id.
func (r *Registry) Find(id int64) (*core.Marker, bool) {
	if id <= 0 {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.markers {
		if m.ID() == id {
			return m, true
		}
	}
	return nil, false
}

func (r *Registry) containsLocked(m *core.Marker) bool {
	if m == nil {
		return false
	}
	return r.byKey[geo.Key(m.Position())] == m
}

func (r *Registry) removeLocked(m *core.Marker) {
	delete(r.byKey, geo.Key(m.Position()))
	for i, existing := range r.markers {
		if existing == m {
			r.markers = append(r.markers[:i], r.markers[i+1:]...)
			return
		}
	}
}

func (r *Registry) publish(changes []Change) {
	r.mu.RLock()
	subs := make([]func(Change), len(r.subscribers))
	copy(subs, r.subscribers)
	r.mu.RUnlock()

	for _, c := range changes {
		if r.layer != nil {
			switch c.Kind {
			case Added:
				r.layer.Attach(c.Marker)
			case Removed:
				r.layer.Detach(c.Marker)
			}
		}
		for _, fn := range subs {
			fn(c)
		}
	}
}

// Unique deduplicates ms by normalized position. The later marker wins and
// takes the slot where its position first appeared.
func Unique(ms []*core.Marker) []*core.Marker {
	index := make(map[string]int, len(ms))
	out := make([]*core.Marker, 0, len(ms))
	for _, m := range ms {
		if m == nil {
			continue
		}
		key := geo.Key(m.Position())
		if i, ok := index[key]; ok {
			out[i] = m
			continue
		}
		index[key] = len(out)
		out = append(out, m)
	}
	return out
}
