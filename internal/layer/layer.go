// Package layer is the rendered marker layer: what the map draws, derived from
// the registry and the selection.
package layer

import (
	"sync"

	"github.com/geodiary/mapcore/internal/geo"
	"github.com/geodiary/mapcore/internal/model/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Size is an icon size class
type Size string

const (
	Small  Size = "s"
	Medium Size = "m"
	Large  Size = "l"
)

// Pixels returns the edge length of the icon.
func (s Size) Pixels() int {
	switch s {
	case Small:
		return 18
	case Large:
		return 38
	default:
		return 34
	}
}

// Icon is the visual representation of a marker
type Icon struct {
	URL      string
	Size     Size
	Animated bool
}

// Feature is one drawn marker.
type Feature struct {
	Marker  *core.Marker
	Icon    Icon
	Tooltip string
	Point   geom.Point // EPSG:3857, empty when the position has no projection
}

// Memory is an in-process layer. A renderer reads Features() after each
// interaction.
type Memory struct {
	mu       sync.RWMutex
	order    []*core.Marker
	features map[*core.Marker]*Feature
}

// NewMemory creates an empty layer.
func NewMemory() *Memory {
	return &Memory{
		features: make(map[*core.Marker]*Feature),
	}
}

// Attach draws m. Attaching twice is a no-op. A marker whose position cannot
// be projected is still attached, with an empty point.
func (l *Memory) Attach(m *core.Marker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.features[m]; ok {
		return
	}
	point, err := geo.Point3857(m.Position())
	if err != nil {
		point = geom.NewEmptyPoint(geom.DimXY)
	}
	l.features[m] = &Feature{
		Marker: m,
		Point:  point,
	}
	l.order = append(l.order, m)
}

// Detach removes m from the layer.
func (l *Memory) Detach(m *core.Marker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.features[m]; !ok {
		return
	}
	delete(l.features, m)
	for i, existing := range l.order {
		if existing == m {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// SetIcon changes the icon of an attached marker. It reports whether m is attached.
func (l *Memory) SetIcon(m *core.Marker, icon Icon) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.features[m]
	if !ok {
		return false
	}
	f.Icon = icon
	return true
}

// Icon returns the current icon of m.
func (l *Memory) Icon(m *core.Marker) (Icon, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.features[m]
	if !ok {
		return Icon{}, false
	}
	return f.Icon, true
}

// Has reports whether m is drawn.
func (l *Memory) Has(m *core.Marker) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.features[m]
	return ok
}

// Len returns the number of drawn markers.
func (l *Memory) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Features returns a copy of the drawn markers in attach order. Tooltips are
// derived from the markers' current fields.
func (l *Memory) Features() []Feature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Feature, 0, len(l.order))
	for _, m := range l.order {
		f := *l.features[m]
		f.Tooltip = m.Label()
		out = append(out, f)
	}
	return out
}
