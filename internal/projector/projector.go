// Package projector derives marker icons from the registry content, the
// current selection and the viewer.
package projector

import (
	"sync"

	"github.com/geodiary/mapcore/internal/layer"
	"github.com/geodiary/mapcore/internal/model/core"
	"github.com/geodiary/mapcore/internal/registry"
)

const (
	SelectedIconURL = "/images/marker/selected.png"
	DefaultIconURL  = "/images/marker/notSelected.png"
)

// IconState is the icon a marker should be drawn with.
type IconState struct {
	Marker *core.Marker
	Icon   layer.Icon
}

// IconFor returns the icon of a single marker.
func IconFor(m *core.Marker, selected bool, viewerAvatar string) layer.Icon {
	if selected {
		return layer.Icon{URL: SelectedIconURL, Size: layer.Medium, Animated: true}
	}
	if m.Owner != nil && m.Owner.AvatarURL != "" && m.Owner.AvatarURL != viewerAvatar {
		return layer.Icon{URL: m.Owner.AvatarURL, Size: layer.Small}
	}
	return layer.Icon{URL: DefaultIconURL, Size: layer.Medium}
}

// Project computes the icon of every marker.
func Project(markers []*core.Marker, selected *core.Marker, viewer core.Auth) []IconState {
	avatar := viewer.AvatarURL()
	out := make([]IconState, 0, len(markers))
	for _, m := range markers {
		out = append(out, IconState{Marker: m, Icon: IconFor(m, m == selected, avatar)})
	}
	return out
}

// Target receives icon updates.
type Target interface {
	SetIcon(m *core.Marker, icon layer.Icon) bool
}

// Projector keeps a Target's icons in sync with the selection.
type Projector struct {
	target Target

	mu       sync.Mutex
	viewer   core.Auth
	selected *core.Marker
}

// New creates a projector writing to target.
func New(target Target) *Projector {
	return &Projector{target: target}
}

// SetViewer changes whose avatar counts as "own". Icons are not recomputed
// until the next Render.
func (p *Projector) SetViewer(viewer core.Auth) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewer = viewer
}

// Selected returns the marker currently drawn as selected.
func (p *Projector) Selected() *core.Marker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// Select draws m as selected and restores the icon of the previously
// selected marker. A nil m clears the selection.
func (p *Projector) Select(m *core.Marker) {
	p.mu.Lock()
	previous := p.selected
	p.selected = m
	avatar := p.viewer.AvatarURL()
	p.mu.Unlock()

	if previous != nil && previous != m {
		p.target.SetIcon(previous, IconFor(previous, false, avatar))
	}
	if m != nil {
		p.target.SetIcon(m, IconFor(m, true, avatar))
	}
}

// OnChange is a registry subscriber. Added markers get their icon; removing
// the selected marker drops the selection.
func (p *Projector) OnChange(c registry.Change) {
	p.mu.Lock()
	avatar := p.viewer.AvatarURL()
	selected := p.selected
	if c.Kind == registry.Removed && c.Marker == selected {
		p.selected = nil
	}
	p.mu.Unlock()

	if c.Kind == registry.Added {
		p.target.SetIcon(c.Marker, IconFor(c.Marker, c.Marker == selected, avatar))
	}
}

// Render recomputes every icon.
func (p *Projector) Render(markers []*core.Marker) []IconState {
	p.mu.Lock()
	states := Project(markers, p.selected, p.viewer)
	p.mu.Unlock()

	for _, s := range states {
		p.target.SetIcon(s.Marker, s.Icon)
	}
	return states
}
