// internal/model/core/marker.go
package core

import (
	"fmt"
	"slices"
	"strings"
)

// MaxImages is the most images a persisted marker can carry.
const MaxImages = 4

// Marker is a point of interest on the map.
// Position and Weather are fixed at construction; the id moves from 0 to a
// server-assigned value exactly once.
type Marker struct {
	id       int64
	position Position

	Title       string
	Description string
	Category    string
	Public      bool

	ImageURLs []string
	Images    []LocalImage

	Weather *WeatherSnapshot
	Owner   *Owner
}

// NewMarker creates a marker at pos. Visibility defaults to public.
func NewMarker(id int64, pos Position) *Marker {
	return &Marker{
		id:       id,
		position: pos,
		Public:   true,
	}
}

// ID returns the server id, or 0 for a local draft.
func (m *Marker) ID() int64 {
	return m.id
}

// Position returns the marker coordinate.
func (m *Marker) Position() Position {
	return m.position
}

// State reports whether the marker exists on the server.
func (m *Marker) State() LifecycleState {
	if m.id > 0 {
		return Persisted
	}
	return LocalDraft
}

// AssignID records the id handed out by the backend.
func (m *Marker) AssignID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("invalid marker id %d", id)
	}
	if m.id != 0 {
		return fmt.Errorf("marker already persisted with id %d", m.id)
	}
	m.id = id
	return nil
}

// Snapshot copies the editable fields into a working copy.
func (m *Marker) Snapshot() EditSnapshot {
	return EditSnapshot{
		Title:       m.Title,
		Description: m.Description,
		Category:    m.Category,
		Public:      m.Public,
		ImageURLs:   slices.Clone(m.ImageURLs),
		Images:      slices.Clone(m.Images),
	}
}

// Label is the short text shown next to the marker icon.
func (m *Marker) Label() string {
	const maxLen = 15
	switch {
	case m.Title != "":
		return truncate(m.Title, maxLen)
	case m.Weather != nil && m.Weather.Location != "":
		first, _, _ := strings.Cut(m.Weather.Location, ",")
		return truncate(first, maxLen)
	default:
		return "Untitled marker"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
