package core

import (
	"slices"
	"sort"
)

// EditSnapshot is the uncommitted copy of a marker's editable fields.
type EditSnapshot struct {
	Title       string
	Description string
	Category    string
	Public      bool
	ImageURLs   []string
	Images      []LocalImage
}

// Differs reports whether s changes anything relative to m.
func (s EditSnapshot) Differs(m *Marker) bool {
	return m.Title != s.Title ||
		m.Description != s.Description ||
		m.Category != s.Category ||
		m.Public != s.Public ||
		!slices.Equal(m.ImageURLs, s.ImageURLs) ||
		ImagesChanged(m.Images, s.Images)
}

// ImagesChanged compares two blob lists by count and by modification time
// after ordering by file name. Contents are not hashed.
func ImagesChanged(old, updated []LocalImage) bool {
	if len(old) != len(updated) {
		return true
	}
	a := sortedByName(old)
	b := sortedByName(updated)
	for i := range a {
		if !a[i].ModTime.Equal(b[i].ModTime) {
			return true
		}
	}
	return false
}

func sortedByName(images []LocalImage) []LocalImage {
	out := slices.Clone(images)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
