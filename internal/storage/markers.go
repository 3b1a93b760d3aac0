package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/geodiary/mapcore/internal/model"
)

// MarkersKey is the cache key holding the anonymous user's markers.
const MarkersKey = "markers"

// MarkerCache stores the simplified markers of an anonymous session.
type MarkerCache struct {
	backend Backend
}

// NewMarkerCache wraps backend.
func NewMarkerCache(backend Backend) *MarkerCache {
	return &MarkerCache{backend: backend}
}

// Load returns the cached markers. A missing key yields an empty slice.
func (c *MarkerCache) Load(ctx context.Context) ([]model.CachedMarker, error) {
	raw, found, err := c.backend.Get(ctx, MarkersKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read marker cache: %w", err)
	}
	if !found || len(raw) == 0 {
		return []model.CachedMarker{}, nil
	}

	var markers []model.CachedMarker
	if err := json.Unmarshal(raw, &markers); err != nil {
		return nil, fmt.Errorf("failed to decode marker cache: %w", err)
	}
	if markers == nil {
		markers = []model.CachedMarker{}
	}
	return markers, nil
}

// Save replaces the cached markers. Ids are always written as 0.
func (c *MarkerCache) Save(ctx context.Context, markers []model.CachedMarker) error {
	out := make([]model.CachedMarker, len(markers))
	for i, m := range markers {
		m.ID = 0
		out[i] = m
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode marker cache: %w", err)
	}
	if err := c.backend.Set(ctx, MarkersKey, raw); err != nil {
		return fmt.Errorf("failed to write marker cache: %w", err)
	}
	return nil
}

// Clear removes the cache key.
func (c *MarkerCache) Clear(ctx context.Context) error {
	if err := c.backend.Delete(ctx, MarkersKey); err != nil {
		return fmt.Errorf("failed to clear marker cache: %w", err)
	}
	return nil
}
