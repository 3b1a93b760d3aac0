// internal/storage/storage_test.go
package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/geodiary/mapcore/internal/config"
	"github.com/geodiary/mapcore/internal/model"
	"github.com/geodiary/mapcore/internal/storage"
	"github.com/geodiary/mapcore/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface checks
var _ storage.Backend = (*memory.Backend)(nil)

type failingBackend struct{ memory.Backend }

func (*failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk on fire")
}

func TestMarkerCache_LoadEmpty(t *testing.T) {
	c := storage.NewMarkerCache(memory.New())

	markers, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, markers)
	assert.Empty(t, markers)
}

func TestMarkerCache_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	c := storage.NewMarkerCache(backend)

	in := []model.CachedMarker{
		{Latitude: 1, Longitude: 2, Title: "a", ID: 17},
		{Latitude: 3, Longitude: 4, Category: "food", WeatherInfo: &model.WeatherInfo{Location: "X"}},
	}
	require.NoError(t, c.Save(ctx, in))

	raw, found, err := backend.Get(ctx, storage.MarkersKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, string(raw), `"id":0`)
	assert.NotContains(t, string(raw), `"id":17`)

	out, err := c.Load(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Title)
	assert.Equal(t, int64(0), out[0].ID)
	assert.Equal(t, "X", out[1].WeatherInfo.Location)
	assert.Equal(t, int64(17), in[0].ID, "input slice not mutated")

	require.NoError(t, c.Clear(ctx))
	_, found, _ = backend.Get(ctx, storage.MarkersKey)
	assert.False(t, found)
}

func TestMarkerCache_CorruptValue(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	require.NoError(t, backend.Set(ctx, storage.MarkersKey, []byte(`{not json`)))

	_, err := storage.NewMarkerCache(backend).Load(ctx)
	assert.Error(t, err)
}

func TestMarkerCache_BackendError(t *testing.T) {
	_, err := storage.NewMarkerCache(&failingBackend{}).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestNewBackend(t *testing.T) {
	tests := []struct {
		typ     string
		wantErr bool
	}{
		{"memory", false},
		{"sqlite", false},
		{"postgres", false},
		{"redis", true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			b, err := storage.NewBackend(config.StorageConfig{Type: tt.typ}, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, b)
		})
	}
}

func TestNewBackend_SqliteInMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, err := storage.NewBackend(config.StorageConfig{Type: "sqlite"}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	c := storage.NewMarkerCache(b)
	require.NoError(t, c.Save(ctx, []model.CachedMarker{{Latitude: 5, Longitude: 6}}))
	out, err := c.Load(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 6.0, out[0].Longitude)
}
