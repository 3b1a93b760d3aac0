package gormstorage

import (
	"context"
	"testing"

	"github.com/geodiary/mapcore/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := database.OpenSqlite("")
	require.NoError(t, err)
	b := New(Dependencies{DB: db})
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestInit_NoDB(t *testing.T) {
	b := New(Dependencies{})
	assert.Error(t, b.Init())
}

func TestNotInitialized(t *testing.T) {
	db, err := database.OpenSqlite("")
	require.NoError(t, err)
	b := New(Dependencies{DB: db})

	_, _, err = b.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, b.Set(context.Background(), "k", []byte(`1`)))
}

func TestGet_Missing(t *testing.T) {
	b := newTestBackend(t)

	v, found, err := b.Get(context.Background(), "markers")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, v)
}

func TestSet_Upserts(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.Set(ctx, "markers", []byte(`[{"latitude":1}]`)))
	require.NoError(t, b.Set(ctx, "markers", []byte(`[]`)))

	v, found, err := b.Get(ctx, "markers")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `[]`, string(v))

	var count int64
	require.NoError(t, b.DB().Table("cache_entries").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.Set(ctx, "markers", []byte(`[]`)))
	require.NoError(t, b.Delete(ctx, "markers"))

	_, found, err := b.Get(ctx, "markers")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, b.Delete(ctx, "markers"), "deleting a missing key is fine")
}

func TestSet_ScalarValues(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	for key, value := range map[string]string{
		"count":  `1`,
		"ratio":  `1.5`,
		"flag":   `true`,
		"title":  `"Untitled marker"`,
		"object": `{"id":0}`,
	} {
		require.NoError(t, b.Set(ctx, key, []byte(value)))

		got, found, err := b.Get(ctx, key)
		require.NoError(t, err, key)
		assert.True(t, found, key)
		assert.JSONEq(t, value, string(got), key)
	}
}
