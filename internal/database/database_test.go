package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/geodiary/mapcore/internal/config"
	"github.com/geodiary/mapcore/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSqlite_InMemory(t *testing.T) {
	db, err := OpenSqlite("")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	assert.True(t, db.Migrator().HasTable(&model.CacheEntry{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestOpenSqlite_FilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	db, err := OpenSqlite(path)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	require.NoError(t, db.Create(&model.CacheEntry{Key: "markers", Value: []byte(`[]`)}).Error)

	reopened, err := OpenSqlite(path)
	require.NoError(t, err)
	var entry model.CacheEntry
	require.NoError(t, reopened.First(&entry, "key = ?", "markers").Error)
	assert.JSONEq(t, `[]`, string(entry.Value))
}

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db.local",
		Port:     "6543",
		Username: "u",
		Password: "p",
		Database: "markers",
	}
	assert.Equal(t, "host=db.local port=6543 user=u password=p dbname=markers sslmode=disable", DSN(cfg))

	cfg.SSLMode = "require"
	cfg.ConnectTimeout = 3 * time.Second
	assert.Equal(t, "host=db.local port=6543 user=u password=p dbname=markers sslmode=require connect_timeout=3", DSN(cfg))
}

// Nothing listens on port 1, so Connect must land on the SQLite fallback.
func TestManager_FallsBackToSqlite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.db")
	m := NewManager(config.DatabaseConfig{
		Host:           "127.0.0.1",
		Port:           "1",
		Username:       "u",
		Database:       "markers",
		ConnectTimeout: time.Second,
		FallbackPath:   path,
	}, zerolog.Nop())

	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { _ = m.Close() })

	assert.True(t, m.Fallback)
	require.NoError(t, Migrate(m.DB))
	assert.FileExists(t, path)
}

func TestManager_CloseUnconnected(t *testing.T) {
	assert.NoError(t, NewManager(config.DatabaseConfig{}, zerolog.Nop()).Close())
}
