// Package gormstorage implements the storage.Backend interface on top of any
// gorm dialect. Entries live in the cache_entries table and are upserted.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geodiary/mapcore/internal/database"
	"github.com/geodiary/mapcore/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB  *gorm.DB
	Log *slog.Logger
}

// Backend implements storage.Backend using GORM.
type Backend struct {
	deps    Dependencies
	dbReady bool
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Backend{
		deps: deps,
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend has no database")
	}
	if err := database.Migrate(b.deps.DB); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.dbReady = true
	b.deps.Log.Debug("Cache schema ready", "dialect", b.deps.DB.Dialector.Name())
	return nil
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	b.dbReady = false
	if b.deps.DB == nil {
		return nil
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	return sqlDB.Close()
}

// Get returns the value stored under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !b.dbReady {
		return nil, false, errors.New("gorm backend not initialized")
	}
	var entry model.CacheEntry
	err := b.deps.DB.WithContext(ctx).Where("key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return []byte(entry.Value), true, nil
}

// Set upserts value under key.
func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	if !b.dbReady {
		return errors.New("gorm backend not initialized")
	}
	entry := model.CacheEntry{
		Key:       key,
		Value:     model.JSONText(value),
		UpdatedAt: time.Now().UTC(),
	}
	err := b.deps.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		b.deps.Log.Error("Failed to write cache entry", "key", key, "error", err)
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if !b.dbReady {
		return errors.New("gorm backend not initialized")
	}
	err := b.deps.DB.WithContext(ctx).Where("key = ?", key).Delete(&model.CacheEntry{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}
