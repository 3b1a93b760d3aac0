// Package sqlitestorage implements the storage.Backend interface using SQLite.
// It wraps the GORM backend via composition; the SQLite-specific concern is
// opening the file (or a private in-memory database when no path is set).
package sqlitestorage

import (
	"fmt"
	"log/slog"

	"github.com/geodiary/mapcore/internal/database"
	gormstorage "github.com/geodiary/mapcore/internal/storage/gorm"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	Path string // empty keeps the cache in memory
}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	cfg Config
	log *slog.Logger
}

// New creates a new SQLite storage backend. The database is opened by Init.
func New(cfg Config, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		cfg: cfg,
		log: log,
	}
}

// Init opens the database and initializes the embedded GORM backend.
func (b *Backend) Init() error {
	db, err := database.OpenSqlite(b.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open SQLite cache: %w", err)
	}
	b.Backend = gormstorage.New(gormstorage.Dependencies{DB: db, Log: b.log})
	if err := b.Backend.Init(); err != nil {
		return err
	}
	if b.cfg.Path == "" {
		b.log.Info("Using in-memory SQLite cache")
	} else {
		b.log.Info("Using SQLite cache", "path", b.cfg.Path)
	}
	return nil
}

// Close closes the embedded GORM backend.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}
