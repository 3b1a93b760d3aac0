// Package postgres implements the storage.Backend interface on PostgreSQL.
// When Postgres is unreachable the database manager falls back to SQLite
// so the session keeps a working cache.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/geodiary/mapcore/internal/config"
	"github.com/geodiary/mapcore/internal/database"
	gormstorage "github.com/geodiary/mapcore/internal/storage/gorm"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	Config  config.DatabaseConfig
	DB      *gorm.DB // optional; connects through database.Manager when nil
	Log     *slog.Logger
	Zerolog *zerolog.Logger
}

// Backend wraps the GORM backend with the Postgres connection lifecycle.
type Backend struct {
	*gormstorage.Backend
	deps    Dependencies
	manager *database.Manager
}

// New creates a new Postgres storage backend.
func New(deps Dependencies) *Backend {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Backend{deps: deps}
}

// Init connects (unless a DB was injected) and migrates the cache table.
func (b *Backend) Init() error {
	db := b.deps.DB
	if db == nil {
		zl := zerolog.New(os.Stderr).With().Timestamp().Str("component", "cache-db").Logger()
		if b.deps.Zerolog != nil {
			zl = *b.deps.Zerolog
		}
		b.manager = database.NewManager(b.deps.Config, zl)
		if err := b.manager.Connect(context.Background()); err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if b.manager.Fallback {
			b.deps.Log.Warn("Postgres unavailable, marker cache moved to SQLite",
				"path", b.deps.Config.FallbackPath)
		}
		db = b.manager.DB
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{DB: db, Log: b.deps.Log})
	return b.Backend.Init()
}

// Local reports whether the backend fell back to SQLite.
func (b *Backend) Local() bool {
	return b.manager != nil && b.manager.Fallback
}

// Close closes the embedded GORM backend.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}
