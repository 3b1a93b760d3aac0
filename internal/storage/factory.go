// internal/storage/factory.go
package storage

import (
	"fmt"
	"log/slog"

	"github.com/geodiary/mapcore/internal/config"
	"github.com/geodiary/mapcore/internal/storage/memory"
	"github.com/geodiary/mapcore/internal/storage/postgres"
	sqlitestorage "github.com/geodiary/mapcore/internal/storage/sqlite"
)

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg config.StorageConfig, log *slog.Logger) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(postgres.Dependencies{Config: cfg.Postgres, Log: log}), nil
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{Path: cfg.SQLite.Path}, log), nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
