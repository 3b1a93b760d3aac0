// Package database opens the gorm connections behind the marker cache.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/geodiary/mapcore/internal/config"
	"github.com/geodiary/mapcore/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Manager connects to Postgres, or to SQLite when Postgres does not answer.
type Manager struct {
	DB *gorm.DB
	// Fallback is set when DB is the SQLite fallback.
	Fallback bool

	cfg config.DatabaseConfig
	log zerolog.Logger
}

func NewManager(cfg config.DatabaseConfig, log zerolog.Logger) *Manager {
	return &Manager{cfg: cfg, log: log}
}

// Connect opens Postgres and pings it within cfg.ConnectTimeout. On failure
// it opens SQLite at cfg.FallbackPath, in memory when the path is empty.
func (m *Manager) Connect(ctx context.Context) error {
	db, err := m.openPostgres(ctx)
	if err == nil {
		m.DB = db
		m.log.Info().Str("host", m.cfg.Host).Str("database", m.cfg.Database).Msg("Connected to Postgres")
		return nil
	}

	m.log.Warn().Err(err).Str("host", m.cfg.Host).Msg("Postgres unreachable, falling back to SQLite")
	db, err = OpenSqlite(m.cfg.FallbackPath)
	if err != nil {
		return fmt.Errorf("failed to open fallback sqlite: %w", err)
	}
	m.DB = db
	m.Fallback = true
	return nil
}

func (m *Manager) openPostgres(ctx context.Context) (*gorm.DB, error) {
	db, err := OpenPostgres(DSN(m.cfg))
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}

	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	if m.cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(m.cfg.MaxOpenConns)
	}
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Close closes the underlying connection pool.
func (m *Manager) Close() error {
	if m.DB == nil {
		return nil
	}
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DSN builds the key=value connection string of cfg.
func DSN(cfg config.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, sslMode)
	if secs := int(cfg.ConnectTimeout / time.Second); secs > 0 {
		dsn += fmt.Sprintf(" connect_timeout=%d", secs)
	}
	return dsn
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
}

// OpenPostgres opens a gorm connection to Postgres. No round trip is made.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), gormConfig())
}

// OpenSqlite opens the SQLite file at path, or a private in-memory database
// when path is empty. An in-memory database is pinned to one connection so
// every query sees the same data.
func OpenSqlite(path string) (*gorm.DB, error) {
	memory := path == ""
	dsn, journal := path, "WAL"
	if memory {
		dsn, journal = "file::memory:", "MEMORY"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}

	if memory {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql interface: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA user_version = 1",
		"PRAGMA journal_mode = " + journal,
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Migrate creates or updates the cache tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
