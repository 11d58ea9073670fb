// Package database opens the GORM connections used by the SQL storage
// backends and routes GORM's own logging through zerolog.
package database

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/chronoportal/server/internal/config"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ErrNoDumpPath is returned by VacuumInto without a target file.
var ErrNoDumpPath = errors.New("sqlite dump path not set")

// MemoryDSN returns a DSN for a named in-memory SQLite database. Connections
// using the same name share one database; different names are independent.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", url.PathEscape(name))
}

// PostgresDSN builds a key/value DSN from cfg. An empty SSLMode means disable.
func PostgresDSN(cfg config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, sslMode)
}

// OpenPostgres connects and pings. Batches are large because keyframe rows
// arrive in bursts of one per computed tick.
func OpenPostgres(cfg config.PostgresConfig, log zerolog.Logger) (*gorm.DB, error) {
	log.Debug().Str("host", cfg.Host).Str("database", cfg.Database).Msg("Connecting to Postgres DB")

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  PostgresDSN(cfg),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        5000,
		Logger:                 NewGormLogger(log),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to validate connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	log.Info().Str("host", cfg.Host).Msg("Connected to Postgres DB")
	return db, nil
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode = MEMORY;",
	"PRAGMA synchronous = OFF;",
	"PRAGMA cache_size = -32000;",
	"PRAGMA temp_store = MEMORY;",
	"PRAGMA foreign_keys = ON;",
}

// OpenSQLite opens dsn, which is a file path or a MemoryDSN.
func OpenSQLite(dsn string, log zerolog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 NewGormLogger(log),
	})
	if err != nil {
		return nil, err
	}

	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("setting %q: %w", pragma, err)
		}
	}

	log.Info().Str("dsn", dsn).Msg("Opened SQLite DB")
	return db, nil
}

// VacuumInto writes a consistent copy of db to path, replacing any previous copy.
func VacuumInto(db *gorm.DB, path string, log zerolog.Logger) error {
	if path == "" {
		return ErrNoDumpPath
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing previous dump: %w", err)
	}

	start := time.Now()
	if err := db.Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("dumping to %s: %w", path, err)
	}

	log.Debug().Dur("duration", time.Since(start)).Str("path", path).Msg("Dumped SQLite DB")
	return nil
}
