// Package postgres implements the storage.Backend interface on PostgreSQL.
// Writes go through the GORM backend's queues and background writer.
package postgres

import (
	"fmt"

	"github.com/chronoportal/server/internal/config"
	"github.com/chronoportal/server/internal/database"
	"github.com/chronoportal/server/internal/logging"
	gormstorage "github.com/chronoportal/server/internal/storage/gorm"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	Config config.PostgresConfig
	// DB is used as-is when set. Otherwise Init connects using Config.
	DB         *gorm.DB
	LogManager *logging.SlogManager
	DBLog      zerolog.Logger
}

// Backend implements storage.Backend using GORM/PostgreSQL.
type Backend struct {
	*gormstorage.Backend
	deps Dependencies
}

// New creates a new Postgres storage backend. No connection is made until Init.
func New(deps Dependencies) *Backend {
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:         deps.DB,
			LogManager: deps.LogManager,
		}),
		deps: deps,
	}
}

// Init connects if needed, migrates the schema and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		db, err := database.OpenPostgres(b.deps.Config, b.deps.DBLog)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.deps.DB = db
		b.Backend.SetDB(db)
	}

	if err := b.Backend.Init(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	return nil
}
