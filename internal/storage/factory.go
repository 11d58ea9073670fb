package storage

import (
	"fmt"

	"github.com/chronoportal/server/internal/config"
	"github.com/chronoportal/server/internal/logging"
	"github.com/chronoportal/server/internal/storage/memory"
	"github.com/chronoportal/server/internal/storage/postgres"
	sqlitestorage "github.com/chronoportal/server/internal/storage/sqlite"

	"github.com/rs/zerolog"
)

// Dependencies are the shared services handed to whichever backend is built.
type Dependencies struct {
	LogManager *logging.SlogManager
	DBLog      zerolog.Logger
}

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg config.StorageConfig, deps Dependencies) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(postgres.Dependencies{
			Config:     cfg.Postgres,
			LogManager: deps.LogManager,
			DBLog:      deps.DBLog,
		}), nil
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     cfg.SQLite.DumpPath,
		}, deps.LogManager, deps.DBLog)
	case "memory", "":
		return memory.New(cfg.Memory), nil
	case "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
