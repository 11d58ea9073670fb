package storage

import (
	"testing"

	"github.com/chronoportal/server/internal/config"
	"github.com/chronoportal/server/internal/storage/memory"
	"github.com/chronoportal/server/internal/storage/postgres"
	sqlitestorage "github.com/chronoportal/server/internal/storage/sqlite"
	"github.com/chronoportal/server/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface checks
var (
	_ Backend    = (*memory.Backend)(nil)
	_ Backend    = (*sqlitestorage.Backend)(nil)
	_ Backend    = (*postgres.Backend)(nil)
	_ Backend    = Nop{}
	_ Exportable = (*memory.Backend)(nil)
	_ Exportable = (*sqlitestorage.Backend)(nil)
)

func TestNewBackend(t *testing.T) {
	deps := Dependencies{DBLog: zerolog.Nop()}

	tests := []struct {
		typ  string
		want any
	}{
		{"memory", &memory.Backend{}},
		{"", &memory.Backend{}},
		{"sqlite", &sqlitestorage.Backend{}},
		{"postgres", &postgres.Backend{}},
		{"none", Nop{}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			b, err := NewBackend(config.StorageConfig{Type: tt.typ}, deps)
			require.NoError(t, err)
			assert.IsType(t, tt.want, b)
		})
	}
}

func TestNewBackend_Unknown(t *testing.T) {
	_, err := NewBackend(config.StorageConfig{Type: "mongo"}, Dependencies{})
	assert.ErrorContains(t, err, "unknown storage type")
}

func TestNop(t *testing.T) {
	var b Backend = Nop{}
	require.NoError(t, b.Init())
	require.NoError(t, b.StartGame(&core.Session{}))
	require.NoError(t, b.RecordAgent(core.AgentDefinition{}))
	require.NoError(t, b.RecordKeyframe(0, nil))
	require.NoError(t, b.RecordPortal(core.Portal{}))
	require.NoError(t, b.EndGame())
	require.NoError(t, b.Close())
}
