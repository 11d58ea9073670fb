package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableNames(t *testing.T) {
	tests := []struct {
		name     string
		model    interface{ TableName() string }
		expected string
	}{
		{"GameSession", &GameSession{}, "game_sessions"},
		{"Agent", &Agent{}, "agents"},
		{"Keyframe", &Keyframe{}, "keyframes"},
		{"Portal", &Portal{}, "portals"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.model.TableName())
		})
	}
}

func TestDatabaseModels_AllNamed(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range DatabaseModels {
		named, ok := m.(interface{ TableName() string })
		if assert.True(t, ok, "%T has no TableName", m) {
			assert.False(t, seen[named.TableName()], "duplicate table %s", named.TableName())
			seen[named.TableName()] = true
		}
	}
	assert.Len(t, seen, 4)
}
