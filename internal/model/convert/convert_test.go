package convert

import (
	"testing"
	"time"

	"github.com/chronoportal/server/internal/model"
	"github.com/chronoportal/server/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyframeToModel(t *testing.T) {
	kf := core.NewKeyframeBuilder(2).
		Set(3, core.AgentState{Location: core.Coordinates{X: 1, Y: 2}, Orientation: 0.5}).
		Set(1, core.AgentState{Location: core.Coordinates{X: 4, Y: 16}}).
		Build()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	m, err := KeyframeToModel(7, 12, kf, at)
	require.NoError(t, err)

	assert.Equal(t, uint(7), m.SessionID)
	assert.Equal(t, uint32(12), m.Tick)
	assert.Equal(t, 2, m.AgentCount)
	assert.Equal(t, at, m.RecordedAt)
	assert.JSONEq(t, `[
		{"id":1,"state":{"location":{"x":4,"y":16},"orientation":0}},
		{"id":3,"state":{"location":{"x":1,"y":2},"orientation":0.5}}
	]`, string(m.States))

	tick, back, err := ModelToKeyframe(m)
	require.NoError(t, err)
	assert.Equal(t, core.TimeIndex(12), tick)
	assert.True(t, kf.Equal(back))
}

func TestModelToKeyframe_BadJSON(t *testing.T) {
	_, _, err := ModelToKeyframe(model.Keyframe{Tick: 3, States: []byte("{nope")})
	assert.Error(t, err)
}

func TestModelToKeyframe_Empty(t *testing.T) {
	_, kf, err := ModelToKeyframe(model.Keyframe{Tick: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, kf.Len())
}

func TestAgentToModel(t *testing.T) {
	def := core.AgentDefinition{
		ID:               9,
		Player:           core.PlayerBlue,
		Variant:          "knight",
		StartLocation:    core.Coordinates{X: -1, Y: 2.5},
		StartOrientation: 3.14,
	}
	m := AgentToModel(4, def, time.Time{})

	assert.Equal(t, uint16(9), m.AgentID)
	assert.Equal(t, "blue", m.Player)
	assert.Equal(t, "knight", m.Variant)

	back, err := ModelToAgent(m)
	require.NoError(t, err)
	assert.Equal(t, def, back)

	m.Player = "green"
	_, err = ModelToAgent(m)
	assert.Error(t, err)
}

func TestPortalToModel(t *testing.T) {
	p := core.Portal{
		ID:     2,
		Player: core.PlayerRed,
		Origin: core.Endpoint{Location: core.Coordinates{X: 1, Y: 1}, Creation: 100, Expiration: 600, Scale: 1},
		Dest:   core.Endpoint{Location: core.Coordinates{X: 2, Y: 2}, Creation: 0, Expiration: 100, Scale: 4},
		Compression: core.Compression{
			Scale:    4,
			Duration: 0.2,
		},
	}
	m := PortalToModel(1, p, time.Time{})

	xy, ok := m.OriginLocation.XY()
	require.True(t, ok)
	assert.Equal(t, 1.0, xy.X)
	assert.Equal(t, "red", m.Player)
	assert.Equal(t, uint32(600), m.OriginExpiration)

	back, err := ModelToPortal(m)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestSessionToModel(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := SessionToModel(core.Session{ID: 9, StartTime: start, ServerVersion: "1.2.0", Precision: "f64"})

	assert.Zero(t, m.ID)
	assert.Equal(t, start, m.StartTime)
	assert.Equal(t, "1.2.0", m.ServerVersion)
	assert.Equal(t, "f64", m.Precision)
}
