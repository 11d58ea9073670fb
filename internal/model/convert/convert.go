// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chronoportal/server/internal/geo"
	"github.com/chronoportal/server/internal/model"
	"github.com/chronoportal/server/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// pointToCoordinates converts a point back to coordinates. An empty point yields the origin.
func pointToCoordinates(p geom.Point) core.Coordinates {
	xy, ok := p.XY()
	if !ok {
		return core.Coordinates{}
	}
	return core.Coordinates{X: xy.X, Y: xy.Y}
}

// AgentToModel converts an agent definition to its row.
func AgentToModel(sessionID uint, d core.AgentDefinition, at time.Time) model.Agent {
	return model.Agent{
		SessionID:        sessionID,
		AgentID:          uint16(d.ID),
		Player:           d.Player.String(),
		Variant:          string(d.Variant),
		StartX:           d.StartLocation.X,
		StartY:           d.StartLocation.Y,
		StartOrientation: float64(d.StartOrientation),
		RegisteredAt:     at,
	}
}

// ModelToAgent converts a row back to an agent definition.
func ModelToAgent(a model.Agent) (core.AgentDefinition, error) {
	player, err := core.ParsePlayer(a.Player)
	if err != nil {
		return core.AgentDefinition{}, fmt.Errorf("agent %d: %w", a.AgentID, err)
	}
	return core.AgentDefinition{
		ID:               core.AgentID(a.AgentID),
		Player:           player,
		Variant:          core.Variant(a.Variant),
		StartLocation:    core.Coordinates{X: a.StartX, Y: a.StartY},
		StartOrientation: core.Orientation(a.StartOrientation),
	}, nil
}

// KeyframeToModel converts a keyframe to its row.
func KeyframeToModel(sessionID uint, tick core.TimeIndex, kf *core.Keyframe, at time.Time) (model.Keyframe, error) {
	states, err := json.Marshal(kf.Entries())
	if err != nil {
		return model.Keyframe{}, fmt.Errorf("encoding tick %d: %w", tick, err)
	}
	return model.Keyframe{
		SessionID:  sessionID,
		Tick:       uint32(tick),
		AgentCount: kf.Len(),
		States:     datatypes.JSON(states),
		RecordedAt: at,
	}, nil
}

// ModelToKeyframe converts a row back to its tick and keyframe.
func ModelToKeyframe(k model.Keyframe) (core.TimeIndex, *core.Keyframe, error) {
	var entries []core.AgentEntry
	if len(k.States) > 0 {
		if err := json.Unmarshal(k.States, &entries); err != nil {
			return 0, nil, fmt.Errorf("decoding tick %d: %w", k.Tick, err)
		}
	}
	return core.TimeIndex(k.Tick), core.KeyframeFromEntries(entries), nil
}

// PortalToModel converts a portal to its row.
func PortalToModel(sessionID uint, p core.Portal, at time.Time) model.Portal {
	return model.Portal{
		SessionID:           sessionID,
		PortalID:            p.ID,
		Player:              p.Player.String(),
		OriginLocation:      geo.Point(p.Origin.Location),
		OriginCreation:      uint32(p.Origin.Creation),
		OriginExpiration:    uint32(p.Origin.Expiration),
		OriginScale:         p.Origin.Scale,
		DestLocation:        geo.Point(p.Dest.Location),
		DestCreation:        uint32(p.Dest.Creation),
		DestExpiration:      uint32(p.Dest.Expiration),
		DestScale:           p.Dest.Scale,
		CompressionScale:    p.Compression.Scale,
		CompressionDuration: p.Compression.Duration,
		CreatedAt:           at,
	}
}

// ModelToPortal converts a row back to a portal.
func ModelToPortal(m model.Portal) (core.Portal, error) {
	player, err := core.ParsePlayer(m.Player)
	if err != nil {
		return core.Portal{}, fmt.Errorf("portal %d: %w", m.PortalID, err)
	}
	return core.Portal{
		ID:     m.PortalID,
		Player: player,
		Origin: core.Endpoint{
			Location:   pointToCoordinates(m.OriginLocation),
			Creation:   core.TimeIndex(m.OriginCreation),
			Expiration: core.TimeIndex(m.OriginExpiration),
			Scale:      m.OriginScale,
		},
		Dest: core.Endpoint{
			Location:   pointToCoordinates(m.DestLocation),
			Creation:   core.TimeIndex(m.DestCreation),
			Expiration: core.TimeIndex(m.DestExpiration),
			Scale:      m.DestScale,
		},
		Compression: core.Compression{
			Scale:    m.CompressionScale,
			Duration: m.CompressionDuration,
		},
	}, nil
}

// SessionToModel converts a session to its row. The ID is left for the database to assign.
func SessionToModel(s core.Session) model.GameSession {
	return model.GameSession{
		StartTime:     s.StartTime,
		ServerVersion: s.ServerVersion,
		Precision:     s.Precision,
	}
}
