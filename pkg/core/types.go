// pkg/core/types.go
package core

import (
	"fmt"
	"strings"
)

// TimeIndex is a discrete simulation tick. Tick 0 is the bootstrap tick.
type TimeIndex uint32

// AgentID identifies one agent for the lifetime of the process.
type AgentID uint16

// Orientation is a heading angle in radians.
type Orientation float64

// Coordinates is a location on the game plane.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Player is the side owning an agent or a portal.
type Player uint8

const (
	PlayerRed Player = iota
	PlayerBlue
)

func (p Player) String() string {
	switch p {
	case PlayerRed:
		return "red"
	case PlayerBlue:
		return "blue"
	default:
		return fmt.Sprintf("player(%d)", uint8(p))
	}
}

// MarshalText encodes the player by name.
func (p Player) MarshalText() ([]byte, error) {
	if p > PlayerBlue {
		return nil, fmt.Errorf("invalid player %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a player name.
func (p *Player) UnmarshalText(b []byte) error {
	v, err := ParsePlayer(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePlayer converts a side name ("red", "blue", case-insensitive) to a Player.
func ParsePlayer(s string) (Player, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "red":
		return PlayerRed, nil
	case "blue":
		return PlayerBlue, nil
	default:
		return 0, fmt.Errorf("unknown player %q", s)
	}
}

// Variant tags the movement policy an agent follows.
type Variant string

// AgentDefinition describes one simulated unit. It is immutable once registered.
type AgentDefinition struct {
	ID               AgentID     `json:"id"`
	Player           Player      `json:"player"`
	Variant          Variant     `json:"variant"`
	StartLocation    Coordinates `json:"startLocation"`
	StartOrientation Orientation `json:"startOrientation"`
}

// StartState is the state the agent occupies when it first appears in a keyframe.
func (d AgentDefinition) StartState() AgentState {
	return AgentState{Location: d.StartLocation, Orientation: d.StartOrientation}
}

// AgentState is the per-agent part of a keyframe.
type AgentState struct {
	Location    Coordinates `json:"location"`
	Orientation Orientation `json:"orientation"`
}
