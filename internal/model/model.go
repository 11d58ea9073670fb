package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels lists every struct that maps to a table.
var DatabaseModels = []interface{}{
	&GameSession{},
	&Agent{},
	&Keyframe{},
	&Portal{},
}

////////////////////////
// SESSION MODELS
////////////////////////

// GameSession is one StartGame .. EndGame run of the server
type GameSession struct {
	gorm.Model
	StartTime     time.Time `json:"startTime" gorm:"index:idx_session_start"`
	EndTime       time.Time `json:"endTime"`
	ServerVersion string    `json:"serverVersion" gorm:"size:64"`
	Precision     string    `json:"precision" gorm:"size:8"`
	Agents        []Agent
	Keyframes     []Keyframe
	Portals       []Portal
}

func (*GameSession) TableName() string {
	return "game_sessions"
}

////////////////////////
// SIMULATION MODELS
////////////////////////

// Agent is an agent definition as registered with the game
type Agent struct {
	ID               uint        `json:"-" gorm:"primarykey;autoIncrement"`
	SessionID        uint        `json:"sessionId" gorm:"index:idx_agent_session;uniqueIndex:idx_agent_session_agent"`
	Session          GameSession `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	AgentID          uint16      `json:"agentId" gorm:"uniqueIndex:idx_agent_session_agent"`
	Player           string      `json:"player" gorm:"size:8"`
	Variant          string      `json:"variant" gorm:"size:64"`
	StartX           float64     `json:"startX"`
	StartY           float64     `json:"startY"`
	StartOrientation float64     `json:"startOrientation"`
	RegisteredAt     time.Time   `json:"registeredAt"`
}

func (*Agent) TableName() string {
	return "agents"
}

// Keyframe is one computed tick. States holds the agent entries as JSON.
type Keyframe struct {
	ID         uint           `json:"-" gorm:"primarykey;autoIncrement"`
	SessionID  uint           `json:"sessionId" gorm:"uniqueIndex:idx_keyframe_session_tick"`
	Session    GameSession    `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick       uint32         `json:"tick" gorm:"uniqueIndex:idx_keyframe_session_tick"`
	AgentCount int            `json:"agentCount"`
	States     datatypes.JSON `json:"states"`
	RecordedAt time.Time      `json:"recordedAt"`
}

func (*Keyframe) TableName() string {
	return "keyframes"
}

// Portal is a created portal. Endpoint locations are stored as WKB points.
type Portal struct {
	ID                  uint        `json:"-" gorm:"primarykey;autoIncrement"`
	SessionID           uint        `json:"sessionId" gorm:"index:idx_portal_session"`
	Session             GameSession `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	PortalID            uint        `json:"portalId"`
	Player              string      `json:"player" gorm:"size:8"`
	OriginLocation      geom.Point  `json:"originLocation" gorm:"type:bytes"`
	OriginCreation      uint32      `json:"originCreation"`
	OriginExpiration    uint32      `json:"originExpiration"`
	OriginScale         float64     `json:"originScale"`
	DestLocation        geom.Point  `json:"destLocation" gorm:"type:bytes"`
	DestCreation        uint32      `json:"destCreation"`
	DestExpiration      uint32      `json:"destExpiration"`
	DestScale           float64     `json:"destScale"`
	CompressionScale    float64     `json:"compressionScale"`
	CompressionDuration float64     `json:"compressionDuration"`
	CreatedAt           time.Time   `json:"createdAt"`
}

func (*Portal) TableName() string {
	return "portals"
}
