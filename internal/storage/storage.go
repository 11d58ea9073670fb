// Package storage defines the persistence surface the game records to.
package storage

import "github.com/chronoportal/server/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management (assigns ID to the passed session)
	StartGame(s *core.Session) error
	EndGame() error

	// Recording
	RecordAgent(def core.AgentDefinition) error
	RecordKeyframe(tick core.TimeIndex, kf *core.Keyframe) error
	RecordPortal(p core.Portal) error
}

// Exportable is an optional interface for backends that write a session
// file when the game ends.
type Exportable interface {
	ExportedFilePath() string
}

// Nop discards everything. It backs storage.type "none".
type Nop struct{}

func (Nop) Init() error                                         { return nil }
func (Nop) Close() error                                        { return nil }
func (Nop) StartGame(*core.Session) error                       { return nil }
func (Nop) EndGame() error                                      { return nil }
func (Nop) RecordAgent(core.AgentDefinition) error              { return nil }
func (Nop) RecordKeyframe(core.TimeIndex, *core.Keyframe) error { return nil }
func (Nop) RecordPortal(core.Portal) error                      { return nil }
