// Package memory keeps a game session in memory and exports it as a JSON
// document (optionally gzip) when the game ends.
package memory

import (
	"sort"
	"sync"

	"github.com/chronoportal/server/internal/config"
	"github.com/chronoportal/server/pkg/core"
)

// Backend stores session data in memory and exports to JSON
type Backend struct {
	cfg     config.MemoryConfig
	session *core.Session

	agents    map[core.AgentID]core.AgentDefinition
	keyframes map[core.TimeIndex]*core.Keyframe
	portals   []core.Portal

	idCounter      uint
	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	b := &Backend{cfg: cfg}
	b.reset()
	return b
}

func (b *Backend) reset() {
	b.agents = make(map[core.AgentID]core.AgentDefinition)
	b.keyframes = make(map[core.TimeIndex]*core.Keyframe)
	b.portals = nil
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartGame begins recording a new session and assigns its ID.
func (b *Backend) StartGame(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.idCounter++
	s.ID = b.idCounter
	b.session = s
	b.reset()
	return nil
}

// EndGame finalizes and exports the session data
func (b *Backend) EndGame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	return b.exportJSON()
}

// RecordAgent stores an agent definition. Re-recording an id replaces it.
func (b *Backend) RecordAgent(def core.AgentDefinition) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.agents[def.ID] = def
	return nil
}

// RecordKeyframe stores a keyframe. Keyframes are immutable so the pointer is kept.
func (b *Backend) RecordKeyframe(tick core.TimeIndex, kf *core.Keyframe) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.keyframes[tick] = kf
	return nil
}

// RecordPortal stores a portal.
func (b *Backend) RecordPortal(p core.Portal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.portals = append(b.portals, p)
	return nil
}

// ExportedFilePath returns the path of the last export, or "" if none.
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// Keyframe returns a recorded keyframe.
func (b *Backend) Keyframe(tick core.TimeIndex) (*core.Keyframe, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	kf, ok := b.keyframes[tick]
	return kf, ok
}

// Counts returns how many agents, keyframes and portals are recorded.
func (b *Backend) Counts() (agents, keyframes, portals int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.agents), len(b.keyframes), len(b.portals)
}

func (b *Backend) sortedTicks() []core.TimeIndex {
	ticks := make([]core.TimeIndex, 0, len(b.keyframes))
	for t := range b.keyframes {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks
}

func (b *Backend) sortedAgents() []core.AgentDefinition {
	out := make([]core.AgentDefinition, 0, len(b.agents))
	for _, d := range b.agents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
