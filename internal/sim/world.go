package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chronoportal/server/pkg/core"
)

var (
	// ErrUnknownAgentID is returned when an agent id is not registered.
	ErrUnknownAgentID = errors.New("unknown agent id")
	// ErrDuplicateAgentID is returned when an agent id is registered twice.
	ErrDuplicateAgentID = errors.New("agent id already registered")
)

// World is the agent table. Definitions are immutable and ids are never reused
// within a game; the table only grows until Reset starts a new game.
type World struct {
	mu   sync.RWMutex
	defs map[core.AgentID]core.AgentDefinition
	ids  []core.AgentID // sorted ascending
}

// NewWorld returns an empty agent table.
func NewWorld() *World {
	return &World{defs: make(map[core.AgentID]core.AgentDefinition)}
}

// Add registers a definition.
func (w *World) Add(def core.AgentDefinition) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.defs[def.ID]; ok {
		return fmt.Errorf("agent %d: %w", def.ID, ErrDuplicateAgentID)
	}
	w.defs[def.ID] = def
	i := sort.Search(len(w.ids), func(i int) bool { return w.ids[i] > def.ID })
	w.ids = append(w.ids, 0)
	copy(w.ids[i+1:], w.ids[i:])
	w.ids[i] = def.ID
	return nil
}

// Reset drops every definition.
func (w *World) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.defs = make(map[core.AgentID]core.AgentDefinition)
	w.ids = nil
}

// Get returns the definition for id.
func (w *World) Get(id core.AgentID) (core.AgentDefinition, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	def, ok := w.defs[id]
	if !ok {
		return core.AgentDefinition{}, fmt.Errorf("agent %d: %w", id, ErrUnknownAgentID)
	}
	return def, nil
}

// All returns every definition ordered by id.
func (w *World) All() []core.AgentDefinition {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]core.AgentDefinition, len(w.ids))
	for i, id := range w.ids {
		out[i] = w.defs[id]
	}
	return out
}

// Len returns the number of registered agents.
func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.ids)
}

// StartKeyframe places every registered agent at its start state.
func (w *World) StartKeyframe() *core.Keyframe {
	defs := w.All()
	b := core.NewKeyframeBuilder(len(defs))
	for _, d := range defs {
		b.Set(d.ID, d.StartState())
	}
	return b.Build()
}
