// pkg/core/keyframe.go
package core

import "sort"

// AgentEntry pairs an agent id with its state inside a keyframe.
type AgentEntry struct {
	ID    AgentID    `json:"id"`
	State AgentState `json:"state"`
}

// Keyframe is an immutable snapshot of every agent at one tick.
// Entries are kept sorted by AgentID so iteration order is deterministic.
// Keyframes are shared by pointer between the store and its readers and must
// never be modified after Build.
type Keyframe struct {
	entries []AgentEntry
}

// Len returns the number of agents in the keyframe.
func (k *Keyframe) Len() int {
	if k == nil {
		return 0
	}
	return len(k.entries)
}

// Get returns the state of the given agent.
func (k *Keyframe) Get(id AgentID) (AgentState, bool) {
	if k == nil {
		return AgentState{}, false
	}
	i := sort.Search(len(k.entries), func(i int) bool { return k.entries[i].ID >= id })
	if i < len(k.entries) && k.entries[i].ID == id {
		return k.entries[i].State, true
	}
	return AgentState{}, false
}

// IDs returns the agent ids in ascending order.
func (k *Keyframe) IDs() []AgentID {
	ids := make([]AgentID, k.Len())
	for i := range ids {
		ids[i] = k.entries[i].ID
	}
	return ids
}

// Each calls fn for every agent in ascending id order.
func (k *Keyframe) Each(fn func(id AgentID, s AgentState)) {
	if k == nil {
		return
	}
	for _, e := range k.entries {
		fn(e.ID, e.State)
	}
}

// Entries returns a copy of the keyframe entries.
func (k *Keyframe) Entries() []AgentEntry {
	out := make([]AgentEntry, k.Len())
	if k != nil {
		copy(out, k.entries)
	}
	return out
}

// Equal reports whether both keyframes hold exactly the same agent states.
func (k *Keyframe) Equal(other *Keyframe) bool {
	if k.Len() != other.Len() {
		return false
	}
	for i := 0; i < k.Len(); i++ {
		if k.entries[i] != other.entries[i] {
			return false
		}
	}
	return true
}

// KeyframeBuilder assembles a Keyframe. The zero value is ready to use.
type KeyframeBuilder struct {
	states map[AgentID]AgentState
}

// NewKeyframeBuilder returns a builder sized for n agents.
func NewKeyframeBuilder(n int) *KeyframeBuilder {
	return &KeyframeBuilder{states: make(map[AgentID]AgentState, n)}
}

// Set records the state of one agent, replacing any earlier value.
func (b *KeyframeBuilder) Set(id AgentID, s AgentState) *KeyframeBuilder {
	if b.states == nil {
		b.states = make(map[AgentID]AgentState)
	}
	b.states[id] = s
	return b
}

// Has reports whether the builder already holds a state for id.
func (b *KeyframeBuilder) Has(id AgentID) bool {
	_, ok := b.states[id]
	return ok
}

// Build returns the immutable keyframe.
func (b *KeyframeBuilder) Build() *Keyframe {
	entries := make([]AgentEntry, 0, len(b.states))
	for id, s := range b.states {
		entries = append(entries, AgentEntry{ID: id, State: s})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return &Keyframe{entries: entries}
}

// KeyframeFromEntries builds a keyframe from a list of entries. Later entries
// win when an id repeats.
func KeyframeFromEntries(entries []AgentEntry) *Keyframe {
	b := NewKeyframeBuilder(len(entries))
	for _, e := range entries {
		b.Set(e.ID, e.State)
	}
	return b.Build()
}
