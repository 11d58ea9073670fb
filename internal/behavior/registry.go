// Package behavior maps agent variants to their movement rules.
package behavior

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chronoportal/server/pkg/core"
)

// Built-in variants.
const (
	Mover   core.Variant = "mover"
	Scout   core.Variant = "scout"
	Knight  core.Variant = "knight"
	Builder core.Variant = "builder"
	Basic   core.Variant = "basic"
)

// ErrDuplicateVariant is returned when a variant is registered twice.
var ErrDuplicateVariant = errors.New("variant already registered")

// AdvanceFunc computes an agent's state at tick from its state at tick-1.
// It must be pure: the same inputs always give the same output.
type AdvanceFunc func(prev core.AgentState, tick core.TimeIndex) core.AgentState

// Identity leaves the agent where it is.
func Identity(prev core.AgentState, _ core.TimeIndex) core.AgentState {
	return prev
}

// Move steps x by one per tick and places the agent on the parabola y = x².
func Move(prev core.AgentState, _ core.TimeIndex) core.AgentState {
	x := prev.Location.X + 1
	return core.AgentState{
		Location:    core.Coordinates{X: x, Y: x * x},
		Orientation: prev.Orientation,
	}
}

// Drift places the agent at (t, t/2) regardless of where it was.
func Drift(prev core.AgentState, tick core.TimeIndex) core.AgentState {
	t := float64(tick)
	return core.AgentState{
		Location:    core.Coordinates{X: t, Y: t / 2},
		Orientation: prev.Orientation,
	}
}

// Registry is a concurrency-safe table of variant rules.
type Registry struct {
	mu    sync.RWMutex
	rules map[core.Variant]AdvanceFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[core.Variant]AdvanceFunc)}
}

// Default returns a registry with every built-in variant.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister(Mover, Move)
	r.MustRegister(Scout, Identity)
	r.MustRegister(Knight, Identity)
	r.MustRegister(Builder, Identity)
	r.MustRegister(Basic, Drift)
	return r
}

// Register adds a rule for variant.
func (r *Registry) Register(v core.Variant, fn AdvanceFunc) error {
	if fn == nil {
		return fmt.Errorf("variant %q: nil rule", v)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[v]; ok {
		return fmt.Errorf("variant %q: %w", v, ErrDuplicateVariant)
	}
	r.rules[v] = fn
	return nil
}

// MustRegister is Register that panics on error. Intended for package setup.
func (r *Registry) MustRegister(v core.Variant, fn AdvanceFunc) {
	if err := r.Register(v, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the rule registered for v.
func (r *Registry) Lookup(v core.Variant) (AdvanceFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.rules[v]
	return fn, ok
}

// Rule returns the rule for v, or Identity when none is registered.
func (r *Registry) Rule(v core.Variant) AdvanceFunc {
	if fn, ok := r.Lookup(v); ok {
		return fn
	}
	return Identity
}

// Variants lists the registered variants in sorted order.
func (r *Registry) Variants() []core.Variant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Variant, 0, len(r.rules))
	for v := range r.rules {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
