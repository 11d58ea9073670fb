// Package portal creates player-owned spacetime portals and keeps the
// portals of a running game.
package portal

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/chronoportal/server/pkg/core"
)

var (
	// ErrInvalidLifetime is returned for a zero or negative endpoint lifetime.
	ErrInvalidLifetime = errors.New("portal lifetime must be positive")
	// ErrInvalidScale is returned for a zero, negative or non-finite endpoint scale.
	ErrInvalidScale = errors.New("portal scale must be positive and finite")
	// ErrNotFound is returned when a portal id is unknown.
	ErrNotFound = errors.New("portal not found")
)

// EndpointSpec is the caller's description of one endpoint.
type EndpointSpec struct {
	Tick     core.TimeIndex
	Location core.Coordinates
	Lifetime int64
	Scale    float64
}

// Request describes a portal to create.
type Request struct {
	Player core.Player
	Origin EndpointSpec
	Dest   EndpointSpec
}

// New builds a portal and its compression factor from the two endpoints.
// The returned portal has no id; Registry.Create assigns one.
func New(req Request) (core.Portal, error) {
	origin, err := endpoint("origin", req.Origin)
	if err != nil {
		return core.Portal{}, err
	}
	dest, err := endpoint("destination", req.Dest)
	if err != nil {
		return core.Portal{}, err
	}

	return core.Portal{
		Player: req.Player,
		Origin: origin,
		Dest:   dest,
		Compression: core.Compression{
			Scale:    dest.Scale / origin.Scale,
			Duration: float64(req.Dest.Lifetime) / float64(req.Origin.Lifetime),
		},
	}, nil
}

func endpoint(name string, spec EndpointSpec) (core.Endpoint, error) {
	if spec.Lifetime <= 0 {
		return core.Endpoint{}, fmt.Errorf("%s lifetime %d: %w", name, spec.Lifetime, ErrInvalidLifetime)
	}
	expiration := int64(spec.Tick) + spec.Lifetime
	if expiration > math.MaxUint32 {
		return core.Endpoint{}, fmt.Errorf("%s expires at %d, beyond the last tick: %w", name, expiration, ErrInvalidLifetime)
	}
	if spec.Scale <= 0 || math.IsNaN(spec.Scale) || math.IsInf(spec.Scale, 0) {
		return core.Endpoint{}, fmt.Errorf("%s scale %v: %w", name, spec.Scale, ErrInvalidScale)
	}
	return core.Endpoint{
		Location:   spec.Location,
		Creation:   spec.Tick,
		Expiration: core.TimeIndex(expiration),
		Scale:      spec.Scale,
	}, nil
}

// Registry holds the portals of one game. Portals are immutable once created.
type Registry struct {
	mu      sync.RWMutex
	portals []core.Portal
	nextID  uint
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{nextID: 1}
}

// Create validates req, assigns the next id and stores the portal.
func (r *Registry) Create(req Request) (core.Portal, error) {
	p, err := New(req)
	if err != nil {
		return core.Portal{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.nextID
	r.nextID++
	r.portals = append(r.portals, p)
	return p, nil
}

// Get returns the portal with the given id.
func (r *Registry) Get(id uint) (core.Portal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := sort.Search(len(r.portals), func(i int) bool { return r.portals[i].ID >= id })
	if i < len(r.portals) && r.portals[i].ID == id {
		return r.portals[i], nil
	}
	return core.Portal{}, fmt.Errorf("portal %d: %w", id, ErrNotFound)
}

// All returns every portal in creation order.
func (r *Registry) All() []core.Portal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Portal, len(r.portals))
	copy(out, r.portals)
	return out
}

// ByPlayer returns the portals owned by player.
func (r *Registry) ByPlayer(player core.Player) []core.Portal {
	return r.filter(func(p core.Portal) bool { return p.Player == player })
}

// ActiveAt returns the portals with at least one endpoint open at tick.
func (r *Registry) ActiveAt(tick core.TimeIndex) []core.Portal {
	return r.filter(func(p core.Portal) bool { return p.Origin.OpenAt(tick) || p.Dest.OpenAt(tick) })
}

// Len returns the number of portals.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.portals)
}

// Reset forgets every portal and restarts id assignment.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.portals = nil
	r.nextID = 1
}

func (r *Registry) filter(keep func(core.Portal) bool) []core.Portal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.Portal
	for _, p := range r.portals {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
