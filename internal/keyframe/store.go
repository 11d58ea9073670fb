// Package keyframe holds the sparse, append-only cache of computed keyframes.
package keyframe

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chronoportal/server/pkg/core"
)

var (
	// ErrAlreadyBootstrapped is returned by Bootstrap when the store already holds history.
	ErrAlreadyBootstrapped = errors.New("keyframe store already bootstrapped")
	// ErrNoAnchor is returned when a query precedes every stored tick.
	ErrNoAnchor = errors.New("no keyframe at or before requested tick")
	// ErrNonMonotonicInsert is returned when a tick is inserted twice with different contents.
	ErrNonMonotonicInsert = errors.New("conflicting keyframe for already stored tick")
	// ErrNotFound is returned by Get for a tick that is not stored.
	ErrNotFound = errors.New("keyframe not found")
)

// InsertHook is called after a keyframe has been added to the store.
type InsertHook func(tick core.TimeIndex, kf *core.Keyframe)

// Store maps ticks to keyframes. Entries are never removed or replaced;
// readers share the stored *core.Keyframe values directly.
type Store struct {
	mu     sync.RWMutex
	ticks  []core.TimeIndex // sorted ascending
	frames map[core.TimeIndex]*core.Keyframe
	hooks  []InsertHook
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		frames: make(map[core.TimeIndex]*core.Keyframe),
	}
}

// OnInsert registers a hook run after every successful insert, outside the store lock.
func (s *Store) OnInsert(h InsertHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Bootstrap seeds an empty store with its first keyframe.
func (s *Store) Bootstrap(tick core.TimeIndex, kf *core.Keyframe) error {
	s.mu.Lock()
	if len(s.ticks) > 0 {
		s.mu.Unlock()
		return ErrAlreadyBootstrapped
	}
	s.put(tick, kf)
	hooks := s.hooks
	s.mu.Unlock()

	s.notify(hooks, tick, kf)
	return nil
}

// Reseed discards all history and seeds the store again. It is the only
// operation that drops entries and is meant for starting a new game.
func (s *Store) Reseed(tick core.TimeIndex, kf *core.Keyframe) {
	s.mu.Lock()
	s.ticks = s.ticks[:0]
	s.frames = make(map[core.TimeIndex]*core.Keyframe)
	s.put(tick, kf)
	hooks := s.hooks
	s.mu.Unlock()

	s.notify(hooks, tick, kf)
}

// ClosestAtOrBefore returns the entry with the greatest tick <= target.
func (s *Store) ClosestAtOrBefore(target core.TimeIndex) (core.TimeIndex, *core.Keyframe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// first index with tick > target
	i := sort.Search(len(s.ticks), func(i int) bool { return s.ticks[i] > target })
	if i == 0 {
		return 0, nil, fmt.Errorf("tick %d: %w", target, ErrNoAnchor)
	}
	tick := s.ticks[i-1]
	return tick, s.frames[tick], nil
}

// Insert adds a keyframe. Inserting an equal keyframe for a stored tick is a no-op.
func (s *Store) Insert(tick core.TimeIndex, kf *core.Keyframe) error {
	s.mu.Lock()
	if existing, ok := s.frames[tick]; ok {
		s.mu.Unlock()
		if existing.Equal(kf) {
			return nil
		}
		return fmt.Errorf("tick %d: %w", tick, ErrNonMonotonicInsert)
	}
	s.put(tick, kf)
	hooks := s.hooks
	s.mu.Unlock()

	s.notify(hooks, tick, kf)
	return nil
}

// Get returns the keyframe stored at exactly tick.
func (s *Store) Get(tick core.TimeIndex) (*core.Keyframe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kf, ok := s.frames[tick]
	if !ok {
		return nil, fmt.Errorf("tick %d: %w", tick, ErrNotFound)
	}
	return kf, nil
}

// Len returns the number of stored keyframes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ticks)
}

// Latest returns the highest stored tick. ok is false for an empty store.
func (s *Store) Latest() (tick core.TimeIndex, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ticks) == 0 {
		return 0, false
	}
	return s.ticks[len(s.ticks)-1], true
}

// Ticks returns every stored tick in ascending order.
func (s *Store) Ticks() []core.TimeIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.TimeIndex, len(s.ticks))
	copy(out, s.ticks)
	return out
}

// Range calls fn for each stored tick in [from, to] in ascending order.
// Iteration stops early when fn returns false.
func (s *Store) Range(from, to core.TimeIndex, fn func(tick core.TimeIndex, kf *core.Keyframe) bool) {
	s.mu.RLock()
	start := sort.Search(len(s.ticks), func(i int) bool { return s.ticks[i] >= from })
	var ticks []core.TimeIndex
	var frames []*core.Keyframe
	for _, t := range s.ticks[start:] {
		if t > to {
			break
		}
		ticks = append(ticks, t)
		frames = append(frames, s.frames[t])
	}
	s.mu.RUnlock()

	for i, t := range ticks {
		if !fn(t, frames[i]) {
			return
		}
	}
}

// put must be called with the write lock held.
func (s *Store) put(tick core.TimeIndex, kf *core.Keyframe) {
	s.frames[tick] = kf
	n := len(s.ticks)
	if n == 0 || s.ticks[n-1] < tick {
		s.ticks = append(s.ticks, tick)
		return
	}
	i := sort.Search(n, func(i int) bool { return s.ticks[i] > tick })
	s.ticks = append(s.ticks, 0)
	copy(s.ticks[i+1:], s.ticks[i:])
	s.ticks[i] = tick
}

func (s *Store) notify(hooks []InsertHook, tick core.TimeIndex, kf *core.Keyframe) {
	for _, h := range hooks {
		h(tick, kf)
	}
}
